package merge

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("merge: database handle is required")

// Store queries the merge relation persisted in the relational store.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a Store.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: db}, nil
}

// ListMerged returns every pair transitively merged with the input, the input
// included. An empty result means the pair has no recorded merges.
func (s *Store) ListMerged(ctx context.Context, batchName, subjectName string) ([]Pair, error) {
	var groupIDs []string
	err := s.db.WithContext(ctx).
		Model(&Member{}).
		Where("batch_name = ? AND subject_name = ?", batchName, subjectName).
		Pluck("group_id", &groupIDs).
		Error
	if err != nil {
		return nil, err
	}
	if len(groupIDs) == 0 {
		return nil, nil
	}

	var rows []Member
	err = s.db.WithContext(ctx).
		Where("group_id IN ?", groupIDs).
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}

	pairs := make([]Pair, 0, len(rows))
	for _, row := range rows {
		pairs = append(pairs, Pair{BatchName: row.BatchName, SubjectName: row.SubjectName})
	}
	return pairs, nil
}
