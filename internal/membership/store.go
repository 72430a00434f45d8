package membership

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("membership: database handle is required")

// Store reads enrollment rows from the relational store.
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

// ListForUser returns all (batch, subject) pairs the user is enrolled in.
// No rows is a valid empty result, not an error.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]Entry, error) {
	var rows []Enrollment
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{BatchName: row.BatchName, SubjectName: row.SubjectName})
	}
	return entries, nil
}
