package progress

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("progress: database handle is required")

// Store persists checkpoints in the relational store.
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

// Upsert writes the checkpoint, replacing any existing row for the same
// (user, resource) pair.
func (s *Store) Upsert(ctx context.Context, checkpoint Checkpoint) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "resource_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"position_s", "duration_s", "last_watched_at",
			}),
		}).
		Create(&checkpoint).
		Error
}

// Find returns the checkpoint for the pair. A missing row is a valid default,
// reported via the boolean, not an error.
func (s *Store) Find(ctx context.Context, userID, resourceID string) (Checkpoint, bool, error) {
	var checkpoint Checkpoint
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND resource_id = ?", userID, resourceID).
		Take(&checkpoint).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, err
	}
	return checkpoint, true, nil
}
