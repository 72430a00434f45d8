package progress

import "time"

// Checkpoint records how far a user has watched a resource. One logical row
// per (user, resource) pair, mutated by upsert; retention is owned elsewhere.
type Checkpoint struct {
	UserID          string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	ResourceID      string    `gorm:"column:resource_id;primaryKey;size:190;not null"`
	PositionSeconds float64   `gorm:"column:position_s;not null"`
	DurationSeconds float64   `gorm:"column:duration_s;not null"`
	LastWatchedAt   time.Time `gorm:"column:last_watched_at;not null"`
}

// TableName exposes the table backing progress checkpoints.
func (Checkpoint) TableName() string {
	return "progress_checkpoints"
}
