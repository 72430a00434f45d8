package database

import (
	"errors"
	"time"

	"github.com/RiverbendLabs/coursepulse/internal/progress"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillLastWatched = "2026-06-18_backfill_checkpoint_last_watched"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillLastWatched, apply: backfillCheckpointLastWatched},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillCheckpointLastWatched repairs rows written before last_watched_at
// was recorded.
func backfillCheckpointLastWatched(db *gorm.DB) error {
	return db.Model(&progress.Checkpoint{}).
		Where("last_watched_at IS NULL OR last_watched_at = ?", time.Time{}).
		Update("last_watched_at", time.Now().UTC()).Error
}
