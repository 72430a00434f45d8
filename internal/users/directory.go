package users

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// Directory resolves user identifiers to display names, caching lookups for
// the process lifetime. Resolution is best effort: any failure falls back to
// the raw identifier so callers can always render something.
type Directory struct {
	db    *gorm.DB
	cache sync.Map
}

// NewDirectory constructs a Directory over the profile table.
func NewDirectory(db *gorm.DB) (*Directory, error) {
	if db == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	return &Directory{db: db}, nil
}

// DisplayName returns the user's display name, or the identifier itself when
// no profile row exists or the lookup fails.
func (d *Directory) DisplayName(ctx context.Context, userID string) string {
	if normalize(userID) == "" {
		return userID
	}

	if cached, ok := d.cache.Load(userID); ok {
		if name, ok := cached.(string); ok {
			return name
		}
	}

	var profile Profile
	err := d.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&profile).
		Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return userID
		}
		// Absent profiles are expected for freshly provisioned users;
		// cache the fallback to avoid repeated lookups.
		d.cache.Store(userID, userID)
		return userID
	}

	name := normalize(profile.DisplayName)
	if name == "" {
		name = userID
	}
	d.cache.Store(userID, name)
	return name
}

// Upsert records or updates a profile row. Used by provisioning flows and by
// tests seeding the directory.
func (d *Directory) Upsert(ctx context.Context, profile Profile) error {
	if normalize(profile.UserID) == "" {
		return fmt.Errorf("users: user id required")
	}
	err := d.db.WithContext(ctx).Save(&profile).Error
	if err != nil {
		return err
	}
	d.cache.Delete(profile.UserID)
	return nil
}
