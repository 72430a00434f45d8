package users

import (
	"strings"
	"time"
)

// Profile captures the display attributes of a platform user.
type Profile struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Email       string    `gorm:"column:email;size:320"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user profiles.
func (Profile) TableName() string {
	return "user_profiles"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
