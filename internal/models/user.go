package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User represents a Lumeo account.
type User struct {
	ID       string  `gorm:"primaryKey;type:uuid" json:"id"`
	Email    string  `gorm:"uniqueIndex;not null" json:"email"`
	// Username is nil until the one-time profile setup completes; a pointer
	// keeps the unique index happy across many un-set accounts.
	Username *string `gorm:"uniqueIndex" json:"username"`

	DisplayName string `gorm:"not null;default:''" json:"display_name"`
	Bio         string `gorm:"type:text" json:"bio"`
	AvatarURL   string `json:"avatar_url"`

	// Native auth
	PasswordHash   string     `gorm:"type:text" json:"-"`
	ProfileSetupAt *time.Time `json:"profile_setup_at"`

	// Cached social stats, refreshed on write paths. Not the source of truth.
	PostCount       int `gorm:"default:0" json:"post_count"`
	ConnectionCount int `gorm:"default:0" json:"connection_count"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate assigns a UUID primary key when none was provided.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// HasCompletedSetup reports whether the one-time username setup was done.
func (u *User) HasCompletedSetup() bool {
	return u.Username != nil && *u.Username != "" && u.ProfileSetupAt != nil
}
