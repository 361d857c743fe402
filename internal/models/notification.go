package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notification types written by the post/connection write paths.
const (
	NotificationTypeLike               = "like"
	NotificationTypeComment            = "comment"
	NotificationTypeSave               = "save"
	NotificationTypeShare              = "share"
	NotificationTypeConnectionRequest  = "connection_request"
	NotificationTypeConnectionAccepted = "connection_accepted"
)

// Notification is a durable record of a social event addressed to a user.
// The realtime envelope for the same event is advisory only; this row is the
// source of truth consumed via polling.
type Notification struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID     string `gorm:"not null;index" json:"user_id"`
	FromUserID string `gorm:"not null" json:"from_user_id"`
	FromUser   User   `gorm:"foreignKey:FromUserID" json:"from_user,omitempty"`

	Type     string `gorm:"not null;size:30;index" json:"type"`
	EntityID string `json:"entity_id,omitempty"`

	IsRead bool `gorm:"default:false;index" json:"is_read"`

	CreatedAt time.Time `json:"created_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
