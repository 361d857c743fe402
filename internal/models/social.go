package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConnectionStatus is the lifecycle state of a directed connection edge.
type ConnectionStatus string

const (
	ConnectionStatusPending  ConnectionStatus = "pending"
	ConnectionStatusAccepted ConnectionStatus = "accepted"
	ConnectionStatusRejected ConnectionStatus = "rejected"
)

// Connection is a directed edge in the follow graph. At most one row exists
// per ordered (follower, following) pair. A mutual accepted pair is produced
// by accepting a pending request, which also creates the mirror edge.
type Connection struct {
	ID          string           `gorm:"primaryKey;type:uuid" json:"id"`
	FollowerID  string           `gorm:"not null;index:idx_connections_pair,unique" json:"follower_id"`
	Follower    User             `gorm:"foreignKey:FollowerID" json:"follower,omitempty"`
	FollowingID string           `gorm:"not null;index:idx_connections_pair,unique" json:"following_id"`
	Following   User             `gorm:"foreignKey:FollowingID" json:"following,omitempty"`
	Status      ConnectionStatus `gorm:"not null;default:'pending';size:20" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Connection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
