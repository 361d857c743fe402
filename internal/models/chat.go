package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatMessage is one entry in the append-only conversation log between two
// users. Rows are only ever mutated to flip IsRead.
type ChatMessage struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	SenderID   string `gorm:"not null;index:idx_chat_pair" json:"sender_id"`
	Sender     User   `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	ReceiverID string `gorm:"not null;index:idx_chat_pair" json:"receiver_id"`
	Receiver   User   `gorm:"foreignKey:ReceiverID" json:"receiver,omitempty"`

	Content       string `gorm:"type:text;not null" json:"content"`
	AttachmentURL string `json:"attachment_url,omitempty"`

	IsRead bool `gorm:"default:false;index" json:"is_read"`

	CreatedAt time.Time `json:"created_at"`
}

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
