package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AI image generation modes.
const (
	AIImageModeGenerate = "generate"
	AIImageModeEdit     = "edit"
	AIImageModeStyle    = "style"
)

// AI image generation statuses.
const (
	AIImageStatusComplete = "complete"
	AIImageStatusFailed   = "failed"
)

// AIImage records one image-generation request against the external API.
type AIImage struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"not null;index" json:"user_id"`

	Prompt    string `gorm:"type:text;not null" json:"prompt"`
	Mode      string `gorm:"not null;size:20" json:"mode"`
	SourceURL string `json:"source_url,omitempty"`
	ResultURL string `json:"result_url,omitempty"`

	Status string `gorm:"not null;size:20" json:"status"`
	Error  string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (a *AIImage) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
