package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PromptTemplate holds the editable system instruction for one prompt phase.
// Key is the stable phase identifier (e.g. next_question).
type PromptTemplate struct {
	ID                string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Key               string    `gorm:"size:64;not null;uniqueIndex" json:"key"`
	Name              string    `gorm:"not null" json:"name"`
	Description       string    `gorm:"type:text" json:"description"`
	SystemInstruction string    `gorm:"type:text;not null" json:"system_instruction"`
	Version           int       `gorm:"not null;default:1" json:"version"`
	IsActive          bool      `gorm:"default:true" json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (t *PromptTemplate) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}
