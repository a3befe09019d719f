package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrorLogEntry is an append-only failure record. SessionID is a weak reference:
// entries outlive the session they describe.
type ErrorLogEntry struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID  *string   `gorm:"type:varchar(36);index" json:"session_id,omitempty"`
	Level      LogLevel  `gorm:"size:10;not null;index;check:level IN ('INFO', 'WARN', 'ERROR', 'FATAL')" json:"level"`
	Message    string    `gorm:"type:text;not null" json:"message"`
	ErrorCode  string    `gorm:"size:64" json:"error_code,omitempty"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"not null;index" json:"timestamp"`
}

func (ErrorLogEntry) TableName() string {
	return "error_logs"
}

func (e *ErrorLogEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}
