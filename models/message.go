package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is one immutable turn of the interview transcript
type Message struct {
	ID             string      `json:"id" gorm:"type:varchar(36);primaryKey"`
	SessionID      string      `json:"session_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_messages_session_sequence,priority:1"`
	Sequence       int         `json:"sequence" gorm:"not null;uniqueIndex:idx_messages_session_sequence,priority:2"`
	Role           MessageRole `json:"role" gorm:"type:varchar(10);not null;check:role IN ('AI', 'USER')"`
	Content        string      `json:"content" gorm:"type:text;not null"`
	TopicTag       *string     `json:"topic_tag,omitempty" gorm:"type:varchar(100)"`
	ContextSummary *string     `json:"context_summary,omitempty" gorm:"type:text"`
	CreatedAt      time.Time   `json:"created_at" gorm:"not null"`
}

// TableName returns the table name for the Message model
func (Message) TableName() string {
	return "messages"
}

// BeforeCreate hook to set the ID if not provided
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// SessionStats represents aggregated interview statistics for a user
type SessionStats struct {
	TotalSessions      int64      `json:"total_sessions"`
	CompletedSessions  int64      `json:"completed_sessions"`
	InProgressSessions int64      `json:"in_progress_sessions"`
	TotalAnswers       int64      `json:"total_answers"`
	AverageScore       *float64   `json:"average_score"`
	LastActivity       *time.Time `json:"last_activity"`
}
