package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/krshsl/mockmate/models"
	"gorm.io/gorm"
)

// ConversationRepository owns the interview transcript
type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// appendMessage assigns the next sequence number for the session and inserts msg.
// Must run inside a transaction; the unique (session_id, sequence) index rejects
// any duplicate that slips past a concurrent writer.
func appendMessage(tx *gorm.DB, msg *models.Message) error {
	var maxSequence int
	if err := tx.Model(&models.Message{}).
		Where("session_id = ?", msg.SessionID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&maxSequence).Error; err != nil {
		return fmt.Errorf("failed to read message sequence: %w", err)
	}
	msg.Sequence = maxSequence + 1
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := tx.Create(msg).Error; err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// AppendMessage saves a message at the end of its session transcript
func (r *ConversationRepository) AppendMessage(ctx context.Context, message *models.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return appendMessage(tx, message)
	})
	if err != nil {
		slog.Error("Failed to save message", "error", err, "session_id", message.SessionID)
		return err
	}

	slog.Debug("Message saved", "message_id", message.ID, "session_id", message.SessionID, "sequence", message.Sequence)
	return nil
}

// GetMessagesBySession retrieves all messages for a specific session in sequence order
func (r *ConversationRepository) GetMessagesBySession(ctx context.Context, sessionID string) ([]models.Message, error) {
	var messages []models.Message

	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence ASC").
		Find(&messages).Error; err != nil {
		slog.Error("Failed to get messages by session", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to get messages by session: %w", err)
	}

	return messages, nil
}

// GetConversationHistory retrieves the last limit messages of a session, oldest first
func (r *ConversationRepository) GetConversationHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	var messages []models.Message

	query := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&messages).Error; err != nil {
		slog.Error("Failed to get conversation history", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GetLastMessage returns the newest message of a session, or nil when there is none
func (r *ConversationRepository) GetLastMessage(ctx context.Context, sessionID string, role models.MessageRole) (*models.Message, error) {
	var message models.Message

	if err := r.db.WithContext(ctx).
		Where("session_id = ? AND role = ?", sessionID, role).
		Order("sequence DESC").
		First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get last message", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to get last message: %w", err)
	}

	return &message, nil
}

// GetSessionStats returns interview statistics for a user
func (r *ConversationRepository) GetSessionStats(ctx context.Context, userID string) (*models.SessionStats, error) {
	var stats models.SessionStats
	sessions := r.db.WithContext(ctx).Model(&models.InterviewSession{}).Where("user_id = ?", userID)

	// Get total sessions count
	if err := sessions.Session(&gorm.Session{}).Count(&stats.TotalSessions).Error; err != nil {
		slog.Error("Failed to get total sessions count", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to get total sessions count: %w", err)
	}

	if err := sessions.Session(&gorm.Session{}).
		Where("status = ?", models.StatusCompleted).
		Count(&stats.CompletedSessions).Error; err != nil {
		slog.Error("Failed to get completed sessions count", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to get completed sessions count: %w", err)
	}

	if err := sessions.Session(&gorm.Session{}).
		Where("status = ?", models.StatusInProgress).
		Count(&stats.InProgressSessions).Error; err != nil {
		slog.Error("Failed to get in-progress sessions count", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to get in-progress sessions count: %w", err)
	}

	// Get answers count
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Joins("JOIN interview_sessions ON interview_sessions.id = messages.session_id").
		Where("interview_sessions.user_id = ? AND messages.role = ?", userID, models.RoleUser).
		Count(&stats.TotalAnswers).Error; err != nil {
		slog.Error("Failed to get answers count", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to get answers count: %w", err)
	}

	// Placeholder reports carry a neutral score and are left out of the average
	var average sql.NullFloat64
	if err := r.db.WithContext(ctx).
		Model(&models.Report{}).
		Select("AVG(reports.overall_score)").
		Joins("JOIN interview_sessions ON interview_sessions.id = reports.session_id").
		Where("interview_sessions.user_id = ? AND reports.is_placeholder = ?", userID, false).
		Row().Scan(&average); err != nil {
		slog.Error("Failed to get average score", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to get average score: %w", err)
	}
	if average.Valid {
		stats.AverageScore = &average.Float64
	}

	// Get last activity
	var last models.InterviewSession
	if err := sessions.Session(&gorm.Session{}).
		Order("last_activity_at DESC").
		First(&last).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Error("Failed to get last activity", "error", err, "user_id", userID)
			return nil, fmt.Errorf("failed to get last activity: %w", err)
		}
		// No sessions found, last activity is nil
	} else {
		stats.LastActivity = &last.LastActivityAt
	}

	slog.Info("Session stats retrieved", "user_id", userID, "total_sessions", stats.TotalSessions)
	return &stats, nil
}
