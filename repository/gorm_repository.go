package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/krshsl/mockmate/models"
	"gorm.io/gorm"
)

// ErrStaleSession is returned when a conditional session update matched no row
var ErrStaleSession = errors.New("session state changed concurrently")

// ErrSessionNotFound is returned by updates addressed to a missing session
var ErrSessionNotFound = errors.New("session not found")

type GORMRepository struct {
	db *gorm.DB
}

func NewGORMRepository(db *gorm.DB) *GORMRepository {
	return &GORMRepository{db: db}
}

// AutoMigrate runs database migrations
func (r *GORMRepository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.InterviewSession{},
		&models.Message{},
		&models.Report{},
		&models.ErrorLogEntry{},
		&models.PromptTemplate{},
	)
}

// User operations
func (r *GORMRepository) CreateUser(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		slog.Error("Failed to create user", "error", err)
		return err
	}
	slog.Info("User created", "user_id", user.ID, "email", user.Email)
	return nil
}

func (r *GORMRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get user by email", "error", err, "email", email)
		return nil, err
	}
	return &user, nil
}

func (r *GORMRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get user by ID", "error", err, "user_id", id)
		return nil, err
	}
	return &user, nil
}

// Token operations
func (r *GORMRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		slog.Error("Failed to create refresh token", "error", err)
		return err
	}
	return nil
}

func (r *GORMRepository) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var refreshToken models.RefreshToken
	if err := r.db.WithContext(ctx).Where("token = ? AND expires_at > ?", token, time.Now()).First(&refreshToken).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get refresh token", "error", err)
		return nil, err
	}
	return &refreshToken, nil
}

func (r *GORMRepository) DeleteRefreshToken(ctx context.Context, token string) error {
	if err := r.db.WithContext(ctx).Where("token = ?", token).Delete(&models.RefreshToken{}).Error; err != nil {
		slog.Error("Failed to delete refresh token", "error", err)
		return err
	}
	return nil
}

func (r *GORMRepository) DeleteAllUserTokens(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error; err != nil {
		slog.Error("Failed to delete user refresh tokens", "error", err, "user_id", userID)
		return err
	}
	return nil
}

// Interview session operations

func (r *GORMRepository) CreateInterviewSession(ctx context.Context, session *models.InterviewSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		slog.Error("Failed to create interview session", "error", err)
		return err
	}
	return nil
}

// GetInterviewSession gets an interview session by ID without user check
func (r *GORMRepository) GetInterviewSession(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	var session models.InterviewSession
	err := r.db.WithContext(ctx).
		Where("id = ?", sessionID).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get interview session", "error", err, "session_id", sessionID)
		return nil, err
	}
	return &session, nil
}

func (r *GORMRepository) GetInterviewSessions(ctx context.Context, userID string) ([]models.InterviewSession, error) {
	var sessions []models.InterviewSession
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		slog.Error("Failed to get interview sessions", "error", err, "user_id", userID)
		return nil, err
	}
	return sessions, nil
}

// UpdateInterviewSession applies updates unconditionally
func (r *GORMRepository) UpdateInterviewSession(ctx context.Context, sessionID string, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&models.InterviewSession{}).
		Where("id = ?", sessionID).
		Updates(updates)
	if result.Error != nil {
		slog.Error("Failed to update interview session", "error", result.Error, "session_id", sessionID)
		return fmt.Errorf("failed to update interview session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// SessionExpectation is the prior state a conditional update must observe.
// Nil pointers are not checked.
type SessionExpectation struct {
	Status           models.SessionStatus
	QuestionIndex    *int
	AwaitingQuestion *bool
}

func (e SessionExpectation) apply(tx *gorm.DB, sessionID string) *gorm.DB {
	q := tx.Model(&models.InterviewSession{}).Where("id = ? AND status = ?", sessionID, e.Status)
	if e.QuestionIndex != nil {
		q = q.Where("current_question_index = ?", *e.QuestionIndex)
	}
	if e.AwaitingQuestion != nil {
		q = q.Where("awaiting_question = ?", *e.AwaitingQuestion)
	}
	return q
}

// UpdateSessionIf applies updates only when the row still matches expect.
// It returns ErrStaleSession when another transition got there first.
func (r *GORMRepository) UpdateSessionIf(ctx context.Context, sessionID string, expect SessionExpectation, updates map[string]interface{}) error {
	result := expect.apply(r.db.WithContext(ctx), sessionID).Updates(updates)
	if result.Error != nil {
		slog.Error("Failed to update interview session", "error", result.Error, "session_id", sessionID)
		return fmt.Errorf("failed to update interview session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleSession
	}
	return nil
}

// TransitionWithMessage performs a conditional session update and appends msg
// in one transaction. The message sequence is allocated inside the transaction.
func (r *GORMRepository) TransitionWithMessage(ctx context.Context, sessionID string, expect SessionExpectation, updates map[string]interface{}, msg *models.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := expect.apply(tx, sessionID).Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to update interview session: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrStaleSession
		}
		msg.SessionID = sessionID
		return appendMessage(tx, msg)
	})
}

// IncrementErrorCount bumps the per-session provider failure counter
func (r *GORMRepository) IncrementErrorCount(ctx context.Context, sessionID string) error {
	if err := r.db.WithContext(ctx).
		Model(&models.InterviewSession{}).
		Where("id = ?", sessionID).
		UpdateColumn("error_count", gorm.Expr("error_count + ?", 1)).Error; err != nil {
		slog.Error("Failed to increment error count", "error", err, "session_id", sessionID)
		return err
	}
	return nil
}

// DeleteInterviewSession removes the session with its messages and report.
// Error log entries are kept.
func (r *GORMRepository) DeleteInterviewSession(ctx context.Context, sessionID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.Report{}).Error; err != nil {
			return fmt.Errorf("failed to delete report: %w", err)
		}
		result := tx.Where("id = ?", sessionID).Delete(&models.InterviewSession{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete session: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			slog.Error("Failed to delete interview session", "error", err, "session_id", sessionID)
		}
		return err
	}
	slog.Info("Interview session deleted", "session_id", sessionID)
	return nil
}

// FindIdleSessions returns sessions in status whose last activity is before cutoff
func (r *GORMRepository) FindIdleSessions(ctx context.Context, status models.SessionStatus, cutoff time.Time) ([]models.InterviewSession, error) {
	var sessions []models.InterviewSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND last_activity_at < ?", status, cutoff).
		Find(&sessions).Error
	if err != nil {
		slog.Error("Failed to find idle sessions", "error", err, "status", status)
		return nil, err
	}
	return sessions, nil
}

// FindSessionsNeedingReport returns completed sessions with no report, or with a
// placeholder report that has been attempted fewer than maxAttempts times.
func (r *GORMRepository) FindSessionsNeedingReport(ctx context.Context, maxAttempts int) ([]models.InterviewSession, error) {
	var sessions []models.InterviewSession
	err := r.db.WithContext(ctx).
		Model(&models.InterviewSession{}).
		Joins("LEFT JOIN reports ON reports.session_id = interview_sessions.id").
		Where("interview_sessions.status = ?", models.StatusCompleted).
		Where("reports.id IS NULL OR (reports.is_placeholder = ? AND reports.attempts < ?)", true, maxAttempts).
		Find(&sessions).Error
	if err != nil {
		slog.Error("Failed to find sessions needing report", "error", err)
		return nil, err
	}
	return sessions, nil
}

// Report operations

// UpsertReport writes the single report for a session, overwriting any previous one
func (r *GORMRepository) UpsertReport(ctx context.Context, report *models.Report) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Report
		err := tx.Where("session_id = ?", report.SessionID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(report).Error
		case err != nil:
			return err
		}
		report.ID = existing.ID
		report.CreatedAt = existing.CreatedAt
		return tx.Save(report).Error
	})
	if err != nil {
		slog.Error("Failed to save report", "error", err, "session_id", report.SessionID)
		return fmt.Errorf("failed to save report: %w", err)
	}
	slog.Info("Report saved", "session_id", report.SessionID, "placeholder", report.IsPlaceholder, "attempts", report.Attempts)
	return nil
}

func (r *GORMRepository) GetReport(ctx context.Context, sessionID string) (*models.Report, error) {
	var report models.Report
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get report", "error", err, "session_id", sessionID)
		return nil, err
	}
	return &report, nil
}

// Error log operations

func (r *GORMRepository) CreateErrorLog(ctx context.Context, entry *models.ErrorLogEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		slog.Error("Failed to create error log entry", "error", err)
		return err
	}
	return nil
}

// ErrorLogFilter narrows ListErrorLogs; zero values match everything
type ErrorLogFilter struct {
	SessionID string
	Level     models.LogLevel
	Limit     int
}

func (r *GORMRepository) ListErrorLogs(ctx context.Context, filter ErrorLogFilter) ([]models.ErrorLogEntry, error) {
	var entries []models.ErrorLogEntry
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if filter.SessionID != "" {
		query = query.Where("session_id = ?", filter.SessionID)
	}
	if filter.Level != "" {
		query = query.Where("level = ?", filter.Level)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if err := query.Limit(limit).Find(&entries).Error; err != nil {
		slog.Error("Failed to list error logs", "error", err)
		return nil, err
	}
	return entries, nil
}

// Prompt template operations

func (r *GORMRepository) ListPromptTemplates(ctx context.Context) ([]models.PromptTemplate, error) {
	var templates []models.PromptTemplate
	if err := r.db.WithContext(ctx).Order("key").Find(&templates).Error; err != nil {
		slog.Error("Failed to list prompt templates", "error", err)
		return nil, err
	}
	return templates, nil
}

// GetActivePromptTemplate returns the active template for a phase key, or nil
func (r *GORMRepository) GetActivePromptTemplate(ctx context.Context, key string) (*models.PromptTemplate, error) {
	var template models.PromptTemplate
	err := r.db.WithContext(ctx).Where("key = ? AND is_active = ?", key, true).First(&template).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get prompt template", "error", err, "key", key)
		return nil, err
	}
	return &template, nil
}

func (r *GORMRepository) GetPromptTemplate(ctx context.Context, id string) (*models.PromptTemplate, error) {
	var template models.PromptTemplate
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&template).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get prompt template", "error", err, "template_id", id)
		return nil, err
	}
	return &template, nil
}

func (r *GORMRepository) UpdatePromptTemplate(ctx context.Context, template *models.PromptTemplate) error {
	if err := r.db.WithContext(ctx).Save(template).Error; err != nil {
		slog.Error("Failed to update prompt template", "error", err, "template_id", template.ID)
		return err
	}
	slog.Info("Prompt template updated", "template_id", template.ID, "key", template.Key, "version", template.Version)
	return nil
}

// EnsurePromptTemplate creates the template when its key does not exist yet
func (r *GORMRepository) EnsurePromptTemplate(ctx context.Context, template *models.PromptTemplate) (bool, error) {
	result := r.db.WithContext(ctx).
		Where(models.PromptTemplate{Key: template.Key}).
		FirstOrCreate(template)
	if result.Error != nil {
		slog.Error("Failed to ensure prompt template", "error", result.Error, "key", template.Key)
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
