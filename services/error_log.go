package services

import (
	"context"
	"log/slog"

	"github.com/krshsl/mockmate/llm"
	"github.com/krshsl/mockmate/models"
	"github.com/krshsl/mockmate/repository"
)

// ErrorLog appends failure records to the error_logs table. Writes are best effort:
// a failed insert is reported through slog and never fails the caller.
type ErrorLog struct {
	repo *repository.GORMRepository
}

func NewErrorLog(repo *repository.GORMRepository) *ErrorLog {
	return &ErrorLog{repo: repo}
}

// Record stores one entry; sessionID may be empty for process-level failures
func (l *ErrorLog) Record(ctx context.Context, sessionID string, level models.LogLevel, message, code string, retries int) {
	entry := &models.ErrorLogEntry{
		Level:      level,
		Message:    message,
		ErrorCode:  code,
		RetryCount: retries,
	}
	if sessionID != "" {
		entry.SessionID = &sessionID
	}
	if err := l.repo.CreateErrorLog(context.WithoutCancel(ctx), entry); err != nil {
		slog.Error("Failed to record error log entry", "session_id", sessionID, "level", level, "message", message, "error", err)
	}
}

// ProviderFailure records an exhausted provider call at ERROR
func (l *ErrorLog) ProviderFailure(ctx context.Context, sessionID, phase string, err error, attempts int) {
	l.Record(ctx, sessionID, models.LevelError, phase+": "+err.Error(), llm.ErrorCode(err), attempts)
}

// List returns recent entries matching filter
func (l *ErrorLog) List(ctx context.Context, filter repository.ErrorLogFilter) ([]models.ErrorLogEntry, error) {
	return l.repo.ListErrorLogs(ctx, filter)
}
