package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/krshsl/mockmate/models"
	"github.com/krshsl/mockmate/repository"
	"github.com/robfig/cron/v3"
)

const (
	DefaultTimeout       = 30 * time.Minute
	DefaultSweepSchedule = "@every 1m"
)

// SessionTimeoutService expires idle IN_PROGRESS sessions and backfills missing
// or placeholder reports for completed ones.
type SessionTimeoutService struct {
	repo     *repository.GORMRepository
	store    *SessionStore
	reports  *ReportGenerator
	errorLog *ErrorLog
	events   EventPublisher
	timeout  time.Duration
	schedule string
	cron     *cron.Cron
	now      func() time.Time
}

func NewSessionTimeoutService(
	repo *repository.GORMRepository,
	store *SessionStore,
	reports *ReportGenerator,
	errorLog *ErrorLog,
	events EventPublisher,
	timeout time.Duration,
	schedule string,
) *SessionTimeoutService {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if events == nil {
		events = noopPublisher{}
	}
	return &SessionTimeoutService{
		repo:     repo,
		store:    store,
		reports:  reports,
		errorLog: errorLog,
		events:   events,
		timeout:  timeout,
		schedule: schedule,
		cron:     cron.New(),
		now:      time.Now,
	}
}

// Start schedules the sweep and begins running it in the background
func (s *SessionTimeoutService) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.Sweep(ctx); err != nil {
			slog.Error("Session sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}
	s.cron.Start()
	slog.Info("Session timeout checker started", "schedule", s.schedule, "idle_timeout", s.timeout)
	return nil
}

// Schedule runs fn on the sweeper's cron alongside the session sweep
func (s *SessionTimeoutService) Schedule(spec, name string, fn func()) error {
	if _, err := s.cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish
func (s *SessionTimeoutService) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("Session timeout checker stopped")
}

// Sweep runs one pass: time out idle sessions, then schedule missing reports
func (s *SessionTimeoutService) Sweep(ctx context.Context) error {
	cutoff := s.now().Add(-s.timeout)
	idle, err := s.repo.FindIdleSessions(ctx, models.StatusInProgress, cutoff)
	if err != nil {
		return fmt.Errorf("failed to find idle sessions: %w", err)
	}
	for _, session := range idle {
		s.timeoutSession(ctx, session)
	}

	if s.reports == nil {
		return nil
	}
	pending, err := s.repo.FindSessionsNeedingReport(ctx, MaxReportAttempts)
	if err != nil {
		return fmt.Errorf("failed to find sessions needing a report: %w", err)
	}
	for _, session := range pending {
		if s.reports.InFlight(session.ID) {
			continue
		}
		slog.Info("Backfilling report", "session_id", session.ID)
		sweptSessionsTotal.WithLabelValues("report_backfill").Inc()
		s.reports.Trigger(session.ID)
	}
	return nil
}

func (s *SessionTimeoutService) timeoutSession(ctx context.Context, session models.InterviewSession) {
	if !session.Status.CanTransition(models.StatusTimeout) {
		return
	}
	index := session.CurrentQuestionIndex
	err := s.store.UpdateIf(ctx, session.ID, repository.SessionExpectation{
		Status:        models.StatusInProgress,
		QuestionIndex: &index,
	}, map[string]interface{}{
		"status":            models.StatusTimeout,
		"awaiting_question": false,
	})
	if errors.Is(err, repository.ErrStaleSession) {
		// The candidate answered while the sweep was running
		return
	}
	if err != nil {
		slog.Error("Failed to time out session", "session_id", session.ID, "error", err)
		return
	}

	inactive := s.now().Sub(session.LastActivityAt).Round(time.Second)
	slog.Info("Session timed out", "session_id", session.ID, "inactive_duration", inactive)
	s.errorLog.Record(ctx, session.ID, models.LevelWarn, fmt.Sprintf("session timed out after %s of inactivity", inactive), "SESSION_TIMEOUT", 0)
	sweptSessionsTotal.WithLabelValues("timeout").Inc()
	s.events.PublishToSession(session.ID, EventTimeout, map[string]interface{}{
		"current_question_index": index,
		"total_questions":        session.TotalQuestions,
	})
}
