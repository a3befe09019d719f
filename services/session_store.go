package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/krshsl/mockmate/cache"
	"github.com/krshsl/mockmate/models"
	"github.com/krshsl/mockmate/repository"
)

// DefaultSessionTTL is how long a session snapshot stays in the cache
const DefaultSessionTTL = 2 * time.Hour

// SessionStore is the cache-first read path over interview sessions.
// Every write goes to the database first and then invalidates the cached copy,
// so a cached read never hides a committed transition.
type SessionStore struct {
	repo  *repository.GORMRepository
	cache cache.Cache
	ttl   time.Duration

	// generation is bumped by every invalidation. A fill that raced one is undone.
	generation atomic.Uint64
}

func NewSessionStore(repo *repository.GORMRepository, c cache.Cache, ttl time.Duration) *SessionStore {
	if c == nil {
		c = cache.NewFallback(nil)
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{repo: repo, cache: c, ttl: ttl}
}

func sessionKey(id string) string {
	return cache.SessionPrefix + id
}

// Create persists a new session and returns its id
func (s *SessionStore) Create(ctx context.Context, session *models.InterviewSession) (string, error) {
	if err := s.repo.CreateInterviewSession(ctx, session); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return session.ID, nil
}

// Get returns the session or nil when it does not exist
func (s *SessionStore) Get(ctx context.Context, id string) (*models.InterviewSession, error) {
	var cached models.InterviewSession
	found, err := s.cache.Get(ctx, sessionKey(id), &cached)
	if err != nil {
		slog.Warn("Session cache read failed", "session_id", id, "error", err)
	} else if found {
		return &cached, nil
	}

	gen := s.generation.Load()
	session, err := s.repo.GetInterviewSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	s.fill(ctx, gen, session)
	return session, nil
}

// fill caches a snapshot read at generation gen. When an invalidation ran after
// the read, the snapshot may predate a committed write and is dropped again.
func (s *SessionStore) fill(ctx context.Context, gen uint64, session *models.InterviewSession) {
	if s.generation.Load() != gen {
		return
	}
	key := sessionKey(session.ID)
	if err := s.cache.Set(ctx, key, session, s.ttl); err != nil {
		slog.Warn("Session cache write failed", "session_id", session.ID, "error", err)
	}
	if s.generation.Load() != gen {
		slog.Debug("Dropping session cache fill that raced a write", "session_id", session.ID)
		if err := s.cache.Delete(context.WithoutCancel(ctx), key); err != nil {
			slog.Warn("Session cache invalidation failed", "session_id", session.ID, "error", err)
		}
	}
}

// UpdateIf is the compare-and-swap write used by every transition
func (s *SessionStore) UpdateIf(ctx context.Context, id string, expect repository.SessionExpectation, updates map[string]interface{}) error {
	err := s.repo.UpdateSessionIf(ctx, id, expect, updates)
	s.invalidate(ctx, id)
	return err
}

// UpdateWithMessage commits a conditional update and one transcript message atomically
func (s *SessionStore) UpdateWithMessage(ctx context.Context, id string, expect repository.SessionExpectation, updates map[string]interface{}, msg *models.Message) error {
	err := s.repo.TransitionWithMessage(ctx, id, expect, updates, msg)
	s.invalidate(ctx, id)
	return err
}

// IncrementErrorCount bumps the provider failure counter
func (s *SessionStore) IncrementErrorCount(ctx context.Context, id string) {
	if err := s.repo.IncrementErrorCount(ctx, id); err != nil {
		slog.Warn("Failed to increment session error count", "session_id", id, "error", err)
	}
	s.invalidate(ctx, id)
}

// Delete removes the session, its transcript and report
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	err := s.repo.DeleteInterviewSession(ctx, id)
	s.invalidate(ctx, id)
	return err
}

// List returns the sessions owned by userID, newest first
func (s *SessionStore) List(ctx context.Context, userID string) ([]models.InterviewSession, error) {
	return s.repo.GetInterviewSessions(ctx, userID)
}

func (s *SessionStore) invalidate(ctx context.Context, id string) {
	s.generation.Add(1)
	if err := s.cache.Delete(context.WithoutCancel(ctx), sessionKey(id)); err != nil {
		slog.Warn("Session cache invalidation failed", "session_id", id, "error", err)
	}
}
