package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/krshsl/mockmate/cache"
	"github.com/krshsl/mockmate/llm"
	"github.com/krshsl/mockmate/models"
	"github.com/krshsl/mockmate/repository"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const validReportJSON = "```json\n" + `{
  "overall_score": 82,
  "overall_summary": "Clear answers with solid depth.",
  "scoring_matrix": {"skill_match": 8, "company_fit": 7, "communication_clarity": 9, "star_method_application": 6},
  "per_question_analysis": [
    {"question": "q", "answer": "a", "feedback_strengths": "s", "feedback_improvements": "i", "suggested_answer": "x"}
  ],
  "final_recommendations": ["Practice system design"]
}` + "\n```"

var errProviderDown = errors.New("upstream unavailable")

// fakeProvider answers by prompt phase, which it recognises from the system instruction
type fakeProvider struct {
	name llm.ProviderName

	mu      sync.Mutex
	calls   map[string]int
	replies map[string]string
	fail    map[string]bool
	block   chan struct{}
}

func newFakeProvider(name llm.ProviderName) *fakeProvider {
	return &fakeProvider{
		name:  name,
		calls: make(map[string]int),
		replies: map[string]string{
			PhaseCompanySummary:    `{"company_name":"Acme","company_summary":"Acme builds rockets.","key_focus_areas":["reliability"]}`,
			PhaseRoleConfirmation:  "I will interview you for a backend role focused on Go. Is that right?",
			PhaseContextCorrection: "Understood, the role is platform focused. Shall we proceed?",
			PhaseNextQuestion:      "**Question 1:** How would you design a rate limiter?",
			PhaseFinalReport:       validReportJSON,
		},
		fail: make(map[string]bool),
	}
}

func phaseOf(system string) string {
	for _, phase := range Phases {
		if DefaultSystemInstruction(phase) == system {
			return phase
		}
	}
	return ""
}

func (f *fakeProvider) Name() llm.ProviderName { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, req llm.Request) (string, error) {
	phase := phaseOf(req.System)

	f.mu.Lock()
	f.calls[phase]++
	block := f.block
	fail := f.fail[phase]
	reply := f.replies[phase]
	f.mu.Unlock()

	if block != nil && phase == PhaseNextQuestion {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fail {
		return "", errProviderDown
	}
	return reply, nil
}

func (f *fakeProvider) setReply(phase, reply string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[phase] = reply
}

func (f *fakeProvider) setFail(phase string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[phase] = fail
}

// setBlock makes question generation wait until ch is closed
func (f *fakeProvider) setBlock(ch chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = ch
}

func (f *fakeProvider) callCount(phase string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[phase]
}

type publishedEvent struct {
	SessionID string
	Type      string
	Payload   interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) PublishToSession(sessionID, eventType string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{SessionID: sessionID, Type: eventType, Payload: payload})
}

func (p *recordingPublisher) types(sessionID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.SessionID == sessionID {
			out = append(out, e.Type)
		}
	}
	return out
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:services%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, repository.NewGORMRepository(db).AutoMigrate())
	return db
}

type harness struct {
	db          *gorm.DB
	repo        *repository.GORMRepository
	conv        *repository.ConversationRepository
	cache       cache.Cache
	store       *SessionStore
	errorLog    *ErrorLog
	templates   *PromptTemplates
	reports     *ReportGenerator
	events      *recordingPublisher
	provider    *fakeProvider
	gateway     *llm.Gateway
	interviewer *Interviewer
}

func noSleep(context.Context, time.Duration) error { return nil }

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		db:       newTestDB(t),
		cache:    cache.NewFallback(nil),
		events:   &recordingPublisher{},
		provider: newFakeProvider(llm.ProviderGoogle),
	}
	h.repo = repository.NewGORMRepository(h.db)
	h.conv = repository.NewConversationRepository(h.db)
	h.store = NewSessionStore(h.repo, h.cache, time.Hour)
	h.errorLog = NewErrorLog(h.repo)
	h.templates = NewPromptTemplates(h.repo, h.cache)
	h.gateway = llm.NewGateway(llm.NewRetryPolicy(2, time.Millisecond).WithSleeper(noSleep), h.provider)
	h.reports = NewReportGenerator(h.repo, h.store, h.conv, h.gateway, h.templates, h.errorLog, h.events, llm.ProviderGoogle)
	h.interviewer = NewInterviewer(InterviewerDeps{
		Store:           h.store,
		Conversations:   h.conv,
		Gateway:         h.gateway,
		Templates:       h.templates,
		Research:        NewCompanyResearch(nil, h.gateway, llm.ProviderGoogle, h.cache, time.Hour),
		Reports:         h.reports,
		ErrorLog:        h.errorLog,
		Events:          h.events,
		DefaultProvider: llm.ProviderGoogle,
		TotalQuestions:  3,
	})
	// Registered after the DB cleanup, so it runs first
	t.Cleanup(h.reports.Wait)
	return h
}

func (h *harness) createSession(t *testing.T, jobDescription string) *SetupResult {
	t.Helper()
	result, err := h.interviewer.CreateSession(context.Background(), CreateSessionInput{
		UserID:         "user-1",
		Position:       "Backend Engineer",
		ResumeContent:  "Five years of Go, Postgres and Kubernetes.",
		JobDescription: jobDescription,
	})
	require.NoError(t, err)
	return result
}

// startedSession returns an IN_PROGRESS session with its first question committed
func (h *harness) startedSession(t *testing.T, total int) string {
	t.Helper()
	setup := h.createSession(t, "Build and run payment APIs in Go.")
	_, err := h.interviewer.StartSession(context.Background(), setup.SessionID, StartSessionInput{TotalQuestions: total})
	require.NoError(t, err)
	return setup.SessionID
}

func (h *harness) session(t *testing.T, id string) *models.InterviewSession {
	t.Helper()
	s, err := h.repo.GetInterviewSession(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func (h *harness) messages(t *testing.T, id string) []models.Message {
	t.Helper()
	msgs, err := h.conv.GetMessagesBySession(context.Background(), id)
	require.NoError(t, err)
	return msgs
}

func (h *harness) errorLogs(t *testing.T, id string) []models.ErrorLogEntry {
	t.Helper()
	logs, err := h.errorLog.List(context.Background(), repository.ErrorLogFilter{SessionID: id})
	require.NoError(t, err)
	return logs
}
