package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/krshsl/mockmate/llm"
	"github.com/krshsl/mockmate/models"
	"github.com/krshsl/mockmate/repository"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// PlaceholderSummary is the note carried by a placeholder report
const PlaceholderSummary = "The detailed report is still being generated. Please check back shortly."

// MaxReportAttempts bounds how often the sweeper regenerates a placeholder
const MaxReportAttempts = 3

const reportTimeout = 3 * time.Minute

// ReportGenerator builds and stores the evaluation for completed sessions.
// At most one generation runs per session at a time.
type ReportGenerator struct {
	repo            *repository.GORMRepository
	store           *SessionStore
	conversations   *repository.ConversationRepository
	gateway         *llm.Gateway
	builder         *PromptBuilder
	templates       *PromptTemplates
	errorLog        *ErrorLog
	events          EventPublisher
	defaultProvider llm.ProviderName

	group    singleflight.Group
	wg       sync.WaitGroup
	mu       sync.Mutex
	inFlight map[string]bool
}

func NewReportGenerator(
	repo *repository.GORMRepository,
	store *SessionStore,
	conversations *repository.ConversationRepository,
	gateway *llm.Gateway,
	templates *PromptTemplates,
	errorLog *ErrorLog,
	events EventPublisher,
	defaultProvider llm.ProviderName,
) *ReportGenerator {
	if events == nil {
		events = noopPublisher{}
	}
	return &ReportGenerator{
		repo:            repo,
		store:           store,
		conversations:   conversations,
		gateway:         gateway,
		builder:         NewPromptBuilder(),
		templates:       templates,
		errorLog:        errorLog,
		events:          events,
		defaultProvider: defaultProvider,
		inFlight:        make(map[string]bool),
	}
}

// Trigger starts generation in the background and returns immediately
func (g *ReportGenerator) Trigger(sessionID string) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()
		if _, err := g.Generate(ctx, sessionID); err != nil {
			slog.Error("Background report generation failed", "session_id", sessionID, "error", err)
		}
	}()
}

// Wait blocks until every triggered generation has finished
func (g *ReportGenerator) Wait() {
	g.wg.Wait()
}

// InFlight reports whether a generation for sessionID is running
func (g *ReportGenerator) InFlight(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight[sessionID]
}

// Stored returns the persisted report, or nil when none exists yet
func (g *ReportGenerator) Stored(ctx context.Context, sessionID string) (*models.Report, error) {
	return g.repo.GetReport(ctx, sessionID)
}

// Generate produces and stores the report, joining a run already in progress for the session
func (g *ReportGenerator) Generate(ctx context.Context, sessionID string) (*models.Report, error) {
	v, err, _ := g.group.Do(sessionID, func() (interface{}, error) {
		g.mu.Lock()
		g.inFlight[sessionID] = true
		g.mu.Unlock()
		defer func() {
			g.mu.Lock()
			delete(g.inFlight, sessionID)
			g.mu.Unlock()
		}()
		return g.generate(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Report), nil
}

func (g *ReportGenerator) generate(ctx context.Context, sessionID string) (*models.Report, error) {
	ctx, span := tracer.Start(ctx, "interview.GenerateReport")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	session, err := g.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, repository.ErrSessionNotFound
	}
	if session.Status != models.StatusCompleted {
		return nil, fmt.Errorf("session %s is %s, not completed", sessionID, session.Status)
	}

	history, err := g.conversations.GetMessagesBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	attempts := 1
	if existing, err := g.repo.GetReport(ctx, sessionID); err == nil && existing != nil {
		attempts = existing.Attempts + 1
	}

	provider := llm.ProviderName(session.Provider)
	if provider == "" {
		provider = g.defaultProvider
	}
	prompt := g.templates.Apply(ctx, g.builder.FinalReport(session, history))
	res, genErr := g.gateway.Generate(ctx, provider, prompt.Request(session.Model))

	var report *models.Report
	switch {
	case genErr != nil:
		g.errorLog.ProviderFailure(ctx, sessionID, PhaseFinalReport, genErr, res.Attempts)
		g.store.IncrementErrorCount(ctx, sessionID)
		fallbacksTotal.WithLabelValues(PhaseFinalReport).Inc()
		report = placeholderReport(sessionID)
	default:
		report, err = ParseReport(res.Text)
		if err != nil {
			slog.Warn("Report output did not parse, storing placeholder", "session_id", sessionID, "error", err)
			g.errorLog.Record(ctx, sessionID, models.LevelWarn, "report parse failed: "+err.Error(), llm.CodeInvalidResponse, res.Attempts)
			report = placeholderReport(sessionID)
		}
	}
	report.SessionID = sessionID
	report.Attempts = attempts
	// Stored timestamps keep microseconds in UTC, so the returned report matches a later read
	report.GeneratedAt = time.Now().UTC().Truncate(time.Microsecond)

	if err := g.repo.UpsertReport(context.WithoutCancel(ctx), report); err != nil {
		reportsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	outcome := "generated"
	if report.IsPlaceholder {
		outcome = "placeholder"
	}
	reportsTotal.WithLabelValues(outcome).Inc()
	g.events.PublishToSession(sessionID, EventReportReady, map[string]interface{}{
		"is_placeholder": report.IsPlaceholder,
		"overall_score":  report.OverallScore,
		"generated_at":   report.GeneratedAt,
	})
	return report, nil
}

func placeholderReport(sessionID string) *models.Report {
	return &models.Report{
		SessionID:      sessionID,
		OverallScore:   50,
		OverallSummary: PlaceholderSummary,
		ScoringMatrix: models.ScoringMatrix{
			SkillMatch:            5,
			CompanyFit:            5,
			CommunicationClarity:  5,
			StarMethodApplication: 5,
		},
		PerQuestionAnalysis:  []models.QuestionAnalysis{},
		FinalRecommendations: []string{},
		IsPlaceholder:        true,
	}
}

type reportPayload struct {
	OverallScore         *float64                  `json:"overall_score"`
	OverallSummary       string                    `json:"overall_summary"`
	ScoringMatrix        *models.ScoringMatrix     `json:"scoring_matrix"`
	PerQuestionAnalysis  []models.QuestionAnalysis `json:"per_question_analysis"`
	FinalRecommendations []string                  `json:"final_recommendations"`
}

var errMalformedReport = errors.New("malformed report")

// ParseReport decodes model output into a report, clamping scores into range
func ParseReport(text string) (*models.Report, error) {
	body := stripCodeFence(text)
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object found", errMalformedReport)
	}

	var payload reportPayload
	if err := json.Unmarshal([]byte(body[start:end+1]), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedReport, err)
	}
	if payload.OverallScore == nil || payload.ScoringMatrix == nil {
		return nil, fmt.Errorf("%w: overall_score and scoring_matrix are required", errMalformedReport)
	}

	analysis := payload.PerQuestionAnalysis
	if analysis == nil {
		analysis = []models.QuestionAnalysis{}
	}
	recommendations := payload.FinalRecommendations
	if recommendations == nil {
		recommendations = []string{}
	}

	return &models.Report{
		OverallScore:   clamp(*payload.OverallScore, 0, 100),
		OverallSummary: strings.TrimSpace(payload.OverallSummary),
		ScoringMatrix: models.ScoringMatrix{
			SkillMatch:            clamp(payload.ScoringMatrix.SkillMatch, 0, 10),
			CompanyFit:            clamp(payload.ScoringMatrix.CompanyFit, 0, 10),
			CommunicationClarity:  clamp(payload.ScoringMatrix.CommunicationClarity, 0, 10),
			StarMethodApplication: clamp(payload.ScoringMatrix.StarMethodApplication, 0, 10),
		},
		PerQuestionAnalysis:  analysis,
		FinalRecommendations: recommendations,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
