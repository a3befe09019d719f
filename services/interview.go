package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/krshsl/mockmate/llm"
	"github.com/krshsl/mockmate/models"
	"github.com/krshsl/mockmate/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/krshsl/mockmate/services")

// Realtime event types pushed to session subscribers
const (
	EventQuestion    = "question"
	EventCompleted   = "completed"
	EventReportReady = "report_ready"
	EventTimeout     = "timeout"
)

// EventPublisher fans session events out to connected clients
type EventPublisher interface {
	PublishToSession(sessionID, eventType string, payload interface{})
}

type noopPublisher struct{}

func (noopPublisher) PublishToSession(string, string, interface{}) {}

const maxTotalQuestions = 50

// CreateSessionInput carries the interview inputs
type CreateSessionInput struct {
	UserID         string `json:"-"`
	Position       string `json:"position"`
	ResumeContent  string `json:"resume_content"`
	JobDescription string `json:"job_description"`
	CompanyName    string `json:"company_name"`
	AdditionalInfo string `json:"additional_info"`
}

// SetupResult is returned by CreateSession and ConfigureSession
type SetupResult struct {
	SessionID             string               `json:"session_id"`
	Status                models.SessionStatus `json:"status"`
	Confirmed             bool                 `json:"confirmed"`
	RoleConfirmationText  string               `json:"role_confirmation_text,omitempty"`
	CompanyContextSummary string               `json:"company_context_summary,omitempty"`
}

// StartSessionInput configures the interviewer at start
type StartSessionInput struct {
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	Difficulty     string `json:"difficulty"`
	TotalQuestions int    `json:"total_questions"`
}

// TurnResult is the state after StartSession or SubmitAnswer
type TurnResult struct {
	SessionID            string               `json:"session_id"`
	Status               models.SessionStatus `json:"status"`
	Question             *string              `json:"question"`
	IsComplete           bool                 `json:"is_complete"`
	CurrentQuestionIndex int                  `json:"current_question_index"`
	TotalQuestions       int                  `json:"total_questions"`
	Provider             string               `json:"provider,omitempty"`
	Model                string               `json:"model,omitempty"`
	Difficulty           models.Difficulty    `json:"difficulty,omitempty"`
}

// Interviewer drives a session through CONFIGURING, IN_PROGRESS and COMPLETED.
// Every transition is a conditional write, so concurrent callers on one session
// see exactly one winner and CONCURRENT_MODIFICATION for the rest.
type Interviewer struct {
	store           *SessionStore
	conversations   *repository.ConversationRepository
	gateway         *llm.Gateway
	builder         *PromptBuilder
	templates       *PromptTemplates
	research        *CompanyResearch
	reports         *ReportGenerator
	errorLog        *ErrorLog
	events          EventPublisher
	defaultProvider llm.ProviderName
	defaultTotal    int
	now             func() time.Time
}

// InterviewerDeps groups the collaborators of an Interviewer
type InterviewerDeps struct {
	Store           *SessionStore
	Conversations   *repository.ConversationRepository
	Gateway         *llm.Gateway
	Templates       *PromptTemplates
	Research        *CompanyResearch
	Reports         *ReportGenerator
	ErrorLog        *ErrorLog
	Events          EventPublisher
	DefaultProvider llm.ProviderName
	TotalQuestions  int
}

func NewInterviewer(deps InterviewerDeps) *Interviewer {
	if deps.Events == nil {
		deps.Events = noopPublisher{}
	}
	if deps.DefaultProvider == "" {
		deps.DefaultProvider = llm.ProviderGoogle
	}
	if deps.TotalQuestions <= 0 {
		deps.TotalQuestions = 10
	}
	return &Interviewer{
		store:           deps.Store,
		conversations:   deps.Conversations,
		gateway:         deps.Gateway,
		builder:         NewPromptBuilder(),
		templates:       deps.Templates,
		research:        deps.Research,
		reports:         deps.Reports,
		errorLog:        deps.ErrorLog,
		events:          deps.Events,
		defaultProvider: deps.DefaultProvider,
		defaultTotal:    deps.TotalQuestions,
		now:             time.Now,
	}
}

func startSpan(ctx context.Context, name, sessionID string) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(attribute.String("session.id", sessionID))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, ErrorCodeOf(err))
		}
		span.End()
	}
}

// CreateSession stores a CONFIGURING session. Without a job description it also
// produces the role confirmation narrative the candidate must confirm or correct.
func (i *Interviewer) CreateSession(ctx context.Context, in CreateSessionInput) (result *SetupResult, err error) {
	ctx, end := startSpan(ctx, "interview.CreateSession", "")
	defer func() { end(err); observeTransition("create", err) }()

	in.Position = strings.TrimSpace(in.Position)
	in.ResumeContent = strings.TrimSpace(in.ResumeContent)
	if in.Position == "" || in.ResumeContent == "" {
		return nil, errMissingFields("position and resume_content are required")
	}

	session := &models.InterviewSession{
		ID:             uuid.New().String(),
		UserID:         in.UserID,
		Position:       in.Position,
		ResumeContent:  in.ResumeContent,
		JobDescription: strings.TrimSpace(in.JobDescription),
		CompanyName:    strings.TrimSpace(in.CompanyName),
		AdditionalInfo: strings.TrimSpace(in.AdditionalInfo),
		Status:         models.StatusConfiguring,
		TotalQuestions: i.defaultTotal,
		LastActivityAt: i.now(),
	}

	if session.CompanyName != "" {
		summary := session.CompanyName
		if i.research != nil {
			if company, err := i.research.Research(ctx, session.CompanyName); err == nil {
				summary = company.Text()
			} else {
				slog.Info("Company research unavailable, using company name", "company", session.CompanyName, "error", err)
			}
		}
		session.CompanyContextSummary = &summary
	}

	if session.JobDescription == "" {
		session.ConfirmationText = i.roleConfirmation(ctx, session)
	} else {
		// A job description already pins the role down
		session.Confirmed = true
	}

	if _, err := i.store.Create(ctx, session); err != nil {
		return nil, errInternal(err)
	}
	slog.Info("Interview session created", "session_id", session.ID, "user_id", session.UserID, "confirmed", session.Confirmed)

	return setupResult(session), nil
}

func setupResult(s *models.InterviewSession) *SetupResult {
	result := &SetupResult{
		SessionID:            s.ID,
		Status:               s.Status,
		Confirmed:            s.Confirmed,
		RoleConfirmationText: s.ConfirmationText,
	}
	if s.CompanyContextSummary != nil {
		result.CompanyContextSummary = *s.CompanyContextSummary
	}
	return result
}

func (i *Interviewer) roleConfirmation(ctx context.Context, s *models.InterviewSession) string {
	prompt := i.templates.Apply(ctx, i.builder.RoleConfirmation(s))
	res, err := i.gateway.Generate(ctx, i.defaultProvider, prompt.Request(""))
	text := strings.TrimSpace(res.Text)
	if err == nil && text != "" {
		return text
	}
	if err == nil {
		err = &llm.ProviderError{Provider: i.defaultProvider, Code: llm.CodeInvalidResponse, Message: "empty confirmation"}
	}
	i.errorLog.ProviderFailure(ctx, s.ID, PhaseRoleConfirmation, err, res.Attempts)
	fallbacksTotal.WithLabelValues(PhaseRoleConfirmation).Inc()
	s.ErrorCount++
	return localRoleConfirmation(s)
}

// ConfigureSession confirms the setup, or merges a correction into the company
// context and returns a revised narrative that must be confirmed again.
func (i *Interviewer) ConfigureSession(ctx context.Context, sessionID, correction string) (result *SetupResult, err error) {
	ctx, end := startSpan(ctx, "interview.ConfigureSession", sessionID)
	defer func() { end(err); observeTransition("configure", err) }()

	if sessionID == "" {
		return nil, errMissingSessionID()
	}
	session, err := i.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// Setup stays editable for as long as the session could still be started
	if !session.Status.CanTransition(models.StatusInProgress) {
		return nil, errInvalidState(fmt.Sprintf("session is %s, configuration is only allowed while CONFIGURING", session.Status))
	}

	expect := repository.SessionExpectation{Status: models.StatusConfiguring}
	updates := map[string]interface{}{"last_activity_at": i.now()}

	correction = strings.TrimSpace(correction)
	if correction == "" {
		updates["confirmed"] = true
		session.Confirmed = true
	} else {
		base := session.CompanyName
		if session.CompanyContextSummary != nil && *session.CompanyContextSummary != "" {
			base = *session.CompanyContextSummary
		}
		merged := strings.TrimSpace(base + "\nCandidate clarification: " + correction)
		session.CompanyContextSummary = &merged

		previous := session.ConfirmationText
		if previous == "" {
			previous = localRoleConfirmation(session)
		}
		session.ConfirmationText = i.correctedConfirmation(ctx, session, previous, correction)
		session.Confirmed = false

		updates["company_context_summary"] = merged
		updates["confirmation_text"] = session.ConfirmationText
		updates["confirmed"] = false
	}

	if err := i.store.UpdateIf(ctx, sessionID, expect, updates); err != nil {
		return nil, i.transitionError(err)
	}
	return setupResult(session), nil
}

func (i *Interviewer) correctedConfirmation(ctx context.Context, s *models.InterviewSession, previous, correction string) string {
	prompt := i.templates.Apply(ctx, i.builder.ContextCorrection(s, previous, correction))
	res, err := i.gateway.Generate(ctx, i.defaultProvider, prompt.Request(""))
	text := strings.TrimSpace(res.Text)
	if err == nil && text != "" {
		return text
	}
	if err == nil {
		err = &llm.ProviderError{Provider: i.defaultProvider, Code: llm.CodeInvalidResponse, Message: "empty confirmation"}
	}
	i.providerFailed(ctx, s.ID, PhaseContextCorrection, err, res.Attempts)
	return localRoleConfirmation(s) + " I have noted your clarification: " + correction
}

// StartSession fixes provider, model, difficulty and length, moves the session to
// IN_PROGRESS and returns the first question.
func (i *Interviewer) StartSession(ctx context.Context, sessionID string, in StartSessionInput) (result *TurnResult, err error) {
	ctx, end := startSpan(ctx, "interview.StartSession", sessionID)
	defer func() { end(err); observeTransition("start", err) }()

	if sessionID == "" {
		return nil, errMissingSessionID()
	}

	provider := i.defaultProvider
	if strings.TrimSpace(in.Provider) != "" {
		p, ok := llm.ParseProvider(in.Provider)
		if !ok {
			return nil, newAppError(CodeInvalidProvider, http.StatusBadRequest, fmt.Sprintf("unknown provider %q", in.Provider))
		}
		provider = p
	}
	model, ok := llm.ResolveModel(provider, strings.TrimSpace(in.Model))
	if !ok {
		return nil, newAppError(CodeInvalidModel, http.StatusBadRequest, fmt.Sprintf("model %q is not offered by %s", in.Model, provider))
	}
	difficulty := models.DefaultDifficulty
	if strings.TrimSpace(in.Difficulty) != "" {
		d, ok := models.ParseDifficulty(in.Difficulty)
		if !ok {
			return nil, newAppError(CodeInvalidDifficulty, http.StatusBadRequest, "difficulty must be one of Junior, Mid, Senior, Expert")
		}
		difficulty = d
	}
	if in.TotalQuestions < 0 || in.TotalQuestions > maxTotalQuestions {
		return nil, newAppError(CodeInvalidRequest, http.StatusBadRequest, fmt.Sprintf("total_questions must be between 1 and %d", maxTotalQuestions))
	}

	session, err := i.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Status.CanTransition(models.StatusInProgress) {
		return nil, errInvalidState(fmt.Sprintf("session is %s, only CONFIGURING sessions can be started", session.Status))
	}
	if !session.Confirmed {
		return nil, newAppError(CodeSessionNotConfirmed, http.StatusConflict, "confirm the interview setup before starting")
	}

	total := in.TotalQuestions
	if total == 0 {
		total = session.TotalQuestions
	}
	if total <= 0 {
		total = i.defaultTotal
	}

	now := i.now()
	err = i.store.UpdateIf(ctx, sessionID, repository.SessionExpectation{Status: models.StatusConfiguring}, map[string]interface{}{
		"status":                 models.StatusInProgress,
		"provider":               string(provider),
		"model":                  model,
		"difficulty":             difficulty,
		"total_questions":        total,
		"current_question_index": 0,
		"awaiting_question":      true,
		"started_at":             now,
		"last_activity_at":       now,
	})
	if err != nil {
		return nil, i.transitionError(err)
	}

	session.Status = models.StatusInProgress
	session.Provider = string(provider)
	session.Model = model
	session.Difficulty = difficulty
	session.TotalQuestions = total
	session.CurrentQuestionIndex = 0
	slog.Info("Interview started", "session_id", sessionID, "provider", provider, "model", model, "difficulty", difficulty, "total_questions", total)

	question := i.generateQuestion(ctx, session, nil, 1, OpeningQuestion)
	if err := i.commitQuestion(ctx, session, 0, question, 1); err != nil {
		return nil, err
	}

	return &TurnResult{
		SessionID:            sessionID,
		Status:               models.StatusInProgress,
		Question:             &question,
		CurrentQuestionIndex: 0,
		TotalQuestions:       total,
		Provider:             string(provider),
		Model:                model,
		Difficulty:           difficulty,
	}, nil
}

// SubmitAnswer records the answer to the current question and either returns the
// next question or completes the session and schedules its report.
func (i *Interviewer) SubmitAnswer(ctx context.Context, sessionID, answer string) (result *TurnResult, err error) {
	ctx, end := startSpan(ctx, "interview.SubmitAnswer", sessionID)
	defer func() { end(err); observeTransition("answer", err) }()

	if sessionID == "" {
		return nil, errMissingSessionID()
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, newAppError(CodeMissingAnswer, http.StatusBadRequest, "answer must not be empty")
	}

	session, err := i.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// Only a running interview can be completed, and only a running one takes answers
	if !session.Status.CanTransition(models.StatusCompleted) {
		return nil, errInvalidState(fmt.Sprintf("session is %s, answers are only accepted while IN_PROGRESS", session.Status))
	}
	if session.AwaitingQuestion {
		return nil, errConcurrent()
	}

	index := session.CurrentQuestionIndex
	answered := index + 1
	now := i.now()
	expect := repository.SessionExpectation{
		Status:           models.StatusInProgress,
		QuestionIndex:    &index,
		AwaitingQuestion: boolRef(false),
	}
	userMsg := &models.Message{Role: models.RoleUser, Content: answer}

	if answered >= session.TotalQuestions {
		err := i.store.UpdateWithMessage(ctx, sessionID, expect, map[string]interface{}{
			"status":                 models.StatusCompleted,
			"current_question_index": answered,
			"awaiting_question":      false,
			"completed_at":           now,
			"last_activity_at":       now,
		}, userMsg)
		if err != nil {
			return nil, i.transitionError(err)
		}
		slog.Info("Interview completed", "session_id", sessionID, "answers", answered)

		i.events.PublishToSession(sessionID, EventCompleted, map[string]interface{}{
			"current_question_index": answered,
			"total_questions":        session.TotalQuestions,
		})
		if i.reports != nil {
			i.reports.Trigger(sessionID)
		}
		return &TurnResult{
			SessionID:            sessionID,
			Status:               models.StatusCompleted,
			IsComplete:           true,
			CurrentQuestionIndex: answered,
			TotalQuestions:       session.TotalQuestions,
		}, nil
	}

	err = i.store.UpdateWithMessage(ctx, sessionID, expect, map[string]interface{}{
		"current_question_index": answered,
		"awaiting_question":      true,
		"last_activity_at":       now,
	}, userMsg)
	if err != nil {
		return nil, i.transitionError(err)
	}
	session.CurrentQuestionIndex = answered

	history, err := i.conversations.GetMessagesBySession(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to load transcript for next question", "session_id", sessionID, "error", err)
	}
	question := i.generateQuestion(ctx, session, history, answered+1, FallbackQuestion(answered))
	if err := i.commitQuestion(ctx, session, answered, question, answered+1); err != nil {
		return nil, err
	}

	return &TurnResult{
		SessionID:            sessionID,
		Status:               models.StatusInProgress,
		Question:             &question,
		CurrentQuestionIndex: answered,
		TotalQuestions:       session.TotalQuestions,
	}, nil
}

// generateQuestion asks the session's provider for the next question and returns
// fallback when the provider is exhausted or replies with nothing usable.
func (i *Interviewer) generateQuestion(ctx context.Context, s *models.InterviewSession, history []models.Message, number int, fallback string) string {
	prompt := i.templates.Apply(ctx, i.builder.NextQuestion(s, history, number))
	res, err := i.gateway.Generate(ctx, llm.ProviderName(s.Provider), prompt.Request(s.Model))
	if err == nil {
		if question := cleanQuestion(res.Text); question != "" {
			return question
		}
		err = &llm.ProviderError{Provider: llm.ProviderName(s.Provider), Code: llm.CodeInvalidResponse, Message: "empty question"}
	}

	slog.Warn("Question generation failed, using fallback", "session_id", s.ID, "question", number, "error", err)
	i.providerFailed(ctx, s.ID, PhaseNextQuestion, err, res.Attempts)
	return fallback
}

// commitQuestion appends the AI question and clears the awaiting flag. The write
// outlives a cancelled request so an accepted answer is never left without a question.
func (i *Interviewer) commitQuestion(ctx context.Context, s *models.InterviewSession, index int, question string, number int) error {
	ctx = context.WithoutCancel(ctx)
	tag := questionTopic(number)
	err := i.store.UpdateWithMessage(ctx, s.ID, repository.SessionExpectation{
		Status:           models.StatusInProgress,
		QuestionIndex:    &index,
		AwaitingQuestion: boolRef(true),
	}, map[string]interface{}{
		"awaiting_question": false,
		"last_activity_at":  i.now(),
	}, &models.Message{Role: models.RoleAI, Content: question, TopicTag: &tag})

	switch {
	case err == nil:
		i.events.PublishToSession(s.ID, EventQuestion, map[string]interface{}{
			"question":               question,
			"current_question_index": index,
			"total_questions":        s.TotalQuestions,
		})
		return nil
	case errors.Is(err, repository.ErrStaleSession):
		return errConcurrent()
	}

	slog.Error("Failed to store question, failing session", "session_id", s.ID, "error", err)
	i.errorLog.Record(ctx, s.ID, models.LevelFatal, "failed to store question: "+err.Error(), CodeInternal, 0)
	if ferr := i.store.UpdateIf(ctx, s.ID, repository.SessionExpectation{Status: models.StatusInProgress}, map[string]interface{}{
		"status":            models.StatusFailed,
		"awaiting_question": false,
	}); ferr != nil {
		slog.Error("Failed to mark session as failed", "session_id", s.ID, "error", ferr)
	}
	return errInternal(err)
}

func (i *Interviewer) providerFailed(ctx context.Context, sessionID, phase string, err error, attempts int) {
	i.errorLog.ProviderFailure(ctx, sessionID, phase, err, attempts)
	i.store.IncrementErrorCount(context.WithoutCancel(ctx), sessionID)
	fallbacksTotal.WithLabelValues(phase).Inc()
}

func questionTopic(number int) string {
	switch {
	case number <= 1:
		return "foundational"
	case number <= 3:
		return "deep-dive"
	case number <= 7:
		return "system-design"
	default:
		return "advanced"
	}
}

var questionPrefix = regexp.MustCompile(`^(?i)(\*\*)?(question|q)\s*\d*\s*[:.)-]\s*(\*\*)?\s*`)

// cleanQuestion strips labels, fences and quoting models like to wrap questions in
func cleanQuestion(text string) string {
	text = stripCodeFence(text)
	text = questionPrefix.ReplaceAllString(strings.TrimSpace(text), "")
	text = strings.TrimSpace(text)
	for _, q := range []string{`"`, "'", "“"} {
		if strings.HasPrefix(text, q) {
			closing := q
			if q == "“" {
				closing = "”"
			}
			if strings.HasSuffix(text, closing) && len(text) > len(q)+len(closing) {
				text = strings.TrimSpace(text[len(q) : len(text)-len(closing)])
			}
		}
	}
	return text
}

func boolRef(b bool) *bool {
	return &b
}

func (i *Interviewer) load(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	session, err := i.store.Get(ctx, sessionID)
	if err != nil {
		return nil, errInternal(err)
	}
	if session == nil {
		return nil, errSessionNotFound(sessionID)
	}
	return session, nil
}

func (i *Interviewer) transitionError(err error) error {
	switch {
	case errors.Is(err, repository.ErrStaleSession):
		return errConcurrent()
	case errors.Is(err, repository.ErrSessionNotFound):
		return newAppError(CodeSessionNotFound, http.StatusNotFound, "session not found")
	}
	return errInternal(err)
}

// GetSession returns the session or SESSION_NOT_FOUND
func (i *Interviewer) GetSession(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	if sessionID == "" {
		return nil, errMissingSessionID()
	}
	return i.load(ctx, sessionID)
}

// GetMessages returns the transcript in sequence order
func (i *Interviewer) GetMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	if _, err := i.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	messages, err := i.conversations.GetMessagesBySession(ctx, sessionID)
	if err != nil {
		return nil, errInternal(err)
	}
	return messages, nil
}

// GetReport returns the stored report. While none exists it answers REPORT_NOT_READY
// and makes sure a generation is running for completed sessions.
func (i *Interviewer) GetReport(ctx context.Context, sessionID string) (*models.Report, error) {
	session, err := i.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	report, err := i.reports.Stored(ctx, sessionID)
	if err != nil {
		return nil, errInternal(err)
	}
	if report != nil {
		return report, nil
	}
	if session.Status == models.StatusCompleted && !i.reports.InFlight(sessionID) {
		i.reports.Trigger(sessionID)
	}
	return nil, errReportNotReady()
}

// RegenerateReport schedules a fresh report for a completed session
func (i *Interviewer) RegenerateReport(ctx context.Context, sessionID string) error {
	session, err := i.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != models.StatusCompleted {
		return errInvalidState("reports can only be generated for COMPLETED sessions")
	}
	if !i.reports.InFlight(sessionID) {
		i.reports.Trigger(sessionID)
	}
	return nil
}

// DeleteSession removes the session with its transcript and report
func (i *Interviewer) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errMissingSessionID()
	}
	if err := i.store.Delete(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return errSessionNotFound(sessionID)
		}
		return errInternal(err)
	}
	slog.Info("Interview session deleted", "session_id", sessionID)
	return nil
}

// ListSessions returns the user's sessions, newest first
func (i *Interviewer) ListSessions(ctx context.Context, userID string) ([]models.InterviewSession, error) {
	sessions, err := i.store.List(ctx, userID)
	if err != nil {
		return nil, errInternal(err)
	}
	return sessions, nil
}

// Stats aggregates the user's interview history
func (i *Interviewer) Stats(ctx context.Context, userID string) (*models.SessionStats, error) {
	stats, err := i.conversations.GetSessionStats(ctx, userID)
	if err != nil {
		return nil, errInternal(err)
	}
	return stats, nil
}

// Models lists the provider catalog with configuration state
func (i *Interviewer) Models() []llm.ModelInfo {
	return i.gateway.Models()
}
