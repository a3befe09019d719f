package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/krshsl/mockmate/models"
)

// InterviewEndpoints binds the session state machine to HTTP
type InterviewEndpoints struct {
	interviewer *Interviewer
}

func NewInterviewEndpoints(interviewer *Interviewer) *InterviewEndpoints {
	return &InterviewEndpoints{interviewer: interviewer}
}

type CreateSessionRequest struct {
	Position       string `json:"position" validate:"max=255"`
	ResumeContent  string `json:"resume_content"`
	JobDescription string `json:"job_description"`
	CompanyName    string `json:"company_name" validate:"max=255"`
	AdditionalInfo string `json:"additional_info"`
}

type ConfigureSessionRequest struct {
	SessionID      string `json:"session_id"`
	RoleCorrection string `json:"role_correction"`
}

type StartSessionRequest struct {
	SessionID      string `json:"session_id"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	Difficulty     string `json:"difficulty"`
	TotalQuestions int    `json:"total_questions"`
}

type SubmitAnswerRequest struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

type GetSessionsResponse struct {
	Sessions []models.InterviewSession `json:"sessions"`
	Count    int                       `json:"count"`
}

func (e *InterviewEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/interview", func(r chi.Router) {
		r.Post("/start", e.CreateSessionHandler)
		r.Post("/configure", e.ConfigureSessionHandler)
		r.Post("/start_session", e.StartSessionHandler)
		r.Post("/submit_answer", e.SubmitAnswerHandler)
		r.Get("/report", e.GetReportHandler)
		r.Get("/models", e.ModelsHandler)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", e.GetSessionsHandler)
		r.Get("/stats", e.StatsHandler)
		r.Get("/{id}", e.GetSessionHandler)
		r.Get("/{id}/messages", e.GetMessagesHandler)
		r.Delete("/{id}", e.DeleteSessionHandler)
		r.Post("/{id}/report/regenerate", e.RegenerateReportHandler)
	})
}

// authorizeSession loads the session and hides sessions owned by someone else
func (e *InterviewEndpoints) authorizeSession(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	return authorizeSession(ctx, e.interviewer, sessionID)
}

func authorizeSession(ctx context.Context, interviewer *Interviewer, sessionID string) (*models.InterviewSession, error) {
	session, err := interviewer.GetSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return nil, err
	}
	user, ok := UserFromContext(ctx)
	if !ok || user.IsAdmin() || session.UserID == user.ID {
		return session, nil
	}
	slog.Warn("Session access denied", "session_id", session.ID, "user_id", user.ID)
	return nil, errSessionNotFound(session.ID)
}

func (e *InterviewEndpoints) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	var err error
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		err = decodeResumeForm(w, r, &req)
	} else {
		err = decodeJSON(r, &req)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := e.interviewer.CreateSession(r.Context(), CreateSessionInput{
		UserID:         userIDFromContext(r.Context()),
		Position:       req.Position,
		ResumeContent:  req.ResumeContent,
		JobDescription: req.JobDescription,
		CompanyName:    req.CompanyName,
		AdditionalInfo: req.AdditionalInfo,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// decodeResumeForm reads a multipart create request. An uploaded resume_file is
// converted to text unless resume_content is also present.
func decodeResumeForm(w http.ResponseWriter, r *http.Request, req *CreateSessionRequest) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxResumeFileSize+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errFileTooLarge()
		}
		return newAppError(CodeInvalidRequest, http.StatusBadRequest, "invalid multipart body")
	}
	defer r.MultipartForm.RemoveAll()

	req.Position = r.FormValue("position")
	req.ResumeContent = r.FormValue("resume_content")
	req.JobDescription = r.FormValue("job_description")
	req.CompanyName = r.FormValue("company_name")
	req.AdditionalInfo = r.FormValue("additional_info")
	if err := validate.Struct(req); err != nil {
		return newAppError(CodeInvalidRequest, http.StatusBadRequest, validationMessage(err))
	}

	file, header, err := r.FormFile("resume_file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil
	}
	if err != nil {
		return newAppError(CodeInvalidRequest, http.StatusBadRequest, "invalid resume_file")
	}
	defer file.Close()

	if header.Size > MaxResumeFileSize {
		return errFileTooLarge()
	}
	data, err := io.ReadAll(io.LimitReader(file, MaxResumeFileSize+1))
	if err != nil {
		return newAppError(CodeInvalidRequest, http.StatusBadRequest, "failed to read resume_file")
	}
	text, err := ExtractResumeText(header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.ResumeContent) == "" {
		req.ResumeContent = text
	}
	slog.Info("Resume file extracted", "filename", header.Filename, "size", len(data))
	return nil
}

func (e *InterviewEndpoints) ConfigureSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req ConfigureSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SessionID == "" {
		writeError(w, errMissingSessionID())
		return
	}
	if _, err := e.authorizeSession(r.Context(), req.SessionID); err != nil {
		writeError(w, err)
		return
	}

	result, err := e.interviewer.ConfigureSession(r.Context(), req.SessionID, req.RoleCorrection)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]interface{}{
		"session_id": result.SessionID,
		"status":     result.Status,
		"confirmed":  result.Confirmed,
	}
	if !result.Confirmed {
		resp["confirmation_text"] = result.RoleConfirmationText
		resp["company_context_summary"] = result.CompanyContextSummary
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *InterviewEndpoints) StartSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SessionID == "" {
		writeError(w, errMissingSessionID())
		return
	}
	if _, err := e.authorizeSession(r.Context(), req.SessionID); err != nil {
		writeError(w, err)
		return
	}

	result, err := e.interviewer.StartSession(r.Context(), req.SessionID, StartSessionInput{
		Provider:       req.Provider,
		Model:          req.Model,
		Difficulty:     req.Difficulty,
		TotalQuestions: req.TotalQuestions,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (e *InterviewEndpoints) SubmitAnswerHandler(w http.ResponseWriter, r *http.Request) {
	var req SubmitAnswerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SessionID == "" {
		writeError(w, errMissingSessionID())
		return
	}
	if _, err := e.authorizeSession(r.Context(), req.SessionID); err != nil {
		writeError(w, err)
		return
	}

	result, err := e.interviewer.SubmitAnswer(r.Context(), req.SessionID, req.Answer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (e *InterviewEndpoints) GetReportHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, errMissingSessionID())
		return
	}
	if _, err := e.authorizeSession(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}

	report, err := e.interviewer.GetReport(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (e *InterviewEndpoints) ModelsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": e.interviewer.Models()})
}

func (e *InterviewEndpoints) GetSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := e.interviewer.ListSessions(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, GetSessionsResponse{Sessions: sessions, Count: len(sessions)})
}

func (e *InterviewEndpoints) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := e.interviewer.Stats(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (e *InterviewEndpoints) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	session, err := e.authorizeSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (e *InterviewEndpoints) GetMessagesHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, err := e.authorizeSession(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}

	messages, err := e.interviewer.GetMessages(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"messages":   messages,
		"count":      len(messages),
	})
}

func (e *InterviewEndpoints) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, err := e.authorizeSession(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}

	if err := e.interviewer.DeleteSession(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *InterviewEndpoints) RegenerateReportHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, err := e.authorizeSession(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}

	if err := e.interviewer.RegenerateReport(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"session_id": sessionID,
		"message":    "Report regeneration started",
	})
}
