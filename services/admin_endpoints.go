package services

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/krshsl/mockmate/cache"
	"github.com/krshsl/mockmate/models"
	"github.com/krshsl/mockmate/repository"
)

// AdminEndpoints exposes prompt templates, error logs and cache maintenance
type AdminEndpoints struct {
	templates *PromptTemplates
	errorLog  *ErrorLog
	cache     cache.Cache
}

type ClearCacheRequest struct {
	Prefix string `json:"prefix" validate:"omitempty,oneof=session: company: prompt:"`
}

type GetErrorLogsResponse struct {
	Logs  []models.ErrorLogEntry `json:"logs"`
	Count int                    `json:"count"`
}

func NewAdminEndpoints(templates *PromptTemplates, errorLog *ErrorLog, c cache.Cache) *AdminEndpoints {
	return &AdminEndpoints{
		templates: templates,
		errorLog:  errorLog,
		cache:     c,
	}
}

func (e *AdminEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/prompts", e.GetPromptsHandler)
		r.Put("/prompts/{id}", e.UpdatePromptHandler)
		r.Get("/logs", e.GetLogsHandler)
		r.Post("/cache/clear", e.ClearCacheHandler)
	})
}

func (e *AdminEndpoints) GetPromptsHandler(w http.ResponseWriter, r *http.Request) {
	templates, err := e.templates.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"prompts": templates,
		"count":   len(templates),
	})
}

func (e *AdminEndpoints) UpdatePromptHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdatePromptTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	template, err := e.templates.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("Prompt template updated", "template_id", template.ID, "key", template.Key, "version", template.Version)
	writeJSON(w, http.StatusOK, template)
}

func (e *AdminEndpoints) GetLogsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repository.ErrorLogFilter{
		SessionID: query.Get("session_id"),
		Level:     models.LogLevel(query.Get("level")),
	}
	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			writeError(w, newAppError(CodeInvalidRequest, http.StatusBadRequest, "limit must be a positive integer"))
			return
		}
		filter.Limit = n
	}

	logs, err := e.errorLog.List(r.Context(), filter)
	if err != nil {
		writeError(w, errInternal(err))
		return
	}
	writeJSON(w, http.StatusOK, GetErrorLogsResponse{Logs: logs, Count: len(logs)})
}

func (e *AdminEndpoints) ClearCacheHandler(w http.ResponseWriter, r *http.Request) {
	var req ClearCacheRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	prefixes := []string{cache.SessionPrefix, cache.CompanyPrefix, cache.TemplatePrefix}
	if req.Prefix != "" {
		prefixes = []string{req.Prefix}
	}

	removed := 0
	for _, prefix := range prefixes {
		n, err := e.cache.DeletePrefix(r.Context(), prefix)
		if err != nil {
			slog.Warn("Cache clear failed", "prefix", prefix, "error", err)
			continue
		}
		removed += n
	}

	slog.Info("Cache cleared", "prefixes", prefixes, "removed", removed)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"removed":  removed,
		"prefixes": prefixes,
	})
}
