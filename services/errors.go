package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Caller-facing error codes
const (
	CodeMissingRequiredFields  = "MISSING_REQUIRED_FIELDS"
	CodeMissingSessionID       = "MISSING_SESSION_ID"
	CodeSessionNotFound        = "SESSION_NOT_FOUND"
	CodeInvalidProvider        = "INVALID_PROVIDER"
	CodeInvalidModel           = "INVALID_MODEL"
	CodeInvalidDifficulty      = "INVALID_DIFFICULTY"
	CodeSessionNotConfirmed    = "SESSION_NOT_CONFIRMED"
	CodeInvalidState           = "INVALID_STATE"
	CodeMissingAnswer          = "MISSING_ANSWER"
	CodeReportNotReady         = "REPORT_NOT_READY"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeInvalidRequest         = "INVALID_REQUEST"
	CodeUnsupportedFileType    = "UNSUPPORTED_FILE_TYPE"
	CodeFileTooLarge           = "FILE_TOO_LARGE"
	CodeInternal               = "INTERNAL_SERVER_ERROR"
)

// AppError is a failure with a stable code and the HTTP status it maps to
type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newAppError(code string, status int, message string) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func errMissingFields(message string) *AppError {
	return newAppError(CodeMissingRequiredFields, http.StatusBadRequest, message)
}

func errMissingSessionID() *AppError {
	return newAppError(CodeMissingSessionID, http.StatusBadRequest, "session_id is required")
}

func errSessionNotFound(id string) *AppError {
	return newAppError(CodeSessionNotFound, http.StatusNotFound, fmt.Sprintf("session %s not found", id))
}

func errInvalidState(message string) *AppError {
	return newAppError(CodeInvalidState, http.StatusConflict, message)
}

func errConcurrent() *AppError {
	return newAppError(CodeConcurrentModification, http.StatusConflict, "session was modified by another request, retry with fresh state")
}

func errReportNotReady() *AppError {
	return newAppError(CodeReportNotReady, http.StatusAccepted, "report is not ready yet, poll again")
}

func errInternal(err error) *AppError {
	return &AppError{Code: CodeInternal, Message: "internal server error", Status: http.StatusInternalServerError, Err: err}
}

// ErrorCodeOf returns the AppError code of err, or INTERNAL_SERVER_ERROR
func ErrorCodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError renders err as {"error": CODE, "message": text}
func writeError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = errInternal(err)
	}
	if appErr.Status >= http.StatusInternalServerError {
		slog.Error("Request failed", "code", appErr.Code, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status)
	message := appErr.Message
	if appErr.Status >= http.StatusInternalServerError {
		message = "internal server error"
	}
	json.NewEncoder(w).Encode(errorResponse{Error: appErr.Code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
