package services

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// MaxResumeFileSize caps an uploaded resume
const MaxResumeFileSize = 10 << 20

var resumeExtensions = map[string]bool{
	"":          true,
	".txt":      true,
	".text":     true,
	".md":       true,
	".markdown": true,
}

var resumeMediaTypes = map[string]bool{
	"":                         true,
	"text/plain":               true,
	"text/markdown":            true,
	"text/x-markdown":          true,
	"application/octet-stream": true,
}

// ExtractResumeText returns the text of an uploaded resume.
//
// Plain text and markdown files are accepted. The declared type and file
// extension must name one of those, and the content itself must sniff as
// UTF-8 text. PDF, Word documents and images are rejected with
// UNSUPPORTED_FILE_TYPE; files over MaxResumeFileSize with FILE_TOO_LARGE.
func ExtractResumeText(filename, mimeType string, data []byte) (string, error) {
	if len(data) > MaxResumeFileSize {
		return "", errFileTooLarge()
	}
	if len(data) == 0 {
		return "", newAppError(CodeInvalidRequest, http.StatusBadRequest, "resume_file is empty")
	}

	ext := strings.ToLower(filepath.Ext(filename))
	declared := ""
	if mimeType != "" {
		parsed, _, err := mime.ParseMediaType(mimeType)
		if err != nil {
			return "", errUnsupportedFile(mimeType)
		}
		declared = parsed
	}
	if !resumeExtensions[ext] || !resumeMediaTypes[declared] {
		slog.Warn("Resume upload rejected", "filename", filename, "declared_type", mimeType)
		return "", errUnsupportedFile(firstNonEmpty(declared, ext))
	}

	detected := mimetype.Detect(data)
	if !detected.Is("text/plain") || !utf8.Valid(data) {
		slog.Warn("Resume upload rejected", "filename", filename, "detected_type", detected.String())
		return "", errUnsupportedFile(detected.String())
	}

	text := strings.TrimSpace(strings.TrimPrefix(string(data), "\ufeff"))
	if text == "" {
		return "", newAppError(CodeInvalidRequest, http.StatusBadRequest, "resume_file has no text")
	}
	return text, nil
}

func errFileTooLarge() *AppError {
	return newAppError(CodeFileTooLarge, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("resume_file must not exceed %dMB", MaxResumeFileSize>>20))
}

func errUnsupportedFile(kind string) *AppError {
	return newAppError(CodeUnsupportedFileType, http.StatusUnsupportedMediaType,
		fmt.Sprintf("unsupported resume file type %q: upload a .txt or .md file, or send resume_content", kind))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
