package services

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractResumeText(t *testing.T) {
	text, err := ExtractResumeText("resume.txt", "text/plain; charset=utf-8", []byte("\ufeff  Jane Doe\nGo, Postgres, Kubernetes\n"))
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\nGo, Postgres, Kubernetes", text)

	text, err = ExtractResumeText("resume.md", "text/markdown", []byte("# Jane Doe\n\n- Seven years of Go\n"))
	require.NoError(t, err)
	assert.Contains(t, text, "Seven years of Go")

	text, err = ExtractResumeText("resume", "", []byte("Plain text without an extension"))
	require.NoError(t, err)
	assert.Equal(t, "Plain text without an extension", text)
}

func TestExtractResumeTextRejections(t *testing.T) {
	pdf := []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	png := append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

	tests := []struct {
		name     string
		filename string
		mimeType string
		data     []byte
		code     string
		status   int
	}{
		{"pdf by type", "resume.pdf", "application/pdf", pdf, CodeUnsupportedFileType, http.StatusUnsupportedMediaType},
		{"docx by extension", "resume.docx", "", []byte("PK\x03\x04 word/document.xml"), CodeUnsupportedFileType, http.StatusUnsupportedMediaType},
		{"pdf renamed to txt", "resume.txt", "text/plain", pdf, CodeUnsupportedFileType, http.StatusUnsupportedMediaType},
		{"image renamed to txt", "resume.txt", "", png, CodeUnsupportedFileType, http.StatusUnsupportedMediaType},
		{"invalid utf8", "resume.txt", "text/plain", []byte("caf\xe9 owner"), CodeUnsupportedFileType, http.StatusUnsupportedMediaType},
		{"malformed declared type", "resume.txt", "text/;;", []byte("hello"), CodeUnsupportedFileType, http.StatusUnsupportedMediaType},
		{"empty file", "resume.txt", "text/plain", nil, CodeInvalidRequest, http.StatusBadRequest},
		{"whitespace only", "resume.txt", "text/plain", []byte("  \n\t "), CodeInvalidRequest, http.StatusBadRequest},
		{"too large", "resume.txt", "text/plain", bytes.Repeat([]byte("a"), MaxResumeFileSize+1), CodeFileTooLarge, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractResumeText(tt.filename, tt.mimeType, tt.data)
			var appErr *AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.status, appErr.Status)
		})
	}
}

// postResumeForm sends a multipart create request with an optional resume file
func postResumeForm(t *testing.T, url string, fields map[string]string, filename, contentType string, file []byte) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", `form-data; name="resume_file"; filename="`+filename+`"`)
		if contentType != "" {
			header.Set("Content-Type", contentType)
		}
		part, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/api/v1/interview/start", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestCreateSessionWithResumeFile(t *testing.T) {
	h := newHarness(t)
	ts, _ := newTestServer(t, h, "")

	resp, body := postResumeForm(t, ts.URL, map[string]string{"position": "Backend Engineer"},
		"resume.txt", "text/plain", []byte("Go and Postgres\nBuilt a payments ledger"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	session, err := h.store.Get(t.Context(), body["session_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "Go and Postgres\nBuilt a payments ledger", session.ResumeContent)

	// resume_content takes precedence over the uploaded file
	resp, body = postResumeForm(t, ts.URL, map[string]string{"position": "SRE", "resume_content": "Typed resume"},
		"resume.md", "text/markdown", []byte("# Uploaded resume"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	session, err = h.store.Get(t.Context(), body["session_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "Typed resume", session.ResumeContent)
}

func TestCreateSessionResumeFileErrors(t *testing.T) {
	h := newHarness(t)
	ts, _ := newTestServer(t, h, "")

	resp, body := postResumeForm(t, ts.URL, map[string]string{"position": "SRE"},
		"resume.pdf", "application/pdf", []byte("%PDF-1.4\n"))
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Equal(t, CodeUnsupportedFileType, body["error"])

	resp, body = postResumeForm(t, ts.URL, map[string]string{"position": "SRE"},
		"resume.txt", "text/plain", bytes.Repeat([]byte("a"), MaxResumeFileSize+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, CodeFileTooLarge, body["error"])

	resp, body = postResumeForm(t, ts.URL, map[string]string{"position": "SRE"}, "", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeMissingRequiredFields, body["error"])
}
