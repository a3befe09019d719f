package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	ws "github.com/krshsl/mockmate/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h *harness, jwtSecret string) (*httptest.Server, *AuthService) {
	t.Helper()
	cfg := &Config{}
	cfg.CORS.AllowedOrigins = "http://localhost:3000"

	hub := ws.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	auth := NewAuthService(h.repo, jwtSecret)
	server := NewServer(ServerDeps{
		Config:             cfg,
		DB:                 h.db,
		Cache:              h.cache,
		AuthService:        auth,
		InterviewEndpoints: NewInterviewEndpoints(h.interviewer),
		AdminEndpoints:     NewAdminEndpoints(h.templates, h.errorLog, h.cache),
		WebSocketHandler:   NewWebSocketHandler(h.interviewer, hub, "*"),
		Hub:                hub,
		Reports:            h.reports,
	})
	ts := httptest.NewServer(server.SetupRoutes())
	t.Cleanup(ts.Close)
	return ts, auth
}

type apiClient struct {
	t       *testing.T
	baseURL string
	cookies []*http.Cookie
}

func (c *apiClient) do(method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	c.t.Helper()
	var reader *bytes.Reader
	if s, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(s))
	} else {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if cookies := resp.Cookies(); len(cookies) > 0 {
		c.cookies = cookies
	}

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthAndIndex(t *testing.T) {
	h := newHarness(t)
	ts, _ := newTestServer(t, h, "")
	c := &apiClient{t: t, baseURL: ts.URL}

	resp, body := c.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "up", body["database"])
	assert.Equal(t, "memory", body["cache"])

	_, body = c.do(http.MethodGet, "/api/v1/", nil)
	assert.Equal(t, "disabled", body["auth"])

	resp, _ = c.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInterviewOverHTTP(t *testing.T) {
	h := newHarness(t)
	ts, _ := newTestServer(t, h, "")
	c := &apiClient{t: t, baseURL: ts.URL}

	resp, body := c.do(http.MethodPost, "/api/v1/interview/start", map[string]string{
		"position":       "Backend Engineer",
		"resume_content": "Go and Postgres",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["session_id"].(string)
	assert.Equal(t, false, body["confirmed"])

	resp, body = c.do(http.MethodPost, "/api/v1/interview/start_session", map[string]interface{}{"session_id": id})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, CodeSessionNotConfirmed, body["error"])

	resp, body = c.do(http.MethodPost, "/api/v1/interview/configure", map[string]string{"session_id": id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["confirmed"])

	resp, body = c.do(http.MethodPost, "/api/v1/interview/start_session", map[string]interface{}{
		"session_id":      id,
		"total_questions": 1,
		"difficulty":      "Junior",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "How would you design a rate limiter?", body["question"])
	assert.Equal(t, "IN_PROGRESS", body["status"])

	resp, body = c.do(http.MethodPost, "/api/v1/interview/submit_answer", map[string]string{
		"session_id": id,
		"answer":     "Token bucket per client key.",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["is_complete"])
	assert.Nil(t, body["question"])

	h.reports.Wait()
	resp, body = c.do(http.MethodGet, "/api/v1/interview/report?session_id="+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 82.0, body["overall_score"])

	resp, body = c.do(http.MethodGet, "/api/v1/sessions/"+id+"/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.0, body["count"])

	resp, _ = c.do(http.MethodDelete, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, body = c.do(http.MethodGet, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, CodeSessionNotFound, body["error"])
}

func TestInterviewRequestErrors(t *testing.T) {
	h := newHarness(t)
	ts, _ := newTestServer(t, h, "")
	c := &apiClient{t: t, baseURL: ts.URL}

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"malformed body", http.MethodPost, "/api/v1/interview/start", "{not json", http.StatusBadRequest, CodeInvalidRequest},
		{"missing fields", http.MethodPost, "/api/v1/interview/start", map[string]string{"position": "SRE"}, http.StatusBadRequest, CodeMissingRequiredFields},
		{"missing session id", http.MethodPost, "/api/v1/interview/submit_answer", map[string]string{"answer": "x"}, http.StatusBadRequest, CodeMissingSessionID},
		{"unknown session", http.MethodPost, "/api/v1/interview/configure", map[string]string{"session_id": "nope"}, http.StatusNotFound, CodeSessionNotFound},
		{"report without id", http.MethodGet, "/api/v1/interview/report", nil, http.StatusBadRequest, CodeMissingSessionID},
		{"bad log limit", http.MethodGet, "/api/v1/admin/logs?limit=0", nil, http.StatusBadRequest, CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := c.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, body["error"])
		})
	}
}

func TestReportNotReadyBeforeCompletion(t *testing.T) {
	h := newHarness(t)
	ts, _ := newTestServer(t, h, "")
	c := &apiClient{t: t, baseURL: ts.URL}

	id := h.startedSession(t, 3)
	resp, body := c.do(http.MethodGet, "/api/v1/interview/report?session_id="+id, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, CodeReportNotReady, body["error"])
}

func TestAuthenticatedOwnership(t *testing.T) {
	h := newHarness(t)
	ts, auth := newTestServer(t, h, "test-secret")

	anon := &apiClient{t: t, baseURL: ts.URL}
	resp, body := anon.do(http.MethodGet, "/api/v1/sessions/", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, CodeUnauthorized, body["error"])

	alice := &apiClient{t: t, baseURL: ts.URL}
	resp, _ = alice.do(http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"email": "alice@example.com", "password": "correct-horse", "full_name": "Alice",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = alice.do(http.MethodPost, "/api/v1/interview/start", map[string]string{
		"position":        "SRE",
		"resume_content":  "On-call veteran",
		"job_description": "Run the platform",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["session_id"].(string)

	_, body = alice.do(http.MethodGet, "/api/v1/sessions/", nil)
	assert.Equal(t, 1.0, body["count"])

	bob := &apiClient{t: t, baseURL: ts.URL}
	resp, _ = bob.do(http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"email": "bob@example.com", "password": "battery-staple",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = bob.do(http.MethodGet, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, CodeSessionNotFound, body["error"])

	_, body = bob.do(http.MethodGet, "/api/v1/sessions/", nil)
	assert.Equal(t, 0.0, body["count"])

	resp, body = bob.do(http.MethodGet, "/api/v1/admin/logs", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, CodeForbidden, body["error"])

	// Admins see every session and the admin routes
	_, err := auth.CreateUser(t.Context(), "root@example.com", "admin-password", "Root", "admin")
	require.NoError(t, err)
	admin := &apiClient{t: t, baseURL: ts.URL}
	resp, _ = admin.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "root@example.com", "password": "admin-password",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = admin.do(http.MethodGet, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = admin.do(http.MethodGet, "/api/v1/admin/prompts", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminCacheClear(t *testing.T) {
	h := newHarness(t)
	ts, _ := newTestServer(t, h, "")
	c := &apiClient{t: t, baseURL: ts.URL}

	id := h.startedSession(t, 3)
	_, err := h.store.Get(t.Context(), id)
	require.NoError(t, err)

	resp, body := c.do(http.MethodPost, "/api/v1/admin/cache/clear", map[string]string{"prefix": "session:"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, body["removed"])

	resp, body = c.do(http.MethodPost, "/api/v1/admin/cache/clear", map[string]string{"prefix": "users:"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeInvalidRequest, body["error"])
}

func readEvent(t *testing.T, conn *websocket.Conn) ws.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event ws.Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestWebSocketAnswerFlow(t *testing.T) {
	h := newHarness(t)
	ts, _ := newTestServer(t, h, "")
	id := h.startedSession(t, 2)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?session_id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	event := readEvent(t, conn)
	assert.Equal(t, "connected", event.Type)
	data := event.Data.(map[string]interface{})
	assert.Equal(t, "IN_PROGRESS", data["status"])
	assert.Equal(t, "How would you design a rate limiter?", data["question"])

	require.NoError(t, conn.WriteJSON(ws.Message{Type: "ping"}))
	assert.Equal(t, "pong", readEvent(t, conn).Type)

	require.NoError(t, conn.WriteJSON(ws.Message{Type: "answer", Content: "A token bucket."}))
	event = readEvent(t, conn)
	assert.Equal(t, "answer_accepted", event.Type)
	data = event.Data.(map[string]interface{})
	assert.Equal(t, 1.0, data["current_question_index"])

	require.NoError(t, conn.WriteJSON(ws.Message{Type: "answer", Content: "   "}))
	event = readEvent(t, conn)
	assert.Equal(t, "error", event.Type)
	assert.Equal(t, CodeMissingAnswer, event.Data.(map[string]interface{})["code"])
}

func TestWebSocketRequiresSession(t *testing.T) {
	h := newHarness(t)
	ts, _ := newTestServer(t, h, "")
	base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(base+"?session_id=missing", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
