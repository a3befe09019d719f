package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubOllama(t *testing.T, handler http.HandlerFunc) *OllamaProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewOllamaProvider(server.URL, DefaultGenerationParams())
	require.NoError(t, err)
	return p
}

func TestOllamaProviderGenerate(t *testing.T) {
	var body struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	p := newStubOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Write([]byte(`{"model":"llama3.1:8b","message":{"role":"assistant","content":"  Describe a hard bug.  "},"done":true}` + "\n"))
	})

	text, err := p.Generate(context.Background(), Request{
		Model:  "llama3.1:8b",
		System: "You are an interviewer.",
		Prompt: "Next question",
		History: []Turn{
			{Role: TurnAssistant, Content: "Q1"},
			{Role: TurnUser, Content: "A1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Describe a hard bug.", text)

	assert.Equal(t, "llama3.1:8b", body.Model)
	roles := make([]string, 0, len(body.Messages))
	for _, m := range body.Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []string{"system", "assistant", "user", "user"}, roles)
}

func TestOllamaProviderServerError(t *testing.T) {
	p := newStubOllama(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"model not loaded"}` + "\n"))
	})

	_, err := p.Generate(context.Background(), Request{Model: "llama3.1:8b", Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, CodeUnavailable, ErrorCode(err))
}

func TestOllamaProviderUnreachableFailsFast(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	p, err := NewOllamaProvider(url, DefaultGenerationParams())
	require.NoError(t, err)

	var sleeps []time.Duration
	retry := NewRetryPolicy(3, time.Second).WithSleeper(func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	})
	g := NewGateway(retry, p)
	require.True(t, g.Available(ProviderOllama))

	res, err := g.Generate(context.Background(), ProviderOllama, Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, IsNotConfigured(err))
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, sleeps)

	assert.False(t, g.Available(ProviderOllama))
	for _, info := range g.Models() {
		if info.Provider == ProviderOllama {
			assert.False(t, info.Configured)
		}
	}
}

func TestUnreachable(t *testing.T) {
	assert.False(t, Unreachable(nil))
	assert.False(t, Unreachable(context.DeadlineExceeded))
	assert.False(t, Unreachable(&ProviderError{Code: CodeUnavailable}))
}

func TestOllamaProviderRequiresURL(t *testing.T) {
	_, err := NewOllamaProvider("", DefaultGenerationParams())
	assert.True(t, IsNotConfigured(err))
}
