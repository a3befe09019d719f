package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name     ProviderName
	replies  []string
	failures int
	calls    int
	lastReq  Request
}

func (f *fakeProvider) Name() ProviderName { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, req Request) (string, error) {
	f.calls++
	f.lastReq = req
	if f.calls <= f.failures {
		return "", &ProviderError{Provider: f.name, Code: CodeUnavailable, Message: "unavailable"}
	}
	if len(f.replies) == 0 {
		return "reply", nil
	}
	return f.replies[(f.calls-f.failures-1)%len(f.replies)], nil
}

func noWaitPolicy() *RetryPolicy {
	return NewRetryPolicy(3, time.Second).WithSleeper(func(ctx context.Context, d time.Duration) error { return nil })
}

func TestGatewayUnregisteredProviderIsNotConfigured(t *testing.T) {
	g := NewGateway(noWaitPolicy(), &fakeProvider{name: ProviderGoogle})

	res, err := g.Generate(context.Background(), ProviderOpenAI, Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, IsNotConfigured(err))
	assert.Equal(t, 1, res.Attempts)
}

func TestGatewayResolvesDefaultModelAndRetries(t *testing.T) {
	p := &fakeProvider{name: ProviderGoogle, failures: 1, replies: []string{"question?"}}
	g := NewGateway(noWaitPolicy(), p)

	res, err := g.Generate(context.Background(), ProviderGoogle, Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "question?", res.Text)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "gemini-2.5-flash", p.lastReq.Model)
}

func TestGatewayModelsCatalog(t *testing.T) {
	g := NewGateway(noWaitPolicy(), &fakeProvider{name: ProviderOllama}, nil)

	infos := g.Models()
	require.Len(t, infos, 3)
	byProvider := map[ProviderName]ModelInfo{}
	for _, info := range infos {
		byProvider[info.Provider] = info
	}
	assert.Equal(t, "gpt-4o", byProvider[ProviderOpenAI].DefaultModel)
	assert.False(t, byProvider[ProviderOpenAI].Configured)
	assert.True(t, byProvider[ProviderOllama].Configured)
	assert.Contains(t, byProvider[ProviderGoogle].Models, "gemini-pro")
}

func TestParseProviderAndResolveModel(t *testing.T) {
	tests := []struct {
		input string
		want  ProviderName
		ok    bool
	}{
		{"GOOGLE", ProviderGoogle, true},
		{" openai ", ProviderOpenAI, true},
		{"Ollama", ProviderOllama, true},
		{"BOGUS", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseProvider(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	model, ok := ResolveModel(ProviderOllama, "")
	assert.True(t, ok)
	assert.Equal(t, "llama3.1:8b", model)

	_, ok = ResolveModel(ProviderOpenAI, "gemini-pro")
	assert.False(t, ok)
}
