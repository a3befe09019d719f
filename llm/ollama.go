package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaProvider is the OLLAMA adapter backed by langchaingo's ollama client.
// History is framed as human/ai chat messages.
type OllamaProvider struct {
	llm    *ollama.LLM
	params GenerationParams
}

// NewOllamaProvider points at a local ollama server, e.g. http://localhost:11434
func NewOllamaProvider(serverURL string, params GenerationParams) (*OllamaProvider, error) {
	if serverURL == "" {
		return nil, NotConfigured(ProviderOllama)
	}
	client, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(DefaultModel(ProviderOllama)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return &OllamaProvider{llm: client, params: params}, nil
}

func (o *OllamaProvider) Name() ProviderName {
	return ProviderOllama
}

func (o *OllamaProvider) Generate(ctx context.Context, req Request) (string, error) {
	if o == nil || o.llm == nil {
		return "", NotConfigured(ProviderOllama)
	}

	messages := make([]llms.MessageContent, 0, len(req.History)+2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, turn := range req.History {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		role := llms.ChatMessageTypeHuman
		if turn.Role == TurnAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, turn.Content))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	resp, err := o.llm.GenerateContent(ctx, messages,
		llms.WithModel(req.Model),
		llms.WithTemperature(o.params.Temperature),
		llms.WithTopP(o.params.TopP),
		llms.WithMaxTokens(o.params.MaxTokens),
	)
	if err != nil {
		if Unreachable(err) {
			return "", unreachableError(ProviderOllama, err)
		}
		return "", &ProviderError{
			Provider: ProviderOllama,
			Code:     CodeUnavailable,
			Message:  "ollama request failed",
			Err:      err,
		}
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", &ProviderError{
			Provider: ProviderOllama,
			Code:     CodeInvalidResponse,
			Message:  "empty response",
		}
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
