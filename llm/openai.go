package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider is the OPENAI adapter. History uses the user/assistant role labels
// and the system instruction is sent as a leading system message.
type OpenAIProvider struct {
	client *openai.Client
	params GenerationParams
}

// NewOpenAIProvider builds a client; baseURL may be empty for the public API
func NewOpenAIProvider(apiKey, baseURL string, params GenerationParams) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, NotConfigured(ProviderOpenAI)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		params: params,
	}, nil
}

func (o *OpenAIProvider) Name() ProviderName {
	return ProviderOpenAI
}

func (o *OpenAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	if o == nil || o.client == nil {
		return "", NotConfigured(ProviderOpenAI)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, turn := range req.History {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		if turn.Role == TurnAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(o.params.Temperature),
		TopP:        float32(o.params.TopP),
		MaxTokens:   o.params.MaxTokens,
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &ProviderError{
			Provider: ProviderOpenAI,
			Code:     CodeInvalidResponse,
			Message:  "empty response",
		}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classifyOpenAIError(err error) error {
	if Unreachable(err) {
		return unreachableError(ProviderOpenAI, err)
	}
	perr := &ProviderError{
		Provider: ProviderOpenAI,
		Code:     CodeRequestFailed,
		Message:  "chat completion failed",
		Err:      err,
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized, apiErr.HTTPStatusCode == http.StatusForbidden:
			// Rejected keys are terminal
			perr.Code = CodeNotConfigured
			perr.Message = "api key rejected"
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			perr.Code = CodeRateLimited
			perr.Message = "rate limit exceeded"
		case apiErr.HTTPStatusCode >= http.StatusInternalServerError:
			perr.Code = CodeUnavailable
			perr.Message = "service unavailable"
		}
	}
	return perr
}
