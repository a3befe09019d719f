package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider is the GOOGLE adapter. History uses the user/model role labels.
type GeminiProvider struct {
	genaiClient *genai.Client
	params      GenerationParams
}

// NewGeminiProvider creates a genai client for the Gemini API backend
func NewGeminiProvider(ctx context.Context, apiKey string, params GenerationParams) (*GeminiProvider, error) {
	return NewGeminiProviderWithConfig(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, params)
}

// NewGeminiProviderWithConfig allows overriding the HTTP client and base URL
func NewGeminiProviderWithConfig(ctx context.Context, cfg *genai.ClientConfig, params GenerationParams) (*GeminiProvider, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, NotConfigured(ProviderGoogle)
	}
	genaiClient, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiProvider{genaiClient: genaiClient, params: params}, nil
}

func (g *GeminiProvider) Name() ProviderName {
	return ProviderGoogle
}

func (g *GeminiProvider) Generate(ctx context.Context, req Request) (string, error) {
	if g == nil || g.genaiClient == nil {
		return "", NotConfigured(ProviderGoogle)
	}

	contents := g.buildContents(req)

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(g.params.Temperature)),
		TopP:            genai.Ptr(float32(g.params.TopP)),
		MaxOutputTokens: int32(g.params.MaxTokens),
	}
	if strings.TrimSpace(req.System) != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	result, err := g.genaiClient.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return "", classifyGeminiError(err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", &ProviderError{
			Provider: ProviderGoogle,
			Code:     CodeInvalidResponse,
			Message:  "empty response",
		}
	}
	return text, nil
}

func (g *GeminiProvider) buildContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		// Skip empty or whitespace-only content
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		if turn.Role == TurnAssistant {
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleModel))
		} else {
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleUser))
		}
	}
	contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))
	return contents
}

func classifyGeminiError(err error) error {
	if Unreachable(err) {
		return unreachableError(ProviderGoogle, err)
	}
	perr := &ProviderError{
		Provider: ProviderGoogle,
		Code:     CodeRequestFailed,
		Message:  "failed to generate content",
		Err:      err,
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden:
			perr.Code = CodeNotConfigured
			perr.Message = "api key rejected"
		case apiErr.Code == http.StatusTooManyRequests:
			perr.Code = CodeRateLimited
			perr.Message = "rate limit exceeded"
		case apiErr.Code >= http.StatusInternalServerError:
			perr.Code = CodeUnavailable
			perr.Message = "service unavailable"
		}
	}
	return perr
}
