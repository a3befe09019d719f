// Package llm is the uniform text-generation layer over the supported AI vendors.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ProviderName identifies one of the closed set of supported vendors
type ProviderName string

const (
	ProviderGoogle ProviderName = "GOOGLE"
	ProviderOpenAI ProviderName = "OPENAI"
	ProviderOllama ProviderName = "OLLAMA"
)

// Providers lists every supported provider in display order
var Providers = []ProviderName{ProviderGoogle, ProviderOpenAI, ProviderOllama}

// ParseProvider validates a provider tag against the closed set
func ParseProvider(s string) (ProviderName, bool) {
	name := ProviderName(strings.ToUpper(strings.TrimSpace(s)))
	for _, p := range Providers {
		if p == name {
			return p, true
		}
	}
	return "", false
}

// TurnRole is a vendor-neutral history role. Adapters map it to their own labels.
type TurnRole string

const (
	TurnUser      TurnRole = "user"
	TurnAssistant TurnRole = "assistant"
)

// Turn is one prior exchange in the conversation history
type Turn struct {
	Role    TurnRole
	Content string
}

// Request is a single generation call
type Request struct {
	Model   string
	System  string
	Prompt  string
	History []Turn
}

// GenerationParams are the provider-agnostic sampling settings
type GenerationParams struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// DefaultGenerationParams matches the settings used for every interview phase
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Temperature: 0.7,
		TopP:        0.9,
		MaxTokens:   2048,
	}
}

// Provider is the single capability every vendor adapter implements
type Provider interface {
	Name() ProviderName
	Generate(ctx context.Context, req Request) (string, error)
}

// Error codes carried by ProviderError
const (
	CodeNotConfigured   = "PROVIDER_NOT_CONFIGURED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
	CodeInvalidResponse = "INVALID_RESPONSE"
	CodeRequestFailed   = "REQUEST_FAILED"
)

// ProviderError is returned by adapters and the gateway
type ProviderError struct {
	Provider ProviderName
	Code     string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s provider error (%s): %s: %v", e.Provider, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s provider error (%s): %s", e.Provider, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed
func (e *ProviderError) Retryable() bool {
	return e.Code != CodeNotConfigured
}

// NotConfigured builds the fail-fast error for a provider without credentials or client
func NotConfigured(provider ProviderName) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Code:     CodeNotConfigured,
		Message:  "provider is not configured",
	}
}

// IsNotConfigured reports whether err is a PROVIDER_NOT_CONFIGURED failure
func IsNotConfigured(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Code == CodeNotConfigured
}

// ErrorCode extracts the provider error code, or CodeRequestFailed for foreign errors
func ErrorCode(err error) string {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Code
	}
	return CodeRequestFailed
}

// Unreachable reports whether err means the provider endpoint could not be
// contacted at all: refused connections, failed dials and unknown hosts.
// Errors on an established connection do not count.
func Unreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// unreachableError builds the fail-fast error for an endpoint that cannot be contacted
func unreachableError(provider ProviderName, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Code:     CodeNotConfigured,
		Message:  "provider endpoint unreachable",
		Err:      err,
	}
}
