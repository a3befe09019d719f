package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryPolicy runs a provider call up to MaxAttempts times with exponential
// backoff of BaseDelay * 2^attempt between attempts. It never sleeps after
// the final attempt and never retries PROVIDER_NOT_CONFIGURED.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy returns a policy; non-positive values fall back to 3 attempts and 1s
func NewRetryPolicy(maxAttempts int, baseDelay time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		sleep:       sleepContext,
	}
}

// WithSleeper replaces the wait function, for tests
func (p *RetryPolicy) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *RetryPolicy {
	p.sleep = sleep
	return p
}

// Backoff returns the wait after the given 1-based failed attempt
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<uint(attempt))
}

// Do invokes fn until it succeeds, fails terminally, or attempts run out.
// It returns the number of attempts made alongside the result.
func (p *RetryPolicy) Do(ctx context.Context, provider ProviderName, fn func(ctx context.Context) (string, error)) (string, int, error) {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		text, err := fn(ctx)
		if err == nil {
			return text, attempt, nil
		}
		lastErr = err

		var perr *ProviderError
		if errors.As(err, &perr) && !perr.Retryable() {
			return "", attempt, err
		}
		if ctx.Err() != nil {
			return "", attempt, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Backoff(attempt)
		providerRetries.WithLabelValues(string(provider)).Inc()
		slog.Warn("Provider call failed, retrying",
			"provider", provider,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"delay", delay,
			"error", err)

		if err := p.sleep(ctx, delay); err != nil {
			return "", attempt, lastErr
		}
	}
	return "", p.MaxAttempts, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
