package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/krshsl/mockmate/llm")

// Result is the outcome of a gateway call. Attempts is set on failure too.
type Result struct {
	Text     string
	Attempts int
}

// Gateway dispatches requests to the registered provider through the retry policy
type Gateway struct {
	providers map[ProviderName]Provider
	retry     *RetryPolicy

	mu          sync.RWMutex
	unreachable map[ProviderName]bool
}

// NewGateway registers the configured adapters; providers left out report PROVIDER_NOT_CONFIGURED
func NewGateway(retry *RetryPolicy, providers ...Provider) *Gateway {
	if retry == nil {
		retry = NewRetryPolicy(3, time.Second)
	}
	g := &Gateway{
		providers:   make(map[ProviderName]Provider),
		retry:       retry,
		unreachable: make(map[ProviderName]bool),
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		g.providers[p.Name()] = p
		slog.Info("LLM provider registered", "provider", p.Name())
	}
	return g
}

// Configured reports whether an adapter is registered for p
func (g *Gateway) Configured(p ProviderName) bool {
	_, ok := g.providers[p]
	return ok
}

// Available reports whether p is registered and its last call did not find the endpoint unreachable
func (g *Gateway) Available(p ProviderName) bool {
	if !g.Configured(p) {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return !g.unreachable[p]
}

func (g *Gateway) markReachable(p ProviderName, reachable bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unreachable[p] == !reachable {
		return
	}
	g.unreachable[p] = !reachable
	if reachable {
		slog.Info("LLM provider reachable again", "provider", p)
	} else {
		slog.Warn("LLM provider unreachable", "provider", p)
	}
}

// Models returns the catalog annotated with availability
func (g *Gateway) Models() []ModelInfo {
	infos := make([]ModelInfo, 0, len(Providers))
	for _, p := range Providers {
		models := append([]string(nil), catalog[p]...)
		infos = append(infos, ModelInfo{
			Provider:     p,
			DefaultModel: DefaultModel(p),
			Models:       models,
			Configured:   g.Available(p),
		})
	}
	return infos
}

// Generate sends req to provider with retry. An empty model resolves to the provider default.
func (g *Gateway) Generate(ctx context.Context, provider ProviderName, req Request) (Result, error) {
	if req.Model == "" {
		req.Model = DefaultModel(provider)
	}

	ctx, span := tracer.Start(ctx, "llm.Generate", trace.WithAttributes(
		attribute.String("llm.provider", string(provider)),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.history_turns", len(req.History)),
	))
	defer span.End()

	start := time.Now()
	adapter, ok := g.providers[provider]
	if !ok {
		err := NotConfigured(provider)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Code)
		providerRequests.WithLabelValues(string(provider), "not_configured").Inc()
		return Result{Attempts: 1}, err
	}

	text, attempts, err := g.retry.Do(ctx, provider, func(ctx context.Context) (string, error) {
		return adapter.Generate(ctx, req)
	})
	providerLatency.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("llm.attempts", attempts))

	if err != nil {
		if Unreachable(err) {
			g.markReachable(provider, false)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorCode(err))
		providerRequests.WithLabelValues(string(provider), "error").Inc()
		slog.Error("Provider call failed",
			"provider", provider,
			"model", req.Model,
			"attempts", attempts,
			"error", err)
		return Result{Attempts: attempts}, err
	}

	g.markReachable(provider, true)
	providerRequests.WithLabelValues(string(provider), "success").Inc()
	slog.Debug("Provider call succeeded",
		"provider", provider,
		"model", req.Model,
		"attempts", attempts,
		"response_length", len(text))
	return Result{Text: text, Attempts: attempts}, nil
}
