package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mockmate",
		Subsystem: "llm",
		Name:      "requests_total",
		Help:      "Provider generation calls by outcome, counted once per gateway call.",
	}, []string{"provider", "outcome"})

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mockmate",
		Subsystem: "llm",
		Name:      "request_duration_seconds",
		Help:      "Wall time of a gateway call including retries.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
	}, []string{"provider"})

	providerRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mockmate",
		Subsystem: "llm",
		Name:      "retries_total",
		Help:      "Retries scheduled after a failed provider attempt.",
	}, []string{"provider"})
)
