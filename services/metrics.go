package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mockmate",
		Subsystem: "interview",
		Name:      "transitions_total",
		Help:      "Session transitions by operation and caller-facing outcome code.",
	}, []string{"transition", "outcome"})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mockmate",
		Subsystem: "interview",
		Name:      "fallbacks_total",
		Help:      "Deterministic substitutes used after provider exhaustion, by prompt phase.",
	}, []string{"phase"})

	reportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mockmate",
		Subsystem: "interview",
		Name:      "reports_total",
		Help:      "Report generation runs by outcome (generated, placeholder, failed).",
	}, []string{"outcome"})

	sweptSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mockmate",
		Subsystem: "interview",
		Name:      "swept_sessions_total",
		Help:      "Sessions touched by the background sweeper, by action.",
	}, []string{"action"})
)

func observeTransition(transition string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = ErrorCodeOf(err)
	}
	transitionsTotal.WithLabelValues(transition, outcome).Inc()
}
