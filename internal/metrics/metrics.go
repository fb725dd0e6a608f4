// Package metrics exposes prometheus instrumentation for the analysis
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnalysesTotal counts analyze_study outcomes by final status.
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "doctorfy",
		Name:      "study_analyses_total",
		Help:      "Study analysis runs by outcome.",
	}, []string{"outcome"})

	// DiagnosesTotal counts integrated diagnosis outcomes.
	DiagnosesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "doctorfy",
		Name:      "integrated_diagnoses_total",
		Help:      "Integrated diagnosis runs by outcome.",
	}, []string{"outcome"})

	// ProviderDuration observes wall-clock latency of model calls.
	ProviderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "doctorfy",
		Name:      "provider_request_seconds",
		Help:      "Latency of remote model requests.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 11),
	})

	// CreditsDebited totals credits charged for successful operations.
	CreditsDebited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "doctorfy",
		Name:      "credits_debited_total",
		Help:      "Credits debited, by ledger reason.",
	}, []string{"reason"})
)
