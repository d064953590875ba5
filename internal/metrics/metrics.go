// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

// Package metrics provides Prometheus instrumentation for the feedback
// store, feature cache, candidate aggregation, and API surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feedback store metrics

	FeedbackWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_writes_total",
			Help: "Total feedback events durably recorded, by event type",
		},
		[]string{"event_type"},
	)

	FeedbackWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_write_errors_total",
			Help: "Total failed feedback writes, by error kind",
		},
		[]string{"kind"},
	)

	FeedbackWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedback_write_duration_seconds",
			Help:    "Durable append latency for feedback events",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Feature cache metrics

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_cache_hits_total",
			Help: "Cache hits, by freshness (fresh or soft_stale)",
		},
		[]string{"freshness"},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feature_cache_misses_total",
			Help: "Cache misses requiring candidate aggregation",
		},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_cache_evictions_total",
			Help: "Entries evicted, by reason (lru, ttl, invalidated)",
		},
		[]string{"reason"},
	)

	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feature_cache_entries",
			Help: "Current number of cached entries",
		},
	)

	RefreshesCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feature_cache_refreshes_coalesced_total",
			Help: "Background refresh requests merged into an in-flight refresh",
		},
	)

	RefreshesExecuted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feature_cache_refreshes_executed_total",
			Help: "Background refreshes actually executed",
		},
	)

	// Model collaborator metrics

	ModelRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_requests_total",
			Help: "Model collaborator calls, by outcome (ok, timeout, error, rejected)",
		},
		[]string{"outcome"},
	)

	ModelRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "model_request_duration_seconds",
			Help:    "Model collaborator call latency",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.8},
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Trending metrics

	TrendingRecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trending_recompute_duration_seconds",
			Help:    "Time to rebuild the trending snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	TrendingSnapshotItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trending_snapshot_items",
			Help: "Items in the current global trending snapshot",
		},
	)

	// API metrics

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "API requests, by route and status code",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request latency, by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Event bus metrics

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Events published on the in-process bus, by topic",
		},
		[]string{"topic"},
	)

	InvalidationsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_invalidations_processed_total",
			Help: "Feedback-driven cache invalidations applied",
		},
	)
)

// ObserveModelRequest records a model call outcome with its duration.
func ObserveModelRequest(outcome string, start time.Time) {
	ModelRequests.WithLabelValues(outcome).Inc()
	ModelRequestDuration.Observe(time.Since(start).Seconds())
}
