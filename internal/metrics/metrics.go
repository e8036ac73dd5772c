// Package metrics exposes Prometheus collectors for the retrieval engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TierAttempts counts strategy attempts, labeled by tier and outcome.
	TierAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retriever_tier_attempts_total",
		Help: "Total acquisition tier attempts, labeled by tier and outcome.",
	}, []string{"tier", "outcome"})

	// CacheHits counts result cache hits.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retriever_cache_hits_total",
		Help: "Total result cache hits.",
	})

	// CacheMisses counts result cache misses, including expired entries.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retriever_cache_misses_total",
		Help: "Total result cache misses.",
	})

	// CooldownsRegistered counts cooldown windows set by the rate governor.
	CooldownsRegistered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retriever_cooldowns_registered_total",
		Help: "Total cooldown windows registered, labeled by HTTP status class.",
	}, []string{"status"})

	// SessionRotations counts forced egress session rotations.
	SessionRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retriever_session_rotations_total",
		Help: "Total forced egress session rotations.",
	})

	// RetrievalDuration observes end-to-end retrieval latency by final tier.
	RetrievalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retriever_retrieval_duration_seconds",
		Help:    "End-to-end retrieval duration, labeled by the tier that satisfied it.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"tier"})

	// TranscriptDuration observes transcript pipeline latency by outcome.
	TranscriptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retriever_transcript_duration_seconds",
		Help:    "Transcript pipeline duration, labeled by outcome.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
	}, []string{"outcome"})

	// BudgetAborts counts requests terminated by budget exhaustion.
	BudgetAborts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retriever_budget_aborts_total",
		Help: "Total requests aborted because the wall-clock budget ran out.",
	})
)
