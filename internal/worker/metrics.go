// Package worker implements the processor loop that drains the ingredient
// queue: requeue expired leases, claim a batch, dedupe by normalized key,
// standardize via the AI client in bounded-concurrency chunks, double-check
// against the canonical vocabulary, and persist per-row outcomes.
//
// This file exposes the worker's Prometheus instrumentation. Label
// cardinality is deliberately tiny: the only labeled collector is the AI call
// counter, split by call kind (standardize vs units).
package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// rowsClaimed counts queue rows successfully claimed under a lease.
	rowsClaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingredient_rows_claimed_total",
		Help: "Total number of queue rows claimed by this worker.",
	})

	// rowsResolved counts rows written to a terminal resolved state.
	rowsResolved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingredient_rows_resolved_total",
		Help: "Total number of queue rows resolved.",
	})

	// rowsFailed counts rows written to a terminal failed state.
	rowsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingredient_rows_failed_total",
		Help: "Total number of queue rows marked failed.",
	})

	// rowsRequeued counts expired leases returned to pending.
	rowsRequeued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingredient_rows_requeued_total",
		Help: "Total number of expired-lease rows requeued.",
	})

	// mappingHits counts rows short-circuited by a learned mapping, skipping
	// the AI call entirely.
	mappingHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingredient_mapping_hits_total",
		Help: "Total number of rows resolved from the mapping cache.",
	})

	// aiCalls counts external standardizer calls by kind.
	aiCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingredient_ai_calls_total",
			Help: "Total number of AI standardizer calls.",
		},
		[]string{"kind"}, // standardize | units
	)

	// aiFallbacks counts results that came back as the deterministic local
	// fallback instead of a real model answer.
	aiFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingredient_ai_fallbacks_total",
		Help: "Total number of AI results degraded to the deterministic fallback.",
	})

	// cycleDuration records full-cycle wall time in seconds.
	cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingredient_cycle_duration_seconds",
		Help:    "Duration of one full claim-resolve-persist cycle in seconds.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(rowsClaimed, rowsResolved, rowsFailed, rowsRequeued,
		mappingHits, aiCalls, aiFallbacks, cycleDuration)
}
