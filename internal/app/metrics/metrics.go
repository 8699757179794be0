// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	reconcileRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "track_engine",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total number of reconciliation runs.",
		},
	)

	tokenMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "track_engine",
			Subsystem: "reconcile",
			Name:      "token_mutations_total",
			Help:      "Token mutations performed by reconciliation.",
		},
		[]string{"op"},
	)

	reconcileWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "track_engine",
			Subsystem: "reconcile",
			Name:      "warnings_total",
			Help:      "Non-fatal resolution warnings reported by reconciliation.",
		},
	)

	cascadeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "track_engine",
			Subsystem: "cascade",
			Name:      "operations_total",
			Help:      "Reception code cascade operations.",
		},
		[]string{"target", "outcome"},
	)

	batchUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "track_engine",
			Subsystem: "batch",
			Name:      "units_total",
			Help:      "Batch units processed.",
		},
		[]string{"kind", "outcome"},
	)

	batchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "track_engine",
			Subsystem: "batch",
			Name:      "unit_duration_seconds",
			Help:      "Duration of one batch unit.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		reconcileRuns,
		tokenMutations,
		reconcileWarnings,
		cascadeOps,
		batchUnits,
		batchDuration,
	)
}

// ObserveReconciliation records the outcome of one reconciliation run.
func ObserveReconciliation(created, updated, removed, warnings int) {
	reconcileRuns.Inc()
	tokenMutations.WithLabelValues("create").Add(float64(created))
	tokenMutations.WithLabelValues("update").Add(float64(updated))
	tokenMutations.WithLabelValues("remove").Add(float64(removed))
	reconcileWarnings.Add(float64(warnings))
}

// ObserveCascade records one cascade operation. target is "token" or
// "respondent_track", outcome "changed", "noop" or "rejected".
func ObserveCascade(target, outcome string) {
	cascadeOps.WithLabelValues(target, outcome).Inc()
}

// ObserveBatchUnit records one processed batch unit.
func ObserveBatchUnit(kind, outcome string, elapsed time.Duration) {
	batchUnits.WithLabelValues(kind, outcome).Inc()
	batchDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// Handler serves the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
