// Package metrics exposes the engine's runtime counters and gauges as
// Prometheus collectors: resource-pool utilization, cache hit/miss
// tallies, pipeline outcome counts, and prefetch submission activity.
// Every component samples into these metrics rather than logging
// equivalents, so a single /metrics endpoint aggregates the whole
// process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the engine registers. Construct one with
// New and register it with a prometheus.Registerer at startup.
type Metrics struct {
	PoolUtilization    *prometheus.GaugeVec
	CircuitBreakerOpen prometheus.Gauge
	QueueDropped       *prometheus.GaugeVec

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
	MemoryBytes prometheus.Gauge

	PipelineJobsTotal   *prometheus.CounterVec
	PipelineJobDuration *prometheus.HistogramVec
	PlaceholdersServed  prometheus.Counter

	PrefetchSubmitted prometheus.Counter
	PrefetchSkipped   *prometheus.CounterVec

	IndexedFiles prometheus.Gauge
}

// New constructs every collector, namespaced under "xearthlayer".
func New() *Metrics {
	return &Metrics{
		PoolUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "xearthlayer",
			Subsystem: "executor",
			Name:      "pool_utilization",
			Help:      "Fraction of each resource pool's capacity currently in use.",
		}, []string{"pool"}),

		CircuitBreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xearthlayer",
			Subsystem: "executor",
			Name:      "circuit_breaker_open",
			Help:      "1 if the prefetch circuit breaker is currently open, else 0.",
		}),

		QueueDropped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "xearthlayer",
			Subsystem: "executor",
			Name:      "queue_dropped_total",
			Help:      "Cumulative jobs dropped by each pool's bounded admission queue on overflow.",
		}, []string{"pool"}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xearthlayer",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache lookups satisfied without a build, by tier.",
		}, []string{"tier"}),

		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xearthlayer",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache lookups that fell through to a build, by tier.",
		}, []string{"tier"}),

		MemoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xearthlayer",
			Subsystem: "cache",
			Name:      "memory_bytes",
			Help:      "Bytes currently resident in the memory cache tier.",
		}),

		PipelineJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xearthlayer",
			Subsystem: "pipeline",
			Name:      "jobs_total",
			Help:      "Completed pipeline jobs by outcome.",
		}, []string{"outcome"}),

		PipelineJobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "xearthlayer",
			Subsystem: "pipeline",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of pipeline jobs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"priority"}),

		PlaceholdersServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xearthlayer",
			Subsystem: "pipeline",
			Name:      "placeholders_served_total",
			Help:      "Magenta placeholder tiles returned due to failure or timeout.",
		}),

		PrefetchSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xearthlayer",
			Subsystem: "prefetch",
			Name:      "jobs_submitted_total",
			Help:      "Low-priority pipeline jobs submitted by the prefetch coordinator.",
		}),

		PrefetchSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xearthlayer",
			Subsystem: "prefetch",
			Name:      "cycles_skipped_total",
			Help:      "Prefetch cycles that produced no submissions, by reason.",
		}, []string{"reason"}),

		IndexedFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xearthlayer",
			Subsystem: "index",
			Name:      "indexed_files",
			Help:      "Number of eagerly-indexed backing-source file entries.",
		}),
	}
}

// MustRegister registers every collector with reg, panicking on
// duplicate-registration errors — the same fail-fast discipline
// prometheus's own examples use for process-lifetime collectors.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.PoolUtilization,
		m.CircuitBreakerOpen,
		m.QueueDropped,
		m.CacheHits,
		m.CacheMisses,
		m.MemoryBytes,
		m.PipelineJobsTotal,
		m.PipelineJobDuration,
		m.PlaceholdersServed,
		m.PrefetchSubmitted,
		m.PrefetchSkipped,
		m.IndexedFiles,
	)
}
