package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResolveAttempts counts element lookup attempts per strategy and outcome
	ResolveAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seekr_resolve_attempts_total",
			Help: "Total number of element lookup attempts",
		},
		[]string{"strategy", "outcome"},
	)

	// Resolutions counts finished Resolve calls by result
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seekr_resolutions_total",
			Help: "Total number of element resolutions",
		},
		[]string{"result"},
	)

	// ResolveDuration tracks wall time of a Resolve call
	ResolveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seekr_resolve_duration_seconds",
			Help:    "Element resolution latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"result"},
	)

	// JobsProcessed counts queued jobs by type and final status
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seekr_jobs_processed_total",
			Help: "Total number of processed jobs",
		},
		[]string{"type", "status"},
	)
)
