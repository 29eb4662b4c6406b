package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksTotal counts processed chunks by operation and outcome
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotidal_batch_chunks_total",
			Help: "Total number of staggered chunks processed",
		},
		[]string{"operation", "outcome"}, // "succeeded", "failed", "aborted"
	)

	// DelaySeconds observes time actually spent pausing between requests
	DelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spotidal_batch_delay_seconds",
			Help:    "Pause between staggered chunks or pages",
			Buckets: []float64{0.1, 0.25, 0.5, 0.6, 1, 2, 5},
		},
		[]string{"operation"},
	)

	// PagesTotal counts fetched pages by operation and outcome
	PagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotidal_pages_fetched_total",
			Help: "Total number of paginated pages fetched",
		},
		[]string{"operation", "outcome"}, // "ok", "failed"
	)
)
