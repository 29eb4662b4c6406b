package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts vendor API requests by service and status code
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotidal_api_requests_total",
			Help: "Total number of vendor API requests",
		},
		[]string{"service", "status"}, // status code, or "error" for transport failures
	)

	// RequestDuration observes vendor API latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spotidal_api_request_duration_seconds",
			Help:    "Vendor API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)
)
