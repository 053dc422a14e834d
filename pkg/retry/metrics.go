package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resilience_retries_total",
		Help: "Total number of retry attempts by executor and error class",
	}, []string{"executor", "error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resilience_retry_backoff_seconds",
		Help:    "Backoff duration before a retry by executor and error class",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"executor", "error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resilience_retry_exhausted_total",
		Help: "Total number of operations that failed after exhausting retries",
	}, []string{"executor", "error_class"})

	retryPermanentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resilience_retry_permanent_failures_total",
		Help: "Total number of failures returned without retry because the status code is not retryable",
	}, []string{"executor", "error_class"})
)
