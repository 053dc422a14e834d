// Package metrics exposes the Prometheus registry shared by the resilience
// packages. All metrics are defined in their respective packages (cache,
// retry, client, offline) via promauto to keep those packages independent.
//
// This package provides the scrape handler and a reference of all metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler serving all registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - resilience_cache_hits_total{cache} (Counter): Valid entries returned by Get
//   - resilience_cache_misses_total{cache} (Counter): Get calls without a valid entry
//   - resilience_cache_evictions_total{cache} (Counter): Expired entries evicted lazily
//
// Retry Metrics (pkg/retry):
//   - resilience_retries_total{executor,error_class} (Counter): Retry attempts by error class
//   - resilience_retry_backoff_seconds{executor,error_class} (Histogram): Wait before each retry
//   - resilience_retry_exhausted_total{executor,error_class} (Counter): Operations that used all retries
//   - resilience_retry_permanent_failures_total{executor,error_class} (Counter): Non-retryable failures
//
// Request Metrics (pkg/client):
//   - resilience_client_requests_total{method, status} (Counter): Upstream attempts by HTTP status
//   - resilience_client_request_duration_seconds{method} (Histogram): Duration including retries
//   - resilience_client_errors_total{class} (Counter): Failed attempts by error class
//
// Offline Controller Metrics (pkg/offline):
//   - resilience_offline_fetch_total{outcome} (Counter): Intercepted fetches by outcome
//   - resilience_offline_lifecycle_total{event, result} (Counter): Install/activate results
//   - resilience_offline_partitions_deleted_total (Counter): Stale partitions removed
//   - resilience_offline_dynamic_evictions_total (Counter): Entries trimmed from the dynamic partition
//   - resilience_offline_sync_total{tag, result} (Counter): Background sync results
//   - resilience_offline_push_total{result} (Counter): Push message results
//   - resilience_offline_queue_length{queue} (Gauge): Writes waiting for background sync
//   - resilience_offline_active_version{version} (Gauge): Active controller version
//
// Example Prometheus Queries:
//
//   # Memo cache hit rate
//   sum(rate(resilience_cache_hits_total[5m])) /
//   (sum(rate(resilience_cache_hits_total[5m])) + sum(rate(resilience_cache_misses_total[5m])))
//
//   # Requests served offline
//   rate(resilience_offline_fetch_total{outcome=~"cache_hit|offline_fallback"}[5m])
//
//   # Retry pressure by class
//   sum by (error_class) (rate(resilience_retries_total[5m]))
//
//   # P95 upstream latency
//   histogram_quantile(0.95, rate(resilience_client_request_duration_seconds_bucket[5m]))
