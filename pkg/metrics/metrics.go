// Package metrics exposes the Prometheus registry used by go-multihttp.
// All metrics are defined in their respective packages (parallel, client,
// cache) to maintain modularity and avoid circular dependencies.
//
// This package provides the scrape handler and a reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer used by go-multihttp.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the Prometheus gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns an HTTP handler serving all registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Parallel Execution Metrics (pkg/parallel):
//   - multihttp_parallel_batches_total (Counter): Executed batches
//   - multihttp_parallel_batch_size (Histogram): Requests per batch
//   - multihttp_parallel_batch_duration_seconds (Histogram): Wall-clock batch duration
//   - multihttp_parallel_requests_total{outcome, class} (Counter): Completed requests by outcome and transport error class
//   - multihttp_parallel_callback_errors_total{callback} (Counter): Failed success/error callbacks
//   - multihttp_parallel_driver_errors_total{code} (Counter): Fatal multiplex driver errors
//   - multihttp_parallel_swept_total (Counter): Handles collected by the final sweep
//
// Request Metrics (pkg/client):
//   - multihttp_client_requests_total{method, status} (Counter): Synchronous requests by method and HTTP status
//   - multihttp_client_request_duration_seconds{method} (Histogram): Request duration by method
//   - multihttp_client_errors_total{class} (Counter): Failures by class (dns, connect, timeout, ...)
//
// Cache Metrics (pkg/cache):
//   - multihttp_cache_hits_total{state} (Counter): Cache hits on fresh and stale entries
//   - multihttp_cache_misses_total (Counter): Cache misses
//   - multihttp_cache_stored_bytes_total (Counter): Body bytes written to the cache
//   - multihttp_cache_conditional_requests_total (Counter): Conditional requests sent
//   - multihttp_cache_not_modified_total (Counter): 304 Not Modified responses
//   - multihttp_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Transport failure rate in parallel batches
//   sum(rate(multihttp_parallel_requests_total{outcome="error"}[5m])) /
//   sum(rate(multihttp_parallel_requests_total[5m]))
//
//   # Callback failures by kind
//   sum by (callback) (rate(multihttp_parallel_callback_errors_total[5m]))
//
//   # P95 batch duration
//   histogram_quantile(0.95, rate(multihttp_parallel_batch_duration_seconds_bucket[5m]))
//
//   # Cache Hit Rate
//   sum(rate(multihttp_cache_hits_total[5m])) /
//   (sum(rate(multihttp_cache_hits_total[5m])) + sum(rate(multihttp_cache_misses_total[5m])))
//
//   # 304 Response Rate
//   rate(multihttp_cache_not_modified_total[5m]) / rate(multihttp_client_requests_total[5m])
