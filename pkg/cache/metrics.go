package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by entry freshness
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multihttp_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"state"}, // "fresh", "stale"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "multihttp_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// StoredBytes tracks response body bytes written to the cache
	StoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "multihttp_cache_stored_bytes_total",
			Help: "Total response body bytes written to the cache",
		},
	)

	// ConditionalRequestsSent tracks revalidation requests carrying validators
	ConditionalRequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "multihttp_cache_conditional_requests_total",
			Help: "Total number of conditional requests sent for cached responses",
		},
	)

	// NotModifiedResponses tracks 304 Not Modified responses
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "multihttp_cache_not_modified_total",
			Help: "Total number of 304 Not Modified responses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multihttp_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "update_ttl"
	)
)
