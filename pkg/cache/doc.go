// Package cache provides an HTTP response cache with a Redis backend.
//
// The cache manager stores successful GET responses and revalidates them
// with conditional requests:
//
// - Freshness from Cache-Control max-age, then the Expires header
// - ETag support for conditional requests (If-None-Match)
// - Last-Modified support (If-Modified-Since)
// - Stale entries with validators kept for a grace window, so they can be
//   revalidated instead of refetched
// - One Redis hash per response; refreshing the TTL never rewrites the body
// - Prometheus metrics for observability
// - Deterministic cache key generation
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create cache manager
//	manager := cache.NewManager(redisClient)
//
//	// Derive the cache key from the request
//	key := cache.KeyFor(req, "Accept")
//
//	// Get from cache
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// Cache miss - fetch from origin
//	}
//	if !entry.Fresh() {
//		// Stale but revalidatable - send a conditional request
//	}
//
// # HTTP Response Caching
//
//	// Convert HTTP response to cache entry
//	entry, err := cache.ResponseToEntry(resp)
//	if err != nil {
//		return err
//	}
//
//	// Store in cache
//	if err := manager.Set(ctx, key, entry); err != nil {
//		return err
//	}
//
//	// Rebuild a response from a stored entry
//	resp := cache.EntryToResponse(entry)
//
// # Conditional Requests
//
//	// Check if we should make a conditional request
//	if cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//		// Origin answers 304 if the entry is still current
//	}
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - multihttp_cache_hits_total{state} - Cache hits on fresh and stale entries
//   - multihttp_cache_misses_total - Cache misses
//   - multihttp_cache_stored_bytes_total - Body bytes written to the cache
//   - multihttp_cache_conditional_requests_total - Conditional requests sent
//   - multihttp_cache_not_modified_total - 304 Not Modified responses
//   - multihttp_cache_errors_total{operation} - Cache operation errors
package cache
