// Package cache provides the in-memory TTL cache used to memoize API
// responses.
//
// The cache is deliberately small:
//
// - Entries carry an optional absolute expiration
// - Expired entries are never returned and are evicted lazily on Get/Has
// - Stats accounts for expired entries without evicting them
// - No background sweeper, no capacity bound, no single-flight
//
// # Basic Usage
//
//	responses := cache.New[*client.Response](cache.WithName("api"))
//
//	key := cache.Key{
//		URL:    "/api/products",
//		Params: url.Values{"page": []string{"2"}},
//	}.String()
//
//	if resp, ok := responses.Get(key); ok {
//		return resp, nil
//	}
//
//	resp, err := fetch(ctx)
//	if err != nil {
//		return nil, err
//	}
//	responses.SetWithTTL(key, resp, 5*time.Minute)
//
// # Metrics
//
//   - resilience_cache_hits_total{cache} - Get hits
//   - resilience_cache_misses_total{cache} - Get misses
//   - resilience_cache_evictions_total{cache} - expired entries removed on read
//
// Instances are constructed explicitly and passed to their consumers; the
// package holds no shared cache state besides the metric collectors.
package cache
