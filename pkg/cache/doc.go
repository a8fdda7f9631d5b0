// Package cache provides the session cache for lookup tables and fetched
// records, with an in-memory LRU backend and an optional Redis backend.
//
// Every key is scoped to a session ID. Entries live at most for the session
// TTL and are removed when the session ends, so nothing outlives the session
// that created it.
//
// # Basic Usage
//
//	// In-memory store holding up to 256 entries
//	store, err := cache.NewMemoryStore(256)
//
//	// Or Redis, when EXEMPTIONS_REDIS_URL is set
//	store, err := cache.Open(ctx, "redis://localhost:6379/0", 256)
//
//	key := cache.Key{Session: sessionID, Table: "codes"}
//
//	var codes map[string]string
//	err := cache.GetJSON(ctx, store, key, &codes)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// load from upstream, then
//		err = cache.SetJSON(ctx, store, key, codes, ttl)
//	}
//
//	// Drop everything the session stored
//	err := store.DeleteSession(ctx, sessionID)
//
// # Metrics
//
//   - exemptions_cache_hits_total{layer} - Cache hits ("memory" or "redis")
//   - exemptions_cache_misses_total{layer} - Cache misses
//   - exemptions_cache_errors_total{operation} - Cache operation errors
//   - exemptions_cache_entries{layer} - Entries held by the memory layer
package cache
