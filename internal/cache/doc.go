// Package cache provides bounded, content-addressed caching for fingerprints
// and recent query results.
//
// Entries expire after a TTL and the least recently used entries are evicted
// once the size bound is reached. Values are copied on the way in and out so
// callers cannot mutate cached state.
//
//	fps := cache.NewFingerprintCache(10000, time.Hour, nil, logger)
//	key := cache.FingerprintKey(text, "jina", "jina-embeddings-v3")
//	if fp, ok := fps.Get(key); ok {
//	    return fp, nil
//	}
//
// A BadgerTier may back the in-memory level so fingerprints persist across
// restarts:
//
//	tier, err := cache.OpenBadgerTier("/var/lib/concordance/cache", logger)
//	fps := cache.NewFingerprintCache(10000, 24*time.Hour, tier, logger)
//	defer fps.Close()
package cache
