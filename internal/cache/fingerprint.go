package cache

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dshills/concordance/pkg/types"
)

// JSONCodec encodes tier values as JSON
type JSONCodec[V any] struct{}

func (JSONCodec[V]) Marshal(v V) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec[V]) Unmarshal(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}

// FingerprintCache caches fingerprints by content hash
type FingerprintCache = Cache[*types.Fingerprint]

// NewFingerprintCache creates a fingerprint cache. A nil tier keeps it memory-only.
func NewFingerprintCache(size int, ttl time.Duration, tier Tier, logger *slog.Logger) *FingerprintCache {
	opts := []Option[*types.Fingerprint]{
		WithClone((*types.Fingerprint).Clone),
	}
	if tier != nil {
		opts = append(opts, WithTier[*types.Fingerprint](tier, JSONCodec[*types.Fingerprint]{}))
	}
	if logger != nil {
		opts = append(opts, WithLogger[*types.Fingerprint](logger))
	}
	return New(size, ttl, opts...)
}

// FingerprintKey is the cache key for text embedded by provider and model
func FingerprintKey(normalizedText, provider, model string) string {
	return Key(normalizedText, provider, model)
}
