package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultSize bounds the number of entries held in memory
	DefaultSize = 10000

	// DefaultTTL is how long an entry stays valid
	DefaultTTL = time.Hour
)

// Codec converts values to bytes for a persistent Tier
type Codec[V any] interface {
	Marshal(V) ([]byte, error)
	Unmarshal([]byte) (V, error)
}

// Tier is a second-level store consulted on memory misses
type Tier interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte, ttl time.Duration) error
	Close() error
}

// Cache is a size-bounded, TTL-expiring cache keyed by content hash.
// Concurrent writers of the same key race; the last one wins.
type Cache[V any] struct {
	lru    *expirable.LRU[string, V]
	ttl    time.Duration
	clone  func(V) V
	tier   Tier
	codec  Codec[V]
	logger *slog.Logger
}

// Option configures a Cache
type Option[V any] func(*Cache[V])

// WithClone sets the function used to copy values in and out of the cache
func WithClone[V any](fn func(V) V) Option[V] {
	return func(c *Cache[V]) {
		c.clone = fn
	}
}

// WithTier adds a persistent second level. Memory misses read through to the
// tier and promote hits.
func WithTier[V any](tier Tier, codec Codec[V]) Option[V] {
	return func(c *Cache[V]) {
		c.tier = tier
		c.codec = codec
	}
}

// WithLogger sets the logger used for tier failures
func WithLogger[V any](logger *slog.Logger) Option[V] {
	return func(c *Cache[V]) {
		c.logger = logger
	}
}

// New creates a cache holding at most size entries for ttl each
func New[V any](size int, ttl time.Duration, opts ...Option[V]) *Cache[V] {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache[V]{
		ttl:    ttl,
		clone:  func(v V) V { return v },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lru = expirable.NewLRU[string, V](size, nil, ttl)
	return c
}

// Get returns a copy of the value stored under key
func (c *Cache[V]) Get(key string) (V, bool) {
	if v, ok := c.lru.Get(key); ok {
		return c.clone(v), true
	}

	var zero V
	if c.tier == nil {
		return zero, false
	}

	raw, ok, err := c.tier.Get(key)
	if err != nil {
		c.logger.Warn("cache tier read failed", "key", key, "error", err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	v, err := c.codec.Unmarshal(raw)
	if err != nil {
		c.logger.Warn("cache tier decode failed", "key", key, "error", err)
		return zero, false
	}
	c.lru.Add(key, v)
	return c.clone(v), true
}

// Set stores a copy of value under key
func (c *Cache[V]) Set(key string, value V) {
	c.lru.Add(key, c.clone(value))

	if c.tier == nil {
		return
	}
	raw, err := c.codec.Marshal(value)
	if err != nil {
		c.logger.Warn("cache tier encode failed", "key", key, "error", err)
		return
	}
	if err := c.tier.Set(key, raw, c.ttl); err != nil {
		c.logger.Warn("cache tier write failed", "key", key, "error", err)
	}
}

// Len returns the number of live in-memory entries
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Purge empties the in-memory level
func (c *Cache[V]) Purge() {
	c.lru.Purge()
}

// Close releases the tier, if any
func (c *Cache[V]) Close() error {
	if c.tier == nil {
		return nil
	}
	return c.tier.Close()
}

// Key derives a content-addressed key from its parts
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
