package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache is a TTL key/value store for opaque content values.
type Cache interface {
	// Set stores a value with an explicit TTL. A TTL of zero or less means
	// the value expires immediately: it is stored but any subsequent Get
	// sees it as absent.
	Set(ctx context.Context, key string, val any, ttl time.Duration) error
	// SetDefault stores a value with the cache's configured default TTL.
	SetDefault(ctx context.Context, key string, val any) error
	// Get retrieves a value. A missing or expired entry records a miss and
	// returns found=false; a live entry records a hit and updates its
	// last-accessed time.
	Get(ctx context.Context, key string) (bool, any, error)
	// Has reports whether a live entry exists without touching hit/miss
	// statistics or the entry's last-accessed time.
	Has(ctx context.Context, key string) (bool, error)
	// Delete removes a key. Returns true if the key was present.
	Delete(ctx context.Context, key string) (bool, error)
	// DeletePrefix removes every key with the given prefix and returns how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	// Clear removes all entries.
	Clear(ctx context.Context) error
	// Cleanup eagerly sweeps expired entries and returns how many were
	// removed. Get and Has already expire lazily; Cleanup exists for
	// callers who want to bound memory proactively rather than on next
	// access.
	Cleanup(ctx context.Context) (int, error)
	// Stats returns current size and hit/miss statistics.
	Stats(ctx context.Context) (Stats, error)
	// Close shuts down the cache.
	Close() error
}

// Stats describes cache effectiveness.
type Stats struct {
	Size        int     `json:"size"`
	TotalHits   int64   `json:"totalHits"`
	TotalMisses int64   `json:"totalMisses"`
	HitRate     float64 `json:"hitRate"`
}

func computeHitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

type entry struct {
	object       any
	storedAt     time.Time
	expires      time.Time
	hits         int
	lastAccessed time.Time
}

// DefaultTTL is the default TTL used when SetDefault is called and no
// WithDefaultTTL option was supplied.
const DefaultTTL = 5 * time.Minute

// DefaultMaxSize is the default entry capacity for the in-memory cache.
const DefaultMaxSize = 1000

// DefaultQueryTimeout is the per-operation timeout for cache backends that
// perform I/O (Redis). Prevents indefinite hangs on unresponsive storage.
const DefaultQueryTimeout = 5 * time.Second

// config holds the resolved configuration for a cache implementation.
type config struct {
	defaultTTL   time.Duration
	maxSize      int
	queryTimeout time.Duration
	expiryCheck  time.Duration
	prefix       string
}

// Option configures a Cache implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultTTL:   DefaultTTL,
		maxSize:      DefaultMaxSize,
		queryTimeout: DefaultQueryTimeout,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithDefaultTTL sets the TTL used by SetDefault. Defaults to DefaultTTL.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithMaxSize caps the number of entries the in-memory cache holds. Inserting
// a new key at capacity evicts the single least-recently-accessed entry.
// A value of zero or less means unbounded.
func WithMaxSize(n int) Option {
	return func(c *config) { c.maxSize = n }
}

// WithExpiryCheck enables a background sweep of expired entries at the given
// interval. Applies to the in-memory backend. Disabled when zero.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed caches.
// Defaults to DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithPrefix sets the key prefix for namespacing cache keys.
// Applies to the Redis backend. Defaults to empty (no prefix).
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// Get retrieves a typed value from the cache.
// For the in-memory cache, it performs a direct type assertion.
// Serialized caches (Redis) hand back msgpack.RawMessage payloads, which
// are decoded into T here.
func Get[T any](ctx context.Context, c Cache, key string) (bool, T, error) {
	found, val, err := c.Get(ctx, key)
	if !found || err != nil {
		var zero T
		return false, zero, err
	}
	if data, ok := val.(msgpack.RawMessage); ok {
		var result T
		if err := msgpack.Unmarshal(data, &result); err != nil {
			var zero T
			return false, zero, fmt.Errorf("cache: failed to unmarshal value: %w", err)
		}
		return true, result, nil
	}
	if typed, ok := val.(T); ok {
		return true, typed, nil
	}
	var zero T
	return false, zero, fmt.Errorf("cache: cannot convert value of type %T to %T", val, zero)
}

// ExecConfig configures the Exec helper.
type ExecConfig struct {
	// Key is the cache key. Required.
	Key string
	// TTL is the TTL for a freshly produced value. Zero or less means
	// the cache's default TTL.
	TTL time.Duration
}

// Invoker is a function that produces a value of type T.
// The bool return indicates whether a value was found. Return false to signal
// "not found" without caching a zero value.
type Invoker[T any] func(ctx context.Context) (T, bool, error)

// Exec is a cache-aside helper. It checks the cache for config.Key first and
// returns a hit directly. On a miss, it calls invoke; a produced value is
// stored before being returned. If invoke reports found=false nothing is
// cached. A failed Set after a successful invoke is swallowed since the
// caller already has their value.
func Exec[T any](ctx context.Context, config ExecConfig, c Cache, invoke Invoker[T]) (bool, T, error) {
	found, val, err := Get[T](ctx, c, config.Key)
	if err != nil {
		var zero T
		return false, zero, err
	}
	if found {
		return true, val, nil
	}

	result, ok, err := invoke(ctx)
	if err != nil {
		var zero T
		return false, zero, err
	}
	if !ok {
		var zero T
		return false, zero, nil
	}

	if config.TTL > 0 {
		_ = c.Set(ctx, config.Key, result, config.TTL)
	} else {
		_ = c.SetDefault(ctx, config.Key, result)
	}
	return true, result, nil
}
