package content

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"

	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/api"
	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/cache"
	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/imagecache"
	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/logger"
)

// DefaultKeyPrefix namespaces the manager's entries in the shared TTL cache.
const DefaultKeyPrefix = "content:"

// DefaultSnapshotTTL is the short lifetime for snapshots mirrored into the
// TTL cache.
const DefaultSnapshotTTL = time.Minute

type managerConfig struct {
	cache       cache.Cache
	snapshotTTL time.Duration
	images      *imagecache.Cache
	log         logger.Logger
	keyPrefix   string
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

// WithCache mirrors resolved snapshots into a shared TTL cache under the
// manager's key prefix.
func WithCache(c cache.Cache, ttl time.Duration) ManagerOption {
	return func(cfg *managerConfig) {
		cfg.cache = c
		if ttl > 0 {
			cfg.snapshotTTL = ttl
		}
	}
}

// WithImageCache enables the preload image sweep.
func WithImageCache(images *imagecache.Cache) ManagerOption {
	return func(cfg *managerConfig) { cfg.images = images }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) ManagerOption {
	return func(cfg *managerConfig) { cfg.log = log }
}

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) ManagerOption {
	return func(cfg *managerConfig) { cfg.keyPrefix = prefix }
}

// Manager is the façade page-loading code talks to. It resolves logical
// keys to content values, keeps an in-process snapshot per key,
// deduplicates concurrent fetches for the same key, and supports per-key
// fallback values so a failed fetch never has to surface to a page.
type Manager struct {
	client *api.Client
	cfg    managerConfig

	mu        sync.RWMutex
	snapshots map[string]json.RawMessage
	fallbacks map[string]func() any
	// gen is bumped by ClearCache so a fetch that was already in flight
	// when the clear ran cannot repopulate the store afterwards.
	gen    uint64
	flight singleflight.Group
}

// NewManager creates a Manager over the given content-API client.
func NewManager(client *api.Client, opts ...ManagerOption) *Manager {
	cfg := managerConfig{
		snapshotTTL: DefaultSnapshotTTL,
		keyPrefix:   DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logger.NewConsoleLogger()
	}
	return &Manager{
		client:    client,
		cfg:       cfg,
		snapshots: make(map[string]json.RawMessage),
		fallbacks: make(map[string]func() any),
	}
}

// RegisterFallback registers a factory producing the value for key when the
// underlying fetch fails. The fallback value becomes the cached snapshot,
// so subsequent calls do not re-fetch.
func (m *Manager) RegisterFallback(key string, factory func() any) {
	m.mu.Lock()
	m.fallbacks[key] = factory
	m.mu.Unlock()
}

// GetCollection resolves the collection identified by contentType.
func (m *Manager) GetCollection(ctx context.Context, contentType string) (any, error) {
	return m.Resolve(ctx, contentType)
}

// GetPage resolves the single page identified by contentType.
func (m *Manager) GetPage(ctx context.Context, contentType string) (any, error) {
	return m.Resolve(ctx, contentType)
}

// GetDetail resolves one item of a collection.
func (m *Manager) GetDetail(ctx context.Context, contentType, id string) (any, error) {
	return m.Resolve(ctx, contentType+"/"+id)
}

// Resolve returns the content value for a logical key. Callers always
// receive their own deep copy: mutating a returned value never leaks into
// the shared snapshot. Concurrent calls for the same key share a single
// underlying fetch.
func (m *Manager) Resolve(ctx context.Context, key string) (any, error) {
	m.mu.RLock()
	raw, ok := m.snapshots[key]
	m.mu.RUnlock()
	if ok {
		return decode(raw)
	}

	// The in-flight guard is established before any await: a second caller
	// arriving here while the fetch is pending joins it instead of starting
	// another one.
	v, err, _ := m.flight.Do(key, func() (any, error) {
		return m.fetchSnapshot(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return decode(v.(json.RawMessage))
}

func (m *Manager) fetchSnapshot(ctx context.Context, key string) (json.RawMessage, error) {
	m.mu.RLock()
	raw, ok := m.snapshots[key]
	gen := m.gen
	m.mu.RUnlock()
	if ok {
		return raw, nil
	}

	resp, err := m.client.Get(ctx, key, nil)
	if err == nil {
		m.storeSnapshot(ctx, key, resp.Data, gen)
		return resp.Data, nil
	}

	m.mu.RLock()
	factory := m.fallbacks[key]
	m.mu.RUnlock()
	if factory == nil {
		// No fallback: the key stays absent and is eligible for retry on
		// the next call.
		return nil, err
	}

	m.cfg.log.Warn("using fallback for %q: %v", key, err)
	raw, marshalErr := json.Marshal(factory())
	if marshalErr != nil {
		return nil, errors.Wrapf(marshalErr, "marshalling fallback for %q", key)
	}
	m.storeSnapshot(ctx, key, raw, gen)
	return raw, nil
}

// storeSnapshot retains a fetched value unless ClearCache ran since the
// fetch started; the caller still receives the value either way.
func (m *Manager) storeSnapshot(ctx context.Context, key string, raw json.RawMessage, gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.snapshots[key] = raw
	m.mu.Unlock()
	if m.cfg.cache != nil {
		if err := m.cfg.cache.Set(ctx, m.cfg.keyPrefix+key, []byte(raw), m.cfg.snapshotTTL); err != nil {
			m.cfg.log.Warn("mirroring snapshot %q failed: %v", key, err)
		}
	}
}

// Snapshot returns a deep copy of the resolved snapshot for key, if any.
func (m *Manager) Snapshot(key string) (any, bool) {
	m.mu.RLock()
	raw, ok := m.snapshots[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	v, err := decode(raw)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Keys returns the sorted logical keys with resolved snapshots.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.snapshots))
	for key := range m.snapshots {
		keys = append(keys, key)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// ClearCache drops every snapshot and removes the manager's entries from
// the shared TTL cache. Other tenants of the TTL cache are untouched.
func (m *Manager) ClearCache(ctx context.Context) error {
	m.mu.Lock()
	m.snapshots = make(map[string]json.RawMessage)
	m.gen++
	m.mu.Unlock()
	if m.cfg.cache != nil {
		if _, err := m.cfg.cache.DeletePrefix(ctx, m.cfg.keyPrefix); err != nil {
			return err
		}
	}
	return nil
}

func decode(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrap(err, "decoding content value")
	}
	return v, nil
}
