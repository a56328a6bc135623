package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type inMemoryCache struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cache     map[string]*entry
	hits      int64
	misses    int64
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Cache = (*inMemoryCache)(nil)

func (c *inMemoryCache) Set(_ context.Context, key string, val any, ttl time.Duration) error {
	now := time.Now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if e, ok := c.cache[key]; ok {
		// Overwrite refreshes the entry in place. Never counts as an
		// eviction-triggering insertion.
		e.object = val
		e.storedAt = now
		e.expires = now.Add(ttl)
		e.hits = 0
		e.lastAccessed = now
		return nil
	}
	if c.cfg.maxSize > 0 && len(c.cache) >= c.cfg.maxSize {
		c.evictOldestLocked()
	}
	c.cache[key] = &entry{
		object:       val,
		storedAt:     now,
		expires:      now.Add(ttl),
		lastAccessed: now,
	}
	return nil
}

func (c *inMemoryCache) SetDefault(ctx context.Context, key string, val any) error {
	return c.Set(ctx, key, val, c.cfg.defaultTTL)
}

// evictOldestLocked removes the single entry with the oldest lastAccessed
// timestamp. Caller holds the mutex.
func (c *inMemoryCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, e := range c.cache {
		if oldestKey == "" || e.lastAccessed.Before(oldest) {
			oldestKey = key
			oldest = e.lastAccessed
		}
	}
	if oldestKey != "" {
		delete(c.cache, oldestKey)
	}
}

func (c *inMemoryCache) Get(_ context.Context, key string) (bool, any, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	e, ok := c.cache[key]
	if !ok {
		c.misses++
		return false, nil, nil
	}
	if !e.expires.After(time.Now()) {
		delete(c.cache, key)
		c.misses++
		return false, nil, nil
	}
	e.hits++
	e.lastAccessed = time.Now()
	c.hits++
	return true, e.object, nil
}

func (c *inMemoryCache) Has(_ context.Context, key string) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	e, ok := c.cache[key]
	if !ok {
		return false, nil
	}
	if !e.expires.After(time.Now()) {
		delete(c.cache, key)
		return false, nil
	}
	return true, nil
}

func (c *inMemoryCache) Delete(_ context.Context, key string) (bool, error) {
	c.mutex.Lock()
	_, ok := c.cache[key]
	if ok {
		delete(c.cache, key)
	}
	c.mutex.Unlock()
	return ok, nil
}

func (c *inMemoryCache) DeletePrefix(_ context.Context, prefix string) (int, error) {
	c.mutex.Lock()
	var removed int
	for key := range c.cache {
		if strings.HasPrefix(key, prefix) {
			delete(c.cache, key)
			removed++
		}
	}
	c.mutex.Unlock()
	return removed, nil
}

func (c *inMemoryCache) Clear(_ context.Context) error {
	c.mutex.Lock()
	c.cache = make(map[string]*entry)
	c.mutex.Unlock()
	return nil
}

func (c *inMemoryCache) Cleanup(_ context.Context) (int, error) {
	now := time.Now()
	c.mutex.Lock()
	var removed int
	for key, e := range c.cache {
		if !e.expires.After(now) {
			delete(c.cache, key)
			removed++
		}
	}
	c.mutex.Unlock()
	return removed, nil
}

func (c *inMemoryCache) Stats(_ context.Context) (Stats, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return Stats{
		Size:        len(c.cache),
		TotalHits:   c.hits,
		TotalMisses: c.misses,
		HitRate:     computeHitRate(c.hits, c.misses),
	}, nil
}

func (c *inMemoryCache) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

func (c *inMemoryCache) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup(c.ctx)
		}
	}
}

// NewInMemory returns a new in-memory Cache implementation.
func NewInMemory(parent context.Context, opts ...Option) Cache {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	c := &inMemoryCache{
		ctx:    ctx,
		cancel: cancel,
		cache:  make(map[string]*entry),
		cfg:    cfg,
	}
	if cfg.expiryCheck > 0 {
		c.waitGroup.Add(1)
		go c.run()
	}
	return c
}
