package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

type redisCache struct {
	client *redis.Client
	ctx    context.Context
	hits   int64
	misses int64
	cfg    config
}

var _ Cache = (*redisCache)(nil)

// NewRedis returns a new Cache backed by Redis. Values are serialized with
// msgpack and expiry is delegated to the Redis server. The caller owns the
// redis.Client lifecycle; Close is a no-op on the client.
func NewRedis(ctx context.Context, client *redis.Client, opts ...Option) Cache {
	cfg := applyOptions(opts)
	return &redisCache{
		client: client,
		ctx:    ctx,
		cfg:    cfg,
	}
}

func (c *redisCache) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *redisCache) prefixKey(key string) string {
	if c.cfg.prefix == "" {
		return key
	}
	return c.cfg.prefix + ":" + key
}

func (c *redisCache) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k := c.prefixKey(key)
	if ttl <= 0 {
		// Expires immediately: any stored value would already be absent.
		return c.client.Del(qctx, k).Err()
	}
	data, err := msgpack.Marshal(val)
	if err != nil {
		return err
	}
	return c.client.Set(qctx, k, data, ttl).Err()
}

func (c *redisCache) SetDefault(ctx context.Context, key string, val any) error {
	return c.Set(ctx, key, val, c.cfg.defaultTTL)
}

func (c *redisCache) Get(ctx context.Context, key string) (bool, any, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	data, err := c.client.Get(qctx, c.prefixKey(key)).Bytes()
	if err == redis.Nil {
		atomic.AddInt64(&c.misses, 1)
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	atomic.AddInt64(&c.hits, 1)
	// The payload is still msgpack-encoded. Returning it as RawMessage
	// rather than plain []byte forces the typed accessor to decode it, so
	// a stored []byte round-trips byte-identically instead of leaking the
	// encoding to the caller.
	return true, msgpack.RawMessage(data), nil
}

func (c *redisCache) Has(ctx context.Context, key string) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	n, err := c.client.Exists(qctx, c.prefixKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *redisCache) Delete(ctx context.Context, key string) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	n, err := c.client.Del(qctx, c.prefixKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *redisCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	var removed int
	iter := c.client.Scan(qctx, 0, c.prefixKey(prefix)+"*", 0).Iterator()
	for iter.Next(qctx) {
		n, err := c.client.Del(qctx, iter.Val()).Result()
		if err != nil {
			return removed, err
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, nil
}

func (c *redisCache) Clear(ctx context.Context) error {
	if c.cfg.prefix != "" {
		_, err := c.DeletePrefix(ctx, "")
		return err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	return c.client.FlushDB(qctx).Err()
}

// Cleanup is a no-op for Redis: the server expires keys itself.
func (c *redisCache) Cleanup(_ context.Context) (int, error) {
	return 0, nil
}

func (c *redisCache) Stats(ctx context.Context) (Stats, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	var size int
	iter := c.client.Scan(qctx, 0, c.prefixKey("")+"*", 0).Iterator()
	for iter.Next(qctx) {
		size++
	}
	if err := iter.Err(); err != nil {
		return Stats{}, err
	}
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	return Stats{
		Size:        size,
		TotalHits:   hits,
		TotalMisses: misses,
		HitRate:     computeHitRate(hits, misses),
	}, nil
}

func (c *redisCache) Close() error {
	return nil
}
