package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExecCacheMiss(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory(ctx)
	defer c.Close()

	invoked := false
	found, val, err := Exec(ctx, ExecConfig{Key: "key", TTL: time.Minute}, c, func(ctx context.Context) (string, bool, error) {
		invoked = true
		return "fresh-value", true, nil
	})
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "fresh-value", val)
	assert.True(t, invoked)

	// Value should now be cached.
	cachedFound, cached, err := Get[string](ctx, c, "key")
	assert.NoError(t, err)
	assert.True(t, cachedFound)
	assert.Equal(t, "fresh-value", cached)
}

func TestExecCacheHit(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory(ctx)
	defer c.Close()

	assert.NoError(t, c.Set(ctx, "key", "cached-value", time.Minute))

	invoked := false
	found, val, err := Exec(ctx, ExecConfig{Key: "key"}, c, func(ctx context.Context) (string, bool, error) {
		invoked = true
		return "fresh-value", true, nil
	})
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "cached-value", val)
	assert.False(t, invoked)
}

func TestExecNotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory(ctx)
	defer c.Close()

	found, val, err := Exec(ctx, ExecConfig{Key: "key"}, c, func(ctx context.Context) (string, bool, error) {
		return "", false, nil
	})
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, val)

	has, err := c.Has(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, has)
}

func TestExecInvokerError(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory(ctx)
	defer c.Close()

	boom := errors.New("boom")
	found, _, err := Exec(ctx, ExecConfig{Key: "key"}, c, func(ctx context.Context) (string, bool, error) {
		return "", false, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, found)
}

func TestGetTypeMismatch(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory(ctx)
	defer c.Close()

	assert.NoError(t, c.Set(ctx, "key", 42, time.Minute))
	found, _, err := Get[string](ctx, c, "key")
	assert.Error(t, err)
	assert.False(t, found)
}
