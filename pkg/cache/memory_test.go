package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemoryCacheSetGet(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k1", payload{Name: "a", Count: 2}, time.Minute))

	var got payload
	require.NoError(t, mc.Get(ctx, "k1", &got))
	assert.Equal(t, payload{Name: "a", Count: 2}, got)

	var missing payload
	assert.ErrorIs(t, mc.Get(ctx, "nope", &missing), ErrCacheMiss)
}

func TestMemoryCacheExpiration(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k1", "v", 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	var got string
	assert.ErrorIs(t, mc.Get(ctx, "k1", &got), ErrCacheMiss)

	ok, err := mc.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheMSetMGet(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.MSet(ctx, map[string]interface{}{
		"a": payload{Name: "a"},
		"b": payload{Name: "b"},
	}, time.Minute))

	typed, err := MGetTyped[payload](ctx, mc, "a", "b", "missing")
	require.NoError(t, err)
	require.Len(t, typed, 2)
	assert.Equal(t, "a", typed["a"].Name)
	assert.Equal(t, "b", typed["b"].Name)
}

func TestMemoryCacheLRUEviction(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", "1", time.Minute))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", "2", time.Minute))
	time.Sleep(time.Millisecond)

	// Touch "a" so "b" becomes the eviction candidate.
	var v string
	require.NoError(t, mc.Get(ctx, "a", &v))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "c", "3", time.Minute))

	assert.NoError(t, mc.Get(ctx, "a", &v))
	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "c", &v))
}
