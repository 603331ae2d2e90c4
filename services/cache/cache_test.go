package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	Cells int     `json:"cells"`
	Rate  float64 `json:"rate"`
}

func TestKey(t *testing.T) {
	a, err := Key(request{2, 0.02})
	require.NoError(t, err)
	b, err := Key(request{2, 0.02})
	require.NoError(t, err)
	c, err := Key(request{2, 0.03})
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err = Key(func() {})
	assert.Error(t, err)
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	var out request
	ok, err := Lookup(ctx, c, "k", &out)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, Store(ctx, c, "k", request{4, 0.5}, time.Minute))
	ok, err = Lookup(ctx, c, "k", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, request{4, 0.5}, out)

	e, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int32(2), e.HitCount)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalEntries: 1, TotalHits: 2, TotalMisses: 1, HitRate: 2.0 / 3}, stats)

	removed, err := c.Invalidate(ctx, "k")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = c.Invalidate(ctx, "k")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "short", []byte(`1`), time.Minute))
	require.NoError(t, c.Set(ctx, "forever", []byte(`2`), 0))

	now = now.Add(2 * time.Minute)
	_, ok, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)

	e, ok, err := c.Get(ctx, "forever")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `2`, string(e.Payload))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalEntries)
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisCache(ctx, "127.0.0.1:1", 0, nil)
	assert.Error(t, err)
}
