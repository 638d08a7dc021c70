package embed

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder tracks backend calls.
type countingEmbedder struct {
	*StaticEmbedder
	calls atomic.Int64
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{StaticEmbedder: NewStaticEmbedder(8)}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int64(len(texts)))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedderLRUHit(t *testing.T) {
	inner := newCountingEmbedder()
	c := NewCachedEmbedder(inner, 100, nil, 0)
	ctx := context.Background()

	first, err := c.Embed(ctx, "what is the anthem")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "what is the anthem")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCachedEmbedderRedisSecondLevel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	inner := newCountingEmbedder()
	c := NewCachedEmbedder(inner, 100, rdb, time.Hour)

	_, err := c.Embed(ctx, "query one")
	require.NoError(t, err)
	require.Equal(t, int64(1), inner.calls.Load())

	// Fresh cache sharing the same Redis: must hit the second level.
	inner2 := newCountingEmbedder()
	c2 := NewCachedEmbedder(inner2, 100, rdb, time.Hour)
	vec, err := c2.Embed(ctx, "query one")
	require.NoError(t, err)
	assert.NotNil(t, vec)
	assert.Equal(t, int64(0), inner2.calls.Load())

	// Redis keys carry the versioned prefix.
	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "emb:v1:")
}

func TestCachedEmbedderBatchMixesCachedAndFresh(t *testing.T) {
	inner := newCountingEmbedder()
	c := NewCachedEmbedder(inner, 100, nil, 0)
	ctx := context.Background()

	_, err := c.Embed(ctx, "a")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 8)
	}
	// "a" was cached; only "b" and "c" hit the backend.
	assert.Equal(t, int64(3), inner.calls.Load())
}

func TestCachedEmbedderRedisDownDegrades(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}) // closed port
	inner := newCountingEmbedder()
	c := NewCachedEmbedder(inner, 100, rdb, time.Hour)

	vec, err := c.Embed(context.Background(), "still works")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestCachedEmbedderKeyIncludesModel(t *testing.T) {
	a := NewCachedEmbedder(NewStaticEmbedder(8), 10, nil, 0)
	assert.NotEmpty(t, a.cacheKey("text"))
	assert.NotEqual(t, a.cacheKey("text"), a.cacheKey("other"))
}

func TestStaticEmbedderDeterministic(t *testing.T) {
	e := NewStaticEmbedder(16)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	v3, err := e.Embed(ctx, "different")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v3)

	// Unit length.
	var sum float64
	for _, x := range v1 {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
}
