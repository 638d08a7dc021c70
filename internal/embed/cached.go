package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultEmbeddingCacheSize is the default number of embeddings
	// kept in the in-process LRU.
	DefaultEmbeddingCacheSize = 10000

	// DefaultEmbeddingTTL is how long persisted embeddings live in Redis.
	DefaultEmbeddingTTL = 7 * 24 * time.Hour

	// embeddingKeyPrefix versions the Redis key space so a format
	// change never decodes stale payloads.
	embeddingKeyPrefix = "emb:v1:"
)

// CachedEmbedder wraps an Embedder with an in-process LRU and an
// optional Redis second level. Repeated queries skip the backend
// entirely; Redis persistence survives restarts. Redis failures
// degrade to the inner embedder and never fail the request.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
	rdb   *redis.Client // nil disables the second level
	ttl   time.Duration
}

// NewCachedEmbedder creates a cached embedder wrapping inner.
// rdb may be nil to run with the LRU only.
func NewCachedEmbedder(inner Embedder, cacheSize int, rdb *redis.Client, ttl time.Duration) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultEmbeddingTTL
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{
		inner: inner,
		cache: cache,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// cacheKey hashes text and model into a fixed-length key.
func (c *CachedEmbedder) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.ModelName()
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// Embed returns a cached embedding if available, otherwise computes
// and caches at both levels.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	if vec := c.redisGet(ctx, key); vec != nil {
		c.cache.Add(key, vec)
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, vec)
	c.redisSet(ctx, key, vec)
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts, caching each
// result individually for maximum reuse.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	uncachedIndices := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		key := c.cacheKey(text)
		if vec, ok := c.cache.Get(key); ok {
			results[i] = vec
			continue
		}
		if vec := c.redisGet(ctx, key); vec != nil {
			c.cache.Add(key, vec)
			results[i] = vec
			continue
		}
		uncachedIndices = append(uncachedIndices, i)
		uncachedTexts = append(uncachedTexts, text)
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range uncachedIndices {
		results[idx] = fresh[j]
		key := c.cacheKey(texts[idx])
		c.cache.Add(key, fresh[j])
		c.redisSet(ctx, key, fresh[j])
	}

	return results, nil
}

func (c *CachedEmbedder) redisGet(ctx context.Context, key string) []float32 {
	if c.rdb == nil {
		return nil
	}
	data, err := c.rdb.Get(ctx, embeddingKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("embedding cache read failed", "error", err)
		}
		return nil
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		slog.Debug("embedding cache decode failed", "error", err)
		return nil
	}
	return vec
}

func (c *CachedEmbedder) redisSet(ctx context.Context, key string, vec []float32) {
	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, embeddingKeyPrefix+key, data, c.ttl).Err(); err != nil {
		slog.Debug("embedding cache write failed", "error", err)
	}
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough to inner).
func (c *CachedEmbedder) ModelName() string {
	return c.inner.ModelName()
}

// Available checks if the embedder is ready (passthrough to inner).
func (c *CachedEmbedder) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close releases resources and closes the inner embedder.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}

var _ Embedder = (*CachedEmbedder)(nil)
