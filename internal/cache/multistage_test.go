package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, opts ...Option) (*MultiStage, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewMultiStage(rdb, opts...), srv
}

func testFingerprint() Fingerprint {
	return Fingerprint{Model: "llama3.1:8b", InitialK: 100, RerankK: 30, FinalK: 8}
}

func testEntry(query string) *Entry {
	return &Entry{
		Query:      query,
		Answer:     "La Marseillaise was adopted in 1795.",
		ChunkIDs:   []string{"c1", "c2", "c3", "c4"},
		Confidence: 0.85,
		Strategy:   "hybrid_reranked",
		CreatedAt:  time.Now(),
	}
}

func TestExactHit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	f := testFingerprint()

	c.Store(ctx, "What is the national anthem of France?", testEntry("What is the national anthem of France?"), f)

	entry, stage, ok := c.Lookup(ctx, "What is the national anthem of France?", f)
	require.True(t, ok)
	assert.Equal(t, StageExact, stage)
	assert.Contains(t, entry.Answer, "1795")
	assert.Equal(t, int64(1), c.Stats().ExactHits)
}

func TestNormalizedHit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	f := testFingerprint()

	c.Store(ctx, "What is the national anthem of France?", testEntry("What is the national anthem of France?"), f)

	// Different raw text, same normalized form.
	entry, stage, ok := c.Lookup(ctx, "  what is the national anthem of france", f)
	require.True(t, ok)
	assert.Equal(t, StageNormalized, stage)
	assert.Contains(t, entry.Answer, "1795")
	assert.Equal(t, int64(1), c.Stats().NormalizedHits)
}

func TestMissOnDifferentQuery(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	f := testFingerprint()

	c.Store(ctx, "anthem of France", testEntry("anthem of France"), f)

	_, _, ok := c.Lookup(ctx, "anthem of Germany", f)
	assert.False(t, ok)

	c.RecordMiss()
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestFingerprintIsolatesEntries(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Store(ctx, "anthem of France", testEntry("anthem of France"), testFingerprint())

	other := testFingerprint()
	other.Model = "different-model"
	_, _, ok := c.Lookup(ctx, "anthem of France", other)
	assert.False(t, ok, "a different model fingerprint must not share entries")

	other = testFingerprint()
	other.FinalK = 4
	_, _, ok = c.Lookup(ctx, "anthem of France", other)
	assert.False(t, ok, "different retrieval depths must not share entries")
}

func TestEntriesAreImmutable(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	f := testFingerprint()

	first := testEntry("q")
	first.Answer = "first answer"
	c.Store(ctx, "q", first, f)

	second := testEntry("q")
	second.Answer = "second answer"
	c.Store(ctx, "q", second, f)

	entry, _, ok := c.Lookup(ctx, "q", f)
	require.True(t, ok)
	assert.Equal(t, "first answer", entry.Answer, "the first write wins until TTL expiry")
}

func TestExactEntryExpires(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()
	f := testFingerprint()

	c.Store(ctx, "q", testEntry("q"), f)
	srv.FastForward(2 * time.Hour)

	_, _, ok := c.Lookup(ctx, "q", f)
	assert.False(t, ok)
}

func semanticEntry(query string, embedding []float32, chunkIDs []string) *Entry {
	e := testEntry(query)
	e.Embedding = embedding
	e.ChunkIDs = chunkIDs
	return e
}

func TestSemanticHitWithValidEvidence(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	f := testFingerprint()

	emb := []float32{1, 0, 0, 0}
	c.Store(ctx, "cached question", semanticEntry("cached question", emb, []string{"c1", "c2", "c3", "c4"}), f)

	// Same evidence, nearly identical embedding.
	entry, ok := c.SemanticLookup(ctx, []float32{0.999, 0.001, 0, 0}, []string{"c1", "c2", "c3", "c4"}, f)
	require.True(t, ok)
	assert.Contains(t, entry.Answer, "1795")
	assert.Equal(t, int64(1), c.Stats().SemanticHits)
}

func TestSemanticRejectedByEvidenceOverlap(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	f := testFingerprint()

	emb := []float32{1, 0, 0, 0}
	c.Store(ctx, "cached question", semanticEntry("cached question", emb, []string{"c1", "c2", "c3", "c4"}), f)

	// Jaccard overlap 2/6 = 0.33, below the 0.80 validation threshold:
	// close embeddings but divergent evidence must not serve.
	_, ok := c.SemanticLookup(ctx, emb, []string{"c1", "c2", "x1", "x2"}, f)
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().SemanticRejected)
	assert.Equal(t, int64(0), c.Stats().SemanticHits)
}

func TestSemanticOverlapThresholdBoundary(t *testing.T) {
	ctx := context.Background()
	f := testFingerprint()
	emb := []float32{1, 0, 0, 0}

	// Overlap 2/4 = 0.5: rejected at threshold 0.8, accepted at 0.4.
	cached := []string{"c1", "c2", "c3"}
	current := []string{"c1", "c2", "x1"}
	require.InDelta(t, 0.5, JaccardOverlap(cached, current), 1e-9)

	strict, _ := newTestCache(t)
	strict.Store(ctx, "q", semanticEntry("q", emb, cached), f)
	_, ok := strict.SemanticLookup(ctx, emb, current, f)
	assert.False(t, ok)

	lenientCfg := DefaultConfig()
	lenientCfg.ValidationThreshold = 0.4
	lenient, _ := newTestCache(t, WithConfig(lenientCfg))
	lenient.Store(ctx, "q", semanticEntry("q", emb, cached), f)
	_, ok = lenient.SemanticLookup(ctx, emb, current, f)
	assert.True(t, ok)
}

func TestSemanticRejectsDissimilarEmbedding(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	f := testFingerprint()

	c.Store(ctx, "q", semanticEntry("q", []float32{1, 0, 0, 0}, []string{"c1"}), f)

	_, ok := c.SemanticLookup(ctx, []float32{0, 1, 0, 0}, []string{"c1"}, f)
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.Stats().SemanticRejected,
		"a dissimilar embedding is not a rejection, just not a candidate")
}

func TestSemanticLookupScansPastDissimilarEntries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSemanticCandidates = 2
	c, _ := newTestCache(t, WithConfig(cfg))
	ctx := context.Background()
	f := testFingerprint()

	target := []float32{1, 0, 0, 0}
	// Newer entries that fail the similarity gate are not candidates
	// and must not hide the older matching entry.
	c.Store(ctx, "match", semanticEntry("match", target, []string{"c1"}), f)
	c.Store(ctx, "newer1", semanticEntry("newer1", []float32{0, 1, 0, 0}, []string{"c1"}), f)
	c.Store(ctx, "newer2", semanticEntry("newer2", []float32{0, 0, 1, 0}, []string{"c1"}), f)
	c.Store(ctx, "newer3", semanticEntry("newer3", []float32{0, 0, 0, 1}, []string{"c1"}), f)

	entry, ok := c.SemanticLookup(ctx, target, []string{"c1"}, f)
	require.True(t, ok, "dissimilar entries must not consume candidate slots")
	assert.Equal(t, "match", entry.Query)
}

func TestSemanticCandidateLimitCountsSimilarEntries(t *testing.T) {
	ctx := context.Background()
	f := testFingerprint()
	target := []float32{1, 0, 0, 0}

	seed := func(c *MultiStage) {
		// Oldest entry has the right evidence; the two newer ones pass
		// the similarity gate but fail evidence validation.
		c.Store(ctx, "good", semanticEntry("good", target, []string{"c1"}), f)
		c.Store(ctx, "bad1", semanticEntry("bad1", target, []string{"x1"}), f)
		c.Store(ctx, "bad2", semanticEntry("bad2", target, []string{"x2"}), f)
	}

	cfg := DefaultConfig()
	cfg.MaxSemanticCandidates = 2
	capped, _ := newTestCache(t, WithConfig(cfg))
	seed(capped)
	_, ok := capped.SemanticLookup(ctx, target, []string{"c1"}, f)
	assert.False(t, ok, "the two newest similar entries exhaust the candidate budget")
	assert.Equal(t, int64(2), capped.Stats().SemanticRejected)

	cfg.MaxSemanticCandidates = 3
	wide, _ := newTestCache(t, WithConfig(cfg))
	seed(wide)
	entry, ok := wide.SemanticLookup(ctx, target, []string{"c1"}, f)
	require.True(t, ok)
	assert.Equal(t, "good", entry.Query)
}

func TestSemanticEntryExpiresBeforeExact(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()
	f := testFingerprint()

	emb := []float32{1, 0, 0, 0}
	c.Store(ctx, "q", semanticEntry("q", emb, []string{"c1"}), f)

	srv.FastForward(11 * time.Minute)

	_, ok := c.SemanticLookup(ctx, emb, []string{"c1"}, f)
	assert.False(t, ok, "semantic entries carry the short TTL")

	_, _, exactOK := c.Lookup(ctx, "q", f)
	assert.True(t, exactOK, "the exact entry outlives the semantic one")
}

func TestRedisDownDegradesToMiss(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	defer rdb.Close()
	c := NewMultiStage(rdb)
	ctx := context.Background()
	f := testFingerprint()

	c.Store(ctx, "q", testEntry("q"), f)

	_, _, ok := c.Lookup(ctx, "q", f)
	assert.False(t, ok)

	_, ok = c.SemanticLookup(ctx, []float32{1, 0}, []string{"c1"}, f)
	assert.False(t, ok)
}

func TestNilClientDegradesToMiss(t *testing.T) {
	c := NewMultiStage(nil)
	ctx := context.Background()

	_, _, ok := c.Lookup(ctx, "q", testFingerprint())
	assert.False(t, ok)
	c.Store(ctx, "q", testEntry("q"), testFingerprint())
}
