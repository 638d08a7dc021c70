package search

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusqa/corpusqa/internal/embed"
	"github.com/corpusqa/corpusqa/internal/errors"
	"github.com/corpusqa/corpusqa/internal/store"
)

type fakeVector struct {
	results []*store.VectorResult
	err     error
	calls   atomic.Int64
}

func (f *fakeVector) Add(ctx context.Context, ids []string, vectors [][]float32) error { return nil }
func (f *fakeVector) Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > k {
		return f.results[:k], nil
	}
	return f.results, nil
}
func (f *fakeVector) Delete(ctx context.Context, ids []string) error { return nil }
func (f *fakeVector) Count() int                                     { return len(f.results) }
func (f *fakeVector) Save(path string) error                         { return nil }
func (f *fakeVector) Load(path string) error                         { return nil }
func (f *fakeVector) Close() error                                   { return nil }

type fakeSparse struct {
	// searchFn lets tests script results per query text.
	searchFn func(query string) ([]*store.SparseResult, error)
	calls    atomic.Int64
}

func (f *fakeSparse) Index(ctx context.Context, chunks []*store.Chunk) error { return nil }
func (f *fakeSparse) Search(ctx context.Context, query string, limit int) ([]*store.SparseResult, error) {
	f.calls.Add(1)
	if f.searchFn == nil {
		return nil, nil
	}
	return f.searchFn(query)
}
func (f *fakeSparse) Delete(ctx context.Context, ids []string) error { return nil }
func (f *fakeSparse) Count() (uint64, error)                         { return 0, nil }
func (f *fakeSparse) Close() error                                   { return nil }

type fakeChunks struct {
	byID map[string]*store.Chunk
}

func newFakeChunks(ids ...string) *fakeChunks {
	f := &fakeChunks{byID: map[string]*store.Chunk{}}
	for _, id := range ids {
		f.byID[id] = &store.Chunk{ID: id, Text: "text for " + id}
	}
	return f
}

func (f *fakeChunks) SaveChunks(ctx context.Context, chunks []*store.Chunk) error { return nil }
func (f *fakeChunks) GetChunk(ctx context.Context, id string) (*store.Chunk, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("not found: %s", id)
	}
	return c, nil
}
func (f *fakeChunks) GetChunks(ctx context.Context, ids []string) ([]*store.Chunk, error) {
	var out []*store.Chunk
	for _, id := range ids {
		if c, ok := f.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeChunks) Count(ctx context.Context) (int, error) { return len(f.byID), nil }
func (f *fakeChunks) Close() error                           { return nil }

func newTestRetriever(t *testing.T, vector *fakeVector, sparse *fakeSparse, chunks *fakeChunks, opts ...RetrieverOption) *AdaptiveRetriever {
	t.Helper()
	r, err := NewAdaptiveRetriever(embed.NewStaticEmbedder(0), vector, sparse, chunks, opts...)
	require.NoError(t, err)
	return r
}

func TestNewAdaptiveRetrieverRequiresDependencies(t *testing.T) {
	_, err := NewAdaptiveRetriever(nil, &fakeVector{}, &fakeSparse{}, newFakeChunks())
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewAdaptiveRetriever(embed.NewStaticEmbedder(0), nil, &fakeSparse{}, newFakeChunks())
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestRetrieveSimpleDenseSkipsSparseArm(t *testing.T) {
	vector := &fakeVector{results: []*store.VectorResult{
		{ID: "a", Score: 0.9},
		{ID: "b", Score: 0.8},
	}}
	sparse := &fakeSparse{}
	r := newTestRetriever(t, vector, sparse, newFakeChunks("a", "b"))

	result, err := r.Retrieve(context.Background(), "capital of France", Options{})
	require.NoError(t, err)

	assert.Equal(t, StrategySimpleDense, result.Explanation.Strategy)
	assert.Equal(t, int64(0), sparse.calls.Load(), "simple tier must not touch the sparse index")
	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "a", result.Chunks[0].Chunk.ID)
	assert.NotEmpty(t, result.QueryEmbedding)
}

func TestRetrieveHybridFusesBothArms(t *testing.T) {
	vector := &fakeVector{results: []*store.VectorResult{
		{ID: "a", Score: 0.9},
		{ID: "b", Score: 0.8},
	}}
	sparse := &fakeSparse{searchFn: func(query string) ([]*store.SparseResult, error) {
		return []*store.SparseResult{
			{ID: "b", Score: 5.0, MatchedTerms: []string{"empire"}},
			{ID: "c", Score: 3.0},
		}, nil
	}}
	r := newTestRetriever(t, vector, sparse, newFakeChunks("a", "b", "c"))

	result, err := r.Retrieve(context.Background(), "why did the empire fall", Options{})
	require.NoError(t, err)

	assert.Equal(t, StrategyHybridReranked, result.Explanation.Strategy)
	assert.Equal(t, int64(1), sparse.calls.Load())
	require.NotEmpty(t, result.Chunks)

	ids := map[string]bool{}
	for _, sc := range result.Chunks {
		ids[sc.Chunk.ID] = true
	}
	assert.True(t, ids["a"] && ids["b"] && ids["c"], "hybrid must surface results from both arms")
}

func TestRetrieveSynonymExpansionReachesSparseArm(t *testing.T) {
	vector := &fakeVector{results: []*store.VectorResult{{ID: "a", Score: 0.9}}}

	// The corpus chunk says "anthem", never "song". Only the expanded
	// query text can match it.
	sparse := &fakeSparse{searchFn: func(query string) ([]*store.SparseResult, error) {
		if strings.Contains(query, "anthem") {
			return []*store.SparseResult{{ID: "anthem-chunk", Score: 4.0, MatchedTerms: []string{"anthem"}}}, nil
		}
		return nil, nil
	}}
	r := newTestRetriever(t, vector, sparse, newFakeChunks("a", "anthem-chunk"))

	result, err := r.Retrieve(context.Background(), "national song of France", Options{
		Strategy: StrategyHybridReranked,
	})
	require.NoError(t, err)

	assert.Contains(t, result.Explanation.ExpandedQuery, "anthem")
	ids := map[string]bool{}
	for _, sc := range result.Chunks {
		ids[sc.Chunk.ID] = true
	}
	assert.True(t, ids["anthem-chunk"], "expansion must surface synonym-only matches")
}

type recordingEmbedder struct {
	*embed.StaticEmbedder
	lastQuery string
}

func (r *recordingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	r.lastQuery = text
	return r.StaticEmbedder.Embed(ctx, text)
}

func TestRetrieveSimpleDenseEmbedsExpandedQuery(t *testing.T) {
	emb := &recordingEmbedder{StaticEmbedder: embed.NewStaticEmbedder(0)}
	vector := &fakeVector{results: []*store.VectorResult{{ID: "anthem-chunk", Score: 0.9}}}
	r, err := NewAdaptiveRetriever(emb, vector, &fakeSparse{}, newFakeChunks("anthem-chunk"))
	require.NoError(t, err)

	result, err := r.Retrieve(context.Background(), "what song do I salute", Options{})
	require.NoError(t, err)

	assert.Equal(t, StrategySimpleDense, result.Explanation.Strategy)
	assert.Contains(t, emb.lastQuery, "anthem",
		"dense arm must embed the synonym-expanded query")
	assert.Contains(t, result.Explanation.SynonymsApplied, "anthem")
	assert.Contains(t, result.Explanation.ExpandedQuery, "anthem")
}

func TestRetrieveAdvancedTierSkipsSynonymExpansion(t *testing.T) {
	emb := &recordingEmbedder{StaticEmbedder: embed.NewStaticEmbedder(0)}
	vector := &fakeVector{results: []*store.VectorResult{{ID: "a", Score: 0.9}}}
	sparse := &fakeSparse{}
	r, err := NewAdaptiveRetriever(emb, vector, sparse, newFakeChunks("a"))
	require.NoError(t, err)

	query := "what song do people salute"
	result, err := r.Retrieve(context.Background(), query, Options{
		Strategy: StrategyAdvancedExpanded,
	})
	require.NoError(t, err)

	assert.Empty(t, result.Explanation.SynonymsApplied,
		"the advanced tier relies on reformulation, not synonym expansion")
	assert.Equal(t, query, emb.lastQuery)
}

func TestRetrieveSparseFailureDegradesToDenseOnly(t *testing.T) {
	vector := &fakeVector{results: []*store.VectorResult{{ID: "a", Score: 0.9}}}
	sparse := &fakeSparse{searchFn: func(query string) ([]*store.SparseResult, error) {
		return nil, fmt.Errorf("index closed")
	}}
	r := newTestRetriever(t, vector, sparse, newFakeChunks("a"))

	result, err := r.Retrieve(context.Background(), "why did the empire fall", Options{})
	require.NoError(t, err)

	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "a", result.Chunks[0].Chunk.ID)
	require.NotEmpty(t, result.Explanation.Warnings)
	assert.Contains(t, result.Explanation.Warnings[0], "sparse")
}

func TestRetrieveDenseFailureFailsRetrieval(t *testing.T) {
	vector := &fakeVector{err: fmt.Errorf("index corrupt")}
	sparse := &fakeSparse{searchFn: func(query string) ([]*store.SparseResult, error) {
		return []*store.SparseResult{{ID: "a", Score: 1.0}}, nil
	}}
	r := newTestRetriever(t, vector, sparse, newFakeChunks("a"))

	_, err := r.Retrieve(context.Background(), "why did the empire fall", Options{})
	require.Error(t, err)
	assert.Equal(t, errors.KindBackendUnavailable, errors.KindOf(err))
}

func TestRetrieveFinalKTruncates(t *testing.T) {
	var results []*store.VectorResult
	ids := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("chunk-%02d", i)
		ids = append(ids, id)
		results = append(results, &store.VectorResult{ID: id, Score: float32(1.0 - float64(i)*0.01)})
	}
	vector := &fakeVector{results: results}
	r := newTestRetriever(t, vector, &fakeSparse{}, newFakeChunks(ids...))

	result, err := r.Retrieve(context.Background(), "short lookup", Options{FinalK: 5})
	require.NoError(t, err)
	assert.Len(t, result.Chunks, 5)
}

func TestRetrieveSkipsDeletedChunks(t *testing.T) {
	vector := &fakeVector{results: []*store.VectorResult{
		{ID: "live", Score: 0.9},
		{ID: "deleted", Score: 0.8},
	}}
	r := newTestRetriever(t, vector, &fakeSparse{}, newFakeChunks("live"))

	result, err := r.Retrieve(context.Background(), "short lookup", Options{})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "live", result.Chunks[0].Chunk.ID)
}

func TestRetrieveForcedStrategyBypassesClassifier(t *testing.T) {
	vector := &fakeVector{results: []*store.VectorResult{{ID: "a", Score: 0.9}}}
	sparse := &fakeSparse{}
	r := newTestRetriever(t, vector, sparse, newFakeChunks("a"))

	result, err := r.Retrieve(context.Background(), "why did the empire fall", Options{
		Strategy: StrategySimpleDense,
	})
	require.NoError(t, err)
	assert.Equal(t, StrategySimpleDense, result.Explanation.Strategy)
	assert.Equal(t, int64(0), sparse.calls.Load())
}

func TestRetrieveAdvancedRunsRewrites(t *testing.T) {
	vector := &fakeVector{results: []*store.VectorResult{{ID: "a", Score: 0.9}}}
	sparse := &fakeSparse{searchFn: func(query string) ([]*store.SparseResult, error) {
		return []*store.SparseResult{{ID: "a", Score: 2.0}}, nil
	}}
	r := newTestRetriever(t, vector, sparse, newFakeChunks("a"))

	query := "how did the industrial revolution change urban labor markets, " +
		"and why did wages in textile towns lag behind food prices for decades"
	result, err := r.Retrieve(context.Background(), query, Options{})
	require.NoError(t, err)

	assert.Equal(t, StrategyAdvancedExpanded, result.Explanation.Strategy)
	assert.NotEmpty(t, result.Explanation.Rewrites)
	// One hybrid pass for the original plus one per rewrite.
	assert.Equal(t, int64(1+len(result.Explanation.Rewrites)), sparse.calls.Load())
}

func TestRetrieveRerankerFailureKeepsFusedOrder(t *testing.T) {
	vector := &fakeVector{results: []*store.VectorResult{
		{ID: "a", Score: 0.9},
		{ID: "b", Score: 0.8},
	}}
	sparse := &fakeSparse{}
	failing := NewHTTPReranker("http://127.0.0.1:1", 0)
	r := newTestRetriever(t, vector, sparse, newFakeChunks("a", "b"), WithReranker(failing))

	result, err := r.Retrieve(context.Background(), "why did the empire fall", Options{})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "a", result.Chunks[0].Chunk.ID)

	found := false
	for _, w := range result.Explanation.Warnings {
		if strings.Contains(w, "reranker") {
			found = true
		}
	}
	assert.True(t, found, "reranker failure must be recorded as a warning")
}
