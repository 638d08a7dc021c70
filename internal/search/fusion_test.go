package search

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusqa/corpusqa/internal/store"
)

func denseHits(ids ...string) []*store.VectorResult {
	out := make([]*store.VectorResult, len(ids))
	for i, id := range ids {
		out[i] = &store.VectorResult{ID: id, Score: float32(1.0 - 0.1*float64(i))}
	}
	return out
}

func sparseHits(ids ...string) []*store.SparseResult {
	out := make([]*store.SparseResult, len(ids))
	for i, id := range ids {
		out[i] = &store.SparseResult{ID: id, Score: 10.0 - float64(i)}
	}
	return out
}

func TestFuseResultsScores(t *testing.T) {
	fused := FuseResults(denseHits("a", "b"), sparseHits("b", "c"), 60)
	require.Len(t, fused, 3)

	byID := map[string]FusedResult{}
	for _, f := range fused {
		byID[f.ChunkID] = f
	}

	assert.InDelta(t, 1.0/61, byID["a"].RRFScore, 1e-12)
	assert.InDelta(t, 1.0/62+1.0/61, byID["b"].RRFScore, 1e-12)
	assert.InDelta(t, 1.0/62, byID["c"].RRFScore, 1e-12)

	// b appears in both lists and must rank first.
	assert.Equal(t, "b", fused[0].ChunkID)
	assert.True(t, fused[0].InBothLists)
}

func TestFuseResultsRanksAndArms(t *testing.T) {
	fused := FuseResults(denseHits("a", "b"), sparseHits("b"), 60)

	byID := map[string]FusedResult{}
	for _, f := range fused {
		byID[f.ChunkID] = f
	}

	assert.Equal(t, 1, byID["a"].DenseRank)
	assert.Equal(t, 0, byID["a"].SparseRank)
	assert.Equal(t, 2, byID["b"].DenseRank)
	assert.Equal(t, 1, byID["b"].SparseRank)
	assert.False(t, byID["a"].InBothLists)
	assert.True(t, byID["b"].InBothLists)
}

func TestFuseResultsTieBreakByChunkID(t *testing.T) {
	// Same rank in opposite arms, same dense absence: identical RRF
	// contributions, so the smaller chunk ID must come first.
	dense := []*store.VectorResult{{ID: "zeta", Score: 0.5}}
	sparse := []*store.SparseResult{{ID: "alpha", Score: 1.0}}

	fused := FuseResults(dense, sparse, 60)
	require.Len(t, fused, 2)
	assert.InDelta(t, fused[0].RRFScore, fused[1].RRFScore, 1e-12)

	// zeta carries a dense score, which outranks alpha's sparse-only
	// standing before the ID comparison applies.
	assert.Equal(t, "zeta", fused[0].ChunkID)

	// Equal scores, equal arms: the smaller ID wins.
	tiedRankings := FuseRankings([][]FusedResult{
		{{ChunkID: "zeta", RRFScore: 0.4}},
		{{ChunkID: "alpha", RRFScore: 0.4}},
	}, 60)
	require.Len(t, tiedRankings, 2)
	assert.Equal(t, "alpha", tiedRankings[0].ChunkID)
}

func TestFuseResultsDeterministic(t *testing.T) {
	dense := denseHits("a", "b", "c", "d")
	sparse := sparseHits("c", "e", "a")

	first := FuseResults(dense, sparse, 60)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, FuseResults(dense, sparse, 60))
	}
}

func TestFuseResultsEmptyArms(t *testing.T) {
	assert.Empty(t, FuseResults(nil, nil, 60))

	fused := FuseResults(denseHits("a"), nil, 60)
	require.Len(t, fused, 1)
	assert.Equal(t, "a", fused[0].ChunkID)
}

func TestFuseResultsDefaultK(t *testing.T) {
	fused := FuseResults(denseHits("a"), nil, 0)
	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0/float64(DefaultRRFK+1), fused[0].RRFScore, 1e-12)
}

func TestFuseRankingsConsensus(t *testing.T) {
	// "shared" sits mid-list in both rankings; "solo" tops one.
	// Consensus across rankings must outweigh a single first place.
	rankingA := []FusedResult{
		{ChunkID: "solo", RRFScore: 0.9},
		{ChunkID: "shared", RRFScore: 0.5},
	}
	rankingB := []FusedResult{
		{ChunkID: "shared", RRFScore: 0.6},
		{ChunkID: "other", RRFScore: 0.2},
	}

	fused := FuseRankings([][]FusedResult{rankingA, rankingB}, 60)
	require.Len(t, fused, 3)
	assert.Equal(t, "shared", fused[0].ChunkID)
	assert.InDelta(t, 1.0/62+1.0/61, fused[0].RRFScore, 1e-12)
}

func TestFuseRankingsSinglePassthrough(t *testing.T) {
	ranking := []FusedResult{{ChunkID: "a", RRFScore: 0.3}}
	fused := FuseRankings([][]FusedResult{ranking}, 60)
	require.Len(t, fused, 1)
	assert.True(t, math.Abs(fused[0].RRFScore-0.3) < 1e-12,
		"single ranking passes through without rescoring")
}
