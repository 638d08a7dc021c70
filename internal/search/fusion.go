package search

import (
	"sort"

	"github.com/corpusqa/corpusqa/internal/store"
)

// DefaultRRFK is the rank-smoothing constant for reciprocal rank
// fusion. 60 is the standard value from the RRF literature.
const DefaultRRFK = 60

// FusedResult is a chunk's combined standing across both search arms.
type FusedResult struct {
	ChunkID      string
	RRFScore     float64
	DenseRank    int // 1-based, 0 when absent from the dense list
	SparseRank   int // 1-based, 0 when absent from the sparse list
	DenseScore   float64
	SparseScore  float64
	InBothLists  bool
	MatchedTerms []string
}

// FuseResults merges dense and sparse rankings with reciprocal rank
// fusion: each chunk scores the sum of 1/(k+rank) over the lists that
// contain it. The output is ordered best-first and fully
// deterministic; equal scores are broken by presence in both lists,
// then dense score, then chunk ID.
func FuseResults(dense []*store.VectorResult, sparse []*store.SparseResult, rrfK int) []FusedResult {
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}

	byID := make(map[string]*FusedResult, len(dense)+len(sparse))

	for i, r := range dense {
		byID[r.ID] = &FusedResult{
			ChunkID:    r.ID,
			DenseRank:  i + 1,
			DenseScore: float64(r.Score),
			RRFScore:   1.0 / float64(rrfK+i+1),
		}
	}

	for i, r := range sparse {
		if f, ok := byID[r.ID]; ok {
			f.SparseRank = i + 1
			f.SparseScore = r.Score
			f.MatchedTerms = r.MatchedTerms
			f.InBothLists = true
			f.RRFScore += 1.0 / float64(rrfK+i+1)
			continue
		}
		byID[r.ID] = &FusedResult{
			ChunkID:      r.ID,
			SparseRank:   i + 1,
			SparseScore:  r.Score,
			MatchedTerms: r.MatchedTerms,
			RRFScore:     1.0 / float64(rrfK+i+1),
		}
	}

	fused := make([]FusedResult, 0, len(byID))
	for _, f := range byID {
		fused = append(fused, *f)
	}

	sort.Slice(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.RRFScore != b.RRFScore {
			return a.RRFScore > b.RRFScore
		}
		if a.InBothLists != b.InBothLists {
			return a.InBothLists
		}
		if a.DenseScore != b.DenseScore {
			return a.DenseScore > b.DenseScore
		}
		return a.ChunkID < b.ChunkID
	})

	return fused
}

// FuseRankings merges multiple fused rankings (one per query rewrite)
// with a second RRF pass, rewarding chunks that several rewrites
// agree on.
func FuseRankings(rankings [][]FusedResult, rrfK int) []FusedResult {
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}
	if len(rankings) == 1 {
		return rankings[0]
	}

	byID := make(map[string]*FusedResult)
	for _, ranking := range rankings {
		for i, f := range ranking {
			contribution := 1.0 / float64(rrfK+i+1)
			if existing, ok := byID[f.ChunkID]; ok {
				existing.RRFScore += contribution
				existing.InBothLists = existing.InBothLists || f.InBothLists
				if f.DenseScore > existing.DenseScore {
					existing.DenseScore = f.DenseScore
				}
				if f.SparseScore > existing.SparseScore {
					existing.SparseScore = f.SparseScore
				}
				if len(existing.MatchedTerms) == 0 {
					existing.MatchedTerms = f.MatchedTerms
				}
				continue
			}
			merged := f
			merged.RRFScore = contribution
			byID[f.ChunkID] = &merged
		}
	}

	fused := make([]FusedResult, 0, len(byID))
	for _, f := range byID {
		fused = append(fused, *f)
	}

	sort.Slice(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.RRFScore != b.RRFScore {
			return a.RRFScore > b.RRFScore
		}
		if a.InBothLists != b.InBothLists {
			return a.InBothLists
		}
		if a.DenseScore != b.DenseScore {
			return a.DenseScore > b.DenseScore
		}
		return a.ChunkID < b.ChunkID
	})

	return fused
}
