// Package search implements adaptive retrieval: query classification,
// synonym expansion, parallel dense+sparse search, reciprocal rank
// fusion, and cross-encoder reranking.
package search

import (
	"context"

	"github.com/corpusqa/corpusqa/internal/store"
)

// Strategy identifies a retrieval strategy tier.
type Strategy string

const (
	// StrategySimpleDense is dense-only retrieval for short lookups.
	StrategySimpleDense Strategy = "simple_dense"
	// StrategyHybridReranked fuses dense and sparse arms and reranks.
	StrategyHybridReranked Strategy = "hybrid_reranked"
	// StrategyAdvancedExpanded adds query reformulation on top of the
	// hybrid pipeline for complex questions.
	StrategyAdvancedExpanded Strategy = "advanced_expanded"
)

// ScoredChunk is a retrieved chunk with its scores.
type ScoredChunk struct {
	Chunk *store.Chunk

	// Score is the score of the highest tier that ranked this chunk:
	// rerank score when reranking ran, fused score otherwise.
	Score float64

	// FusedScore is the RRF score before reranking.
	FusedScore float64
	// RerankScore is the cross-encoder score; 0 when reranking did
	// not run.
	RerankScore float64
	// DenseScore is the cosine-derived similarity from the vector arm.
	DenseScore float64
	// SparseScore is the BM25 score from the sparse arm.
	SparseScore float64
	// MatchedTerms are the sparse-arm matched terms.
	MatchedTerms []string
}

// Explanation records why retrieval behaved as it did.
type Explanation struct {
	// Strategy is the tier the classifier selected.
	Strategy Strategy `json:"strategy"`
	// ComplexityScore is the classifier's additive score.
	ComplexityScore int `json:"complexity_score"`
	// Factors maps each classifier signal that fired to the points it
	// contributed.
	Factors map[string]int `json:"factors,omitempty"`
	// Reasoning is a human-readable account of the tier selection.
	Reasoning string `json:"reasoning"`
	// ExpandedQuery is the synonym-expanded search text, empty when no
	// expansion applied.
	ExpandedQuery string `json:"expanded_query,omitempty"`
	// SynonymsApplied are the synonym terms added by expansion.
	SynonymsApplied []string `json:"synonyms_applied,omitempty"`
	// Rewrites are the reformulated queries used by the advanced tier.
	Rewrites []string `json:"rewrites,omitempty"`
	// Warnings records degradations (e.g. a failed sparse arm).
	Warnings []string `json:"warnings,omitempty"`
}

// RetrievalResult is the output of the adaptive retriever.
type RetrievalResult struct {
	// Chunks is ordered best-first by highest-tier score, ties broken
	// by chunk ID.
	Chunks []*ScoredChunk
	// QueryEmbedding is the dense query vector, reused by the
	// semantic answer cache.
	QueryEmbedding []float32
	// Explanation records strategy selection and degradations.
	Explanation Explanation
}

// Options tunes a single retrieval.
type Options struct {
	// InitialK is the candidate pool per arm.
	InitialK int
	// RerankK is how many fused candidates are reranked.
	RerankK int
	// FinalK is how many chunks are returned.
	FinalK int
	// Strategy forces a tier, bypassing the classifier when set.
	Strategy Strategy
	// SearchText overrides the text used for searching (memory
	// enrichment); classification still uses the original query.
	SearchText string
}

// Retriever retrieves relevant chunks for a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts Options) (*RetrievalResult, error)
}
