package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/corpusqa/corpusqa/internal/embed"
	"github.com/corpusqa/corpusqa/internal/errors"
	"github.com/corpusqa/corpusqa/internal/store"
	"github.com/corpusqa/corpusqa/internal/textnorm"
)

// Default retrieval depths.
const (
	DefaultInitialK       = 100
	DefaultRerankK        = 30
	DefaultFinalK         = 8
	DefaultMaxCharsPerDoc = 3200
)

// ErrNilDependency is returned when a required component is missing.
var ErrNilDependency = fmt.Errorf("nil dependency")

// RetrieverConfig holds the retriever's tuning knobs.
type RetrieverConfig struct {
	InitialK       int
	RerankK        int
	FinalK         int
	RRFK           int
	MaxCharsPerDoc int
}

// DefaultRetrieverConfig returns production defaults.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		InitialK:       DefaultInitialK,
		RerankK:        DefaultRerankK,
		FinalK:         DefaultFinalK,
		RRFK:           DefaultRRFK,
		MaxCharsPerDoc: DefaultMaxCharsPerDoc,
	}
}

// AdaptiveRetriever routes queries through one of three retrieval
// tiers based on classified complexity. The dense arm is mandatory;
// the sparse arm degrades to a warning when it fails.
type AdaptiveRetriever struct {
	embedder embed.Embedder
	vector   store.VectorIndex
	sparse   store.SparseIndex
	chunks   store.ChunkStore

	classifier   *Classifier
	expander     *QueryExpander
	reformulator *Reformulator
	reranker     Reranker

	config RetrieverConfig
	logger *slog.Logger
}

var _ Retriever = (*AdaptiveRetriever)(nil)

// RetrieverOption configures an AdaptiveRetriever.
type RetrieverOption func(*AdaptiveRetriever)

// WithReranker sets the cross-encoder reranker.
func WithReranker(r Reranker) RetrieverOption {
	return func(a *AdaptiveRetriever) {
		a.reranker = r
	}
}

// WithRetrieverConfig overrides the default tuning knobs.
func WithRetrieverConfig(cfg RetrieverConfig) RetrieverOption {
	return func(a *AdaptiveRetriever) {
		a.config = cfg
	}
}

// WithExpander replaces the default synonym expander.
func WithExpander(e *QueryExpander) RetrieverOption {
	return func(a *AdaptiveRetriever) {
		a.expander = e
	}
}

// WithLogger sets the retriever's logger.
func WithLogger(logger *slog.Logger) RetrieverOption {
	return func(a *AdaptiveRetriever) {
		a.logger = logger
	}
}

// NewAdaptiveRetriever wires the retrieval pipeline. The embedder,
// vector index, sparse index, and chunk store are required.
func NewAdaptiveRetriever(embedder embed.Embedder, vector store.VectorIndex, sparse store.SparseIndex, chunks store.ChunkStore, opts ...RetrieverOption) (*AdaptiveRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder", ErrNilDependency)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: vector index", ErrNilDependency)
	}
	if sparse == nil {
		return nil, fmt.Errorf("%w: sparse index", ErrNilDependency)
	}
	if chunks == nil {
		return nil, fmt.Errorf("%w: chunk store", ErrNilDependency)
	}

	a := &AdaptiveRetriever{
		embedder:     embedder,
		vector:       vector,
		sparse:       sparse,
		chunks:       chunks,
		classifier:   NewClassifier(),
		expander:     NewQueryExpander(),
		reformulator: NewReformulator(),
		reranker:     NewLexicalReranker(),
		config:       DefaultRetrieverConfig(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.config.InitialK <= 0 {
		a.config.InitialK = DefaultInitialK
	}
	if a.config.RerankK <= 0 {
		a.config.RerankK = DefaultRerankK
	}
	if a.config.FinalK <= 0 {
		a.config.FinalK = DefaultFinalK
	}
	if a.config.RRFK <= 0 {
		a.config.RRFK = DefaultRRFK
	}
	if a.config.MaxCharsPerDoc <= 0 {
		a.config.MaxCharsPerDoc = DefaultMaxCharsPerDoc
	}

	return a, nil
}

// Retrieve runs the strategy selected for the query and returns the
// final ranked chunks with an explanation of how they were chosen.
func (a *AdaptiveRetriever) Retrieve(ctx context.Context, query string, opts Options) (*RetrievalResult, error) {
	initialK := opts.InitialK
	if initialK <= 0 {
		initialK = a.config.InitialK
	}
	rerankK := opts.RerankK
	if rerankK <= 0 {
		rerankK = a.config.RerankK
	}
	finalK := opts.FinalK
	if finalK <= 0 {
		finalK = a.config.FinalK
	}

	searchText := opts.SearchText
	if searchText == "" {
		searchText = query
	}

	var cls Classification
	if opts.Strategy != "" {
		cls = Classification{
			Strategy:  opts.Strategy,
			Reasoning: "strategy forced by request",
		}
	} else {
		cls = a.classifier.Classify(query)
	}

	expl := Explanation{
		Strategy:        cls.Strategy,
		ComplexityScore: cls.Score,
		Factors:         cls.Factors,
		Reasoning:       cls.Reasoning,
	}

	// Synonym expansion is additive and applies to the simple and
	// hybrid tiers only; both the dense embedding and the sparse arm
	// search the expanded text. The advanced tier relies on
	// reformulation instead.
	if cls.Strategy != StrategyAdvancedExpanded {
		expanded, synonyms := a.expander.Expand(searchText)
		if len(synonyms) > 0 {
			searchText = expanded
			expl.ExpandedQuery = expanded
			expl.SynonymsApplied = synonyms
		}
	}

	qvec, err := a.embedder.Embed(ctx, searchText)
	if err != nil {
		return nil, errors.BackendUnavailable("failed to embed query", err)
	}

	var fused []FusedResult
	switch cls.Strategy {
	case StrategySimpleDense:
		fused, err = a.denseOnly(ctx, qvec, initialK)
	case StrategyAdvancedExpanded:
		fused, err = a.expandedSearch(ctx, searchText, qvec, initialK, &expl)
	default:
		fused, err = a.hybridSearch(ctx, searchText, qvec, initialK, &expl)
	}
	if err != nil {
		return nil, err
	}

	scored, err := a.loadChunks(ctx, fused)
	if err != nil {
		return nil, err
	}

	if cls.Strategy != StrategySimpleDense {
		scored = a.rerank(ctx, query, scored, rerankK, &expl)
	}

	if len(scored) > finalK {
		scored = scored[:finalK]
	}

	a.logger.Debug("retrieval complete",
		"strategy", string(cls.Strategy),
		"complexity_score", cls.Score,
		"results", len(scored),
		"warnings", len(expl.Warnings))

	return &RetrievalResult{
		Chunks:         scored,
		QueryEmbedding: qvec,
		Explanation:    expl,
	}, nil
}

// denseOnly is the simple tier: a single vector search.
func (a *AdaptiveRetriever) denseOnly(ctx context.Context, qvec []float32, k int) ([]FusedResult, error) {
	hits, err := a.vector.Search(ctx, qvec, k)
	if err != nil {
		return nil, errors.BackendUnavailable("vector search failed", err)
	}
	return FuseResults(hits, nil, a.config.RRFK), nil
}

// hybridSearch runs the dense and sparse arms in parallel and fuses
// their rankings. A sparse failure degrades to dense-only with a
// warning; a dense failure fails the retrieval because the vector arm
// carries recall.
func (a *AdaptiveRetriever) hybridSearch(ctx context.Context, searchText string, qvec []float32, initialK int, expl *Explanation) ([]FusedResult, error) {
	var (
		dense     []*store.VectorResult
		sparse    []*store.SparseResult
		denseErr  error
		sparseErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dense, denseErr = a.vector.Search(gctx, qvec, initialK)
		return nil
	})
	g.Go(func() error {
		sparse, sparseErr = a.sparse.Search(gctx, searchText, initialK)
		return nil
	})
	_ = g.Wait()

	if denseErr != nil {
		return nil, errors.BackendUnavailable("vector search failed", denseErr)
	}
	if sparseErr != nil {
		a.logger.Warn("sparse search failed, continuing dense-only", "error", sparseErr)
		expl.Warnings = append(expl.Warnings, "sparse search unavailable, used dense results only")
		sparse = nil
	}

	return FuseResults(dense, sparse, a.config.RRFK), nil
}

// expandedSearch runs the hybrid pipeline for the original query and
// up to MaxRewrites reformulations, then fuses the per-query rankings
// so chunks multiple phrasings agree on rise.
func (a *AdaptiveRetriever) expandedSearch(ctx context.Context, searchText string, qvec []float32, initialK int, expl *Explanation) ([]FusedResult, error) {
	rewrites := a.reformulator.Rewrites(searchText)
	expl.Rewrites = rewrites

	original, err := a.hybridSearch(ctx, searchText, qvec, initialK, expl)
	if err != nil {
		return nil, err
	}
	rankings := [][]FusedResult{original}

	if len(rewrites) > 0 {
		vecs, err := a.embedder.EmbedBatch(ctx, rewrites)
		if err != nil {
			a.logger.Warn("rewrite embedding failed, using original ranking only", "error", err)
			expl.Warnings = append(expl.Warnings, "rewrite search unavailable, used original query only")
			return original, nil
		}

		results := make([][]FusedResult, len(rewrites))
		g, gctx := errgroup.WithContext(ctx)
		for i, rewrite := range rewrites {
			g.Go(func() error {
				var sub Explanation
				ranking, err := a.hybridSearch(gctx, rewrite, vecs[i], initialK, &sub)
				if err != nil {
					return err
				}
				results[i] = ranking
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			a.logger.Warn("rewrite search failed, using original ranking only", "error", err)
			expl.Warnings = append(expl.Warnings, "rewrite search unavailable, used original query only")
			return original, nil
		}
		rankings = append(rankings, results...)
	}

	return FuseRankings(rankings, a.config.RRFK), nil
}

// loadChunks resolves fused IDs against the chunk store, preserving
// the fused order. Chunks that have been deleted since indexing are
// skipped.
func (a *AdaptiveRetriever) loadChunks(ctx context.Context, fused []FusedResult) ([]*ScoredChunk, error) {
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}
	chunks, err := a.chunks.GetChunks(ctx, ids)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "failed to load chunks", err)
	}

	byID := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	scored := make([]*ScoredChunk, 0, len(fused))
	for _, f := range fused {
		chunk, ok := byID[f.ChunkID]
		if !ok {
			continue
		}
		scored = append(scored, &ScoredChunk{
			Chunk:        chunk,
			Score:        f.RRFScore,
			FusedScore:   f.RRFScore,
			DenseScore:   f.DenseScore,
			SparseScore:  f.SparseScore,
			MatchedTerms: f.MatchedTerms,
		})
	}
	return scored, nil
}

// rerank scores the top fused candidates with the cross-encoder and
// reorders by its scores. A reranker failure keeps the fused order
// and records a warning.
func (a *AdaptiveRetriever) rerank(ctx context.Context, query string, scored []*ScoredChunk, rerankK int, expl *Explanation) []*ScoredChunk {
	if len(scored) == 0 || a.reranker == nil {
		return scored
	}
	if len(scored) > rerankK {
		scored = scored[:rerankK]
	}

	docs := make([]string, len(scored))
	for i, sc := range scored {
		docs[i] = textnorm.Truncate(sc.Chunk.Text, a.config.MaxCharsPerDoc)
	}

	results, err := a.reranker.Rerank(ctx, query, docs, len(docs))
	if err != nil {
		a.logger.Warn("rerank failed, keeping fused order", "error", err)
		expl.Warnings = append(expl.Warnings, "reranker unavailable, kept fused order")
		return scored
	}

	reordered := make([]*ScoredChunk, 0, len(results))
	for _, r := range results {
		sc := scored[r.Index]
		sc.RerankScore = r.Score
		sc.Score = r.Score
		reordered = append(reordered, sc)
	}

	sort.SliceStable(reordered, func(i, j int) bool {
		if reordered[i].Score != reordered[j].Score {
			return reordered[i].Score > reordered[j].Score
		}
		return reordered[i].Chunk.ID < reordered[j].Chunk.ID
	})
	return reordered
}
