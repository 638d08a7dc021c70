// Package engine orchestrates the query pipeline: validation, memory
// enrichment, the multi-stage cache, adaptive retrieval, generation,
// and cache write-back.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/corpusqa/corpusqa/internal/answer"
	"github.com/corpusqa/corpusqa/internal/cache"
	"github.com/corpusqa/corpusqa/internal/errors"
	"github.com/corpusqa/corpusqa/internal/llm"
	"github.com/corpusqa/corpusqa/internal/memory"
	"github.com/corpusqa/corpusqa/internal/search"
)

// Defaults for pipeline limits.
const (
	DefaultQueueDepth     = 8
	DefaultStageTimeout   = 15 * time.Second
	DefaultGlobalDeadline = 120 * time.Second
	DefaultTemperature    = 0.1
	DefaultMaxTokens      = 1024
)

// Config tunes the pipeline.
type Config struct {
	// MaxQueryChars bounds accepted query length.
	MaxQueryChars int
	// FinalK is how many passages back an answer.
	FinalK int
	// InitialK and RerankK are passed through to retrieval and pinned
	// into the cache fingerprint.
	InitialK int
	RerankK  int
	// MaxCharsPerDoc truncates passages in the prompt.
	MaxCharsPerDoc int
	// QueueDepth bounds concurrent generations; requests beyond it are
	// rejected as overloaded rather than queued indefinitely.
	QueueDepth int
	// StageTimeout bounds the retrieval stage.
	StageTimeout time.Duration
	// GlobalDeadline bounds the whole request.
	GlobalDeadline time.Duration
	// Temperature is the generation sampling temperature.
	Temperature float32
	// MaxTokens caps response length; generation always runs with a
	// finite cap.
	MaxTokens int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxQueryChars:  DefaultMaxQueryChars,
		FinalK:         search.DefaultFinalK,
		InitialK:       search.DefaultInitialK,
		RerankK:        search.DefaultRerankK,
		MaxCharsPerDoc: answer.DefaultMaxCharsPerPassage,
		QueueDepth:     DefaultQueueDepth,
		StageTimeout:   DefaultStageTimeout,
		GlobalDeadline: DefaultGlobalDeadline,
		Temperature:    DefaultTemperature,
		MaxTokens:      DefaultMaxTokens,
	}
}

// Request is one question.
type Request struct {
	// Query is the user's question, passed through verbatim.
	Query string
	// SessionID scopes conversation memory; empty disables it.
	SessionID string
	// Strategy forces a retrieval tier when set.
	Strategy search.Strategy
	// TopK overrides the configured passage count for this request
	// when in [1, rerank_k].
	TopK int
	// SkipConversation disables memory enrichment for this request
	// even when a session is present; the turn is still recorded.
	SkipConversation bool
}

// Timing reports per-stage latencies.
type Timing struct {
	RetrievalMS  int64 `json:"retrieval_ms"`
	GenerationMS int64 `json:"generation_ms"`
	TotalMS      int64 `json:"total_ms"`
}

// Result is a completed answer with its provenance.
type Result struct {
	Answer *answer.Answer
	// Cached reports whether the answer came from the cache, and
	// CacheStage which stage served it.
	Cached     bool
	CacheStage cache.Stage
	// Explanation is the retrieval explanation; zero for exact and
	// normalized cache hits, which skip retrieval entirely.
	Explanation search.Explanation
	// FollowUp reports whether the query was answered with
	// conversation context.
	FollowUp bool
	// Timing breaks down where the request spent its time.
	Timing Timing
}

// Engine runs the query pipeline.
type Engine struct {
	retriever search.Retriever
	generator llm.Generator
	answers   *cache.MultiStage
	memory    *memory.Manager

	config Config
	logger *slog.Logger

	// flight collapses concurrent identical non-follow-up queries into
	// one pipeline execution.
	flight singleflight.Group
	// genSlots bounds concurrent generation.
	genSlots chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithAnswerCache attaches the multi-stage answer cache.
func WithAnswerCache(c *cache.MultiStage) Option {
	return func(e *Engine) {
		e.answers = c
	}
}

// WithMemory attaches conversation memory.
func WithMemory(m *memory.Manager) Option {
	return func(e *Engine) {
		e.memory = m
	}
}

// WithConfig overrides pipeline defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.config = cfg
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New wires the pipeline. The retriever and generator are required;
// cache and memory are optional and their absence only disables the
// corresponding stage.
func New(retriever search.Retriever, generator llm.Generator, opts ...Option) (*Engine, error) {
	if retriever == nil {
		return nil, fmt.Errorf("%w: retriever", search.ErrNilDependency)
	}
	if generator == nil {
		return nil, fmt.Errorf("%w: generator", search.ErrNilDependency)
	}

	e := &Engine{
		retriever: retriever,
		generator: generator,
		config:    DefaultConfig(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.config.QueueDepth <= 0 {
		e.config.QueueDepth = DefaultQueueDepth
	}
	if e.config.StageTimeout <= 0 {
		e.config.StageTimeout = DefaultStageTimeout
	}
	if e.config.GlobalDeadline <= 0 {
		e.config.GlobalDeadline = DefaultGlobalDeadline
	}
	if e.config.FinalK <= 0 {
		e.config.FinalK = search.DefaultFinalK
	}
	if e.config.MaxTokens <= 0 {
		e.config.MaxTokens = DefaultMaxTokens
	}
	e.genSlots = make(chan struct{}, e.config.QueueDepth)

	return e, nil
}

// finalK resolves the per-request passage count. Out-of-range
// overrides fall back to the configured default; the reranker depth
// is the upper bound so rerank_k >= top_k always holds.
func (e *Engine) finalK(req Request) int {
	if req.TopK >= 1 && (e.config.RerankK <= 0 || req.TopK <= e.config.RerankK) {
		return req.TopK
	}
	return e.config.FinalK
}

func (e *Engine) fingerprint(finalK int) cache.Fingerprint {
	return cache.Fingerprint{
		Model:    e.generator.ModelName(),
		InitialK: e.config.InitialK,
		RerankK:  e.config.RerankK,
		FinalK:   finalK,
	}
}

func (e *Engine) genParams() llm.Params {
	return llm.Params{
		Temperature: e.config.Temperature,
		MaxTokens:   e.config.MaxTokens,
	}
}

// Query answers a question. Concurrent identical questions share one
// pipeline execution; cache hits skip retrieval and generation.
func (e *Engine) Query(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if err := validateQuery(req.Query, e.config.MaxQueryChars); err != nil {
		return nil, err
	}
	if m := detectInjection(req.Query); m != "" {
		e.logger.Warn("possible prompt injection in query",
			"pattern", m, "session_id", req.SessionID)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.GlobalDeadline)
	defer cancel()

	enrichment := e.enrich(req)

	// Follow-ups depend on session context, so they bypass both the
	// shared cache and request collapsing.
	if enrichment.FollowUp {
		result, err := e.answerQuery(ctx, req, enrichment, start)
		return result, e.mapDeadline(ctx, err)
	}

	f := e.fingerprint(e.finalK(req))
	if e.answers != nil {
		if entry, stage, ok := e.answers.Lookup(ctx, req.Query, f); ok {
			result := resultFromCache(entry, stage)
			result.Timing.TotalMS = time.Since(start).Milliseconds()
			e.record(ctx, req, result.Answer.Text)
			return result, nil
		}
	}

	key, keyErr := cache.NormalizedKey(req.Query, f)
	if keyErr != nil {
		key = cache.ExactKey(req.Query, f)
	}
	v, err, _ := e.flight.Do(key, func() (any, error) {
		return e.answerQuery(ctx, req, enrichment, start)
	})
	if err != nil {
		return nil, e.mapDeadline(ctx, err)
	}
	return v.(*Result), nil
}

// answerQuery runs retrieval, the semantic cache stage, generation,
// and write-back.
func (e *Engine) answerQuery(ctx context.Context, req Request, enrichment memory.Enrichment, start time.Time) (*Result, error) {
	finalK := e.finalK(req)

	retrievalStart := time.Now()
	retrieval, err := e.retrieve(ctx, req, enrichment, finalK)
	if err != nil {
		return nil, err
	}
	retrievalMS := time.Since(retrievalStart).Milliseconds()

	f := e.fingerprint(finalK)
	if e.answers != nil && !enrichment.FollowUp {
		chunkIDs := make([]string, len(retrieval.Chunks))
		for i, sc := range retrieval.Chunks {
			chunkIDs[i] = sc.Chunk.ID
		}
		if entry, ok := e.answers.SemanticLookup(ctx, retrieval.QueryEmbedding, chunkIDs, f); ok {
			result := resultFromCache(entry, cache.StageSemantic)
			result.Explanation = retrieval.Explanation
			result.Timing = Timing{
				RetrievalMS: retrievalMS,
				TotalMS:     time.Since(start).Milliseconds(),
			}
			e.record(ctx, req, result.Answer.Text)
			return result, nil
		}
		e.answers.RecordMiss()
	}

	ans, err := answer.Prepare(req.Query, retrieval, finalK)
	if err != nil {
		// No evidence still yields a well-formed answer, cached in the
		// exact and normalized tiers only.
		if errors.KindOf(err) == errors.KindInsufficientEvidence {
			ans = answer.Insufficient(string(retrieval.Explanation.Strategy))
			e.storeAnswer(ctx, req, enrichment, ans, nil)
			e.record(ctx, req, ans.Text)
			return &Result{
				Answer:      ans,
				Explanation: retrieval.Explanation,
				FollowUp:    enrichment.FollowUp,
				Timing: Timing{
					RetrievalMS: retrievalMS,
					TotalMS:     time.Since(start).Milliseconds(),
				},
			}, nil
		}
		return nil, err
	}

	pre := answer.PreConfidence(retrieval.Chunks, finalK)

	generationStart := time.Now()
	text, err := e.generate(ctx, req.Query, e.conversationSummary(req, enrichment), retrieval)
	if err != nil {
		return nil, err
	}
	ans.Text = text
	ans.Confidence = answer.Finalize(pre, text, retrieval.Chunks)

	e.storeAnswer(ctx, req, enrichment, ans, retrieval.QueryEmbedding)
	e.record(ctx, req, text)

	return &Result{
		Answer:      ans,
		Explanation: retrieval.Explanation,
		FollowUp:    enrichment.FollowUp,
		Timing: Timing{
			RetrievalMS:  retrievalMS,
			GenerationMS: time.Since(generationStart).Milliseconds(),
			TotalMS:      time.Since(start).Milliseconds(),
		},
	}, nil
}

func (e *Engine) enrich(req Request) memory.Enrichment {
	if e.memory == nil || req.SkipConversation {
		return memory.Enrichment{SearchText: req.Query}
	}
	return e.memory.Enrich(req.SessionID, req.Query)
}

func (e *Engine) retrieve(ctx context.Context, req Request, enrichment memory.Enrichment, finalK int) (*search.RetrievalResult, error) {
	stageCtx, cancel := context.WithTimeout(ctx, e.config.StageTimeout)
	defer cancel()

	retrieval, err := e.retriever.Retrieve(stageCtx, req.Query, search.Options{
		InitialK:   e.config.InitialK,
		RerankK:    e.config.RerankK,
		FinalK:     finalK,
		Strategy:   req.Strategy,
		SearchText: enrichment.SearchText,
	})
	if err != nil {
		if stageCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, errors.New(errors.ErrCodeBackendTimeout, "retrieval stage timed out", err)
		}
		return nil, err
	}
	return retrieval, nil
}

// generate runs the model under a bounded concurrency slot. A full
// queue rejects immediately: callers get a clear overloaded signal
// instead of an unbounded wait.
func (e *Engine) generate(ctx context.Context, query, summary string, retrieval *search.RetrievalResult) (string, error) {
	select {
	case e.genSlots <- struct{}{}:
		defer func() { <-e.genSlots }()
	default:
		return "", errors.Overloaded("generation queue is full, retry later")
	}

	prompt := answer.BuildConversationalPrompt(query, summary, retrieval.Chunks, e.config.MaxCharsPerDoc)
	text, err := e.generator.Generate(ctx, prompt, e.genParams())
	if err != nil {
		return "", err
	}
	return text, nil
}

// conversationSummary returns the session summary for follow-up
// questions, empty otherwise.
func (e *Engine) conversationSummary(req Request, enrichment memory.Enrichment) string {
	if !enrichment.FollowUp || e.memory == nil {
		return ""
	}
	return e.memory.Summary(req.SessionID)
}

// storeAnswer writes the finished answer back to the cache. Cancelled
// requests store nothing; a cancelled generation may be incomplete.
// A nil embedding keeps the entry out of the semantic tier, which is
// how insufficient-evidence answers stay exact/normalized-only.
func (e *Engine) storeAnswer(ctx context.Context, req Request, enrichment memory.Enrichment, ans *answer.Answer, embedding []float32) {
	if e.answers == nil || enrichment.FollowUp || ctx.Err() != nil {
		return
	}

	entry := &cache.Entry{
		Query:      req.Query,
		Answer:     ans.Text,
		ChunkIDs:   ans.ChunkIDs(),
		Confidence: ans.Confidence,
		Strategy:   ans.Strategy,
		Embedding:  embedding,
		CreatedAt:  time.Now(),
	}
	// The request context may be near its deadline; the write-back
	// gets its own budget.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	e.answers.Store(storeCtx, req.Query, entry, e.fingerprint(e.finalK(req)))
}

func (e *Engine) record(ctx context.Context, req Request, answerText string) {
	if e.memory == nil || req.SessionID == "" {
		return
	}
	e.memory.Record(ctx, req.SessionID, req.Query, answerText)
}

// mapDeadline converts a global-deadline expiry into the dedicated
// error kind, leaving more specific errors untouched.
func (e *Engine) mapDeadline(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.KindOf(err) == errors.KindGenerationTimeout {
		return err
	}
	if ctx.Err() == context.DeadlineExceeded {
		return errors.DeadlineExceeded("request deadline exceeded")
	}
	return err
}

// ClearSession discards a session's conversation memory.
func (e *Engine) ClearSession(sessionID string) {
	if e.memory != nil {
		e.memory.Clear(sessionID)
	}
}

// Health reports backend reachability and cache counters.
type Health struct {
	Generator bool        `json:"generator"`
	Model     string      `json:"model"`
	Cache     cache.Stats `json:"cache"`
}

// CheckHealth probes the generation backend and snapshots the cache.
func (e *Engine) CheckHealth(ctx context.Context) Health {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return Health{
		Generator: e.generator.Available(probeCtx),
		Model:     e.generator.ModelName(),
		Cache:     e.CacheStats(),
	}
}

// CacheStats returns answer-cache counters, zero when no cache is
// attached.
func (e *Engine) CacheStats() cache.Stats {
	if e.answers == nil {
		return cache.Stats{}
	}
	return e.answers.Stats()
}

func resultFromCache(entry *cache.Entry, stage cache.Stage) *Result {
	citations := make([]answer.Citation, len(entry.ChunkIDs))
	for i, id := range entry.ChunkIDs {
		citations[i] = answer.Citation{Index: i + 1, ChunkID: id}
	}
	return &Result{
		Answer: &answer.Answer{
			Text:       entry.Answer,
			Citations:  citations,
			Confidence: entry.Confidence,
			Strategy:   entry.Strategy,
		},
		Cached:     true,
		CacheStage: stage,
	}
}
