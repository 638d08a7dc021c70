package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corpusqa/corpusqa/internal/cache"
	"github.com/corpusqa/corpusqa/internal/config"
	"github.com/corpusqa/corpusqa/internal/embed"
	"github.com/corpusqa/corpusqa/internal/engine"
	"github.com/corpusqa/corpusqa/internal/llm"
	"github.com/corpusqa/corpusqa/internal/memory"
	"github.com/corpusqa/corpusqa/internal/search"
	"github.com/corpusqa/corpusqa/internal/store"
)

// app holds the wired components and their shutdown hooks.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	engine *engine.Engine

	vector store.VectorIndex
	sparse store.SparseIndex
	chunks store.ChunkStore
	rdb    *redis.Client

	closers []func() error
}

// buildApp wires stores, backends, cache, memory, and the engine from
// configuration.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	embedder, generator, err := a.buildBackends(cfg)
	if err != nil {
		return nil, err
	}

	// The vector index needs the embedding dimension up front; probe
	// once, which also surfaces an unreachable backend early.
	probe, err := embedder.Embed(ctx, "dimension probe")
	if err != nil {
		return nil, fmt.Errorf("embedding backend unavailable: %w", err)
	}

	if err := a.buildStores(cfg, len(probe)); err != nil {
		return nil, err
	}

	retriever, err := a.buildRetriever(cfg, embedder)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithConfig(engine.Config{
			MaxQueryChars:  cfg.Retrieval.MaxQueryChars,
			InitialK:       cfg.Retrieval.InitialK,
			RerankK:        cfg.Retrieval.RerankK,
			FinalK:         cfg.Retrieval.FinalK,
			MaxCharsPerDoc: cfg.Retrieval.MaxCharsPerDoc,
			QueueDepth:     cfg.Server.QueueDepth,
			StageTimeout:   cfg.Retrieval.StageTimeout,
			GlobalDeadline: cfg.Server.GlobalDeadline,
		}),
		engine.WithMemory(memory.NewManager(generator, memory.WithConfig(memory.Config{
			Window:         cfg.Memory.Window,
			SummarizeEvery: cfg.Memory.SummarizeEvery,
		}), memory.WithLogger(logger))),
	}

	if cfg.Cache.Enabled {
		rdb := a.redisClient(cfg)
		opts = append(opts, engine.WithAnswerCache(cache.NewMultiStage(rdb,
			cache.WithLogger(logger),
			cache.WithConfig(cache.Config{
				TTLExact:              cfg.Cache.TTLExact,
				TTLSemantic:           cfg.Cache.TTLSemantic,
				SemanticThreshold:     cfg.Cache.SemanticThreshold,
				ValidationThreshold:   cfg.Cache.ValidationThreshold,
				MaxSemanticCandidates: cfg.Cache.MaxSemanticCandidates,
			}))))
	}

	eng, err := engine.New(retriever, generator, opts...)
	if err != nil {
		return nil, err
	}
	a.engine = eng
	return a, nil
}

func (a *app) buildBackends(cfg *config.Config) (embed.Embedder, llm.Generator, error) {
	var (
		embedder  embed.Embedder
		generator llm.Generator
	)

	switch strings.ToLower(cfg.Backends.Provider) {
	case "openai":
		embedder = embed.NewOpenAIEmbedder(embed.OpenAIConfig{
			APIKey:  cfg.Backends.OpenAIKey,
			BaseURL: cfg.Backends.OpenAIBaseURL,
			Model:   cfg.Backends.EmbedModel,
		})
		generator = llm.NewOpenAIGenerator(llm.OpenAIConfig{
			APIKey:  cfg.Backends.OpenAIKey,
			BaseURL: cfg.Backends.OpenAIBaseURL,
			Model:   cfg.Backends.GenModel,
			Timeout: cfg.Backends.GenTimeout,
		})
	default:
		embedder = embed.NewOllamaEmbedder(embed.OllamaConfig{
			Host:  cfg.Backends.OllamaHost,
			Model: cfg.Backends.EmbedModel,
		})
		generator = llm.NewOllamaGenerator(llm.OllamaConfig{
			Host:    cfg.Backends.OllamaHost,
			Model:   cfg.Backends.GenModel,
			Timeout: cfg.Backends.GenTimeout,
		})
	}

	// Embedding cache: in-process LRU plus a Redis second level when
	// the answer cache's Redis is configured.
	var rdb *redis.Client
	if cfg.Cache.Enabled {
		rdb = a.redisClient(cfg)
	}
	embedder = embed.NewCachedEmbedder(embedder, cfg.Backends.EmbedCacheSize, rdb, cfg.Cache.EmbeddingTTL)

	a.closers = append(a.closers, embedder.Close, generator.Close)
	return embedder, generator, nil
}

func (a *app) buildStores(cfg *config.Config, dims int) error {
	dataDir := cfg.Storage.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	vector, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(dims))
	if err != nil {
		return err
	}
	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if _, err := os.Stat(vectorPath); err == nil {
		if err := vector.Load(vectorPath); err != nil {
			return fmt.Errorf("failed to load vector index: %w", err)
		}
	}
	a.vector = vector
	a.closers = append(a.closers, vector.Close)

	sparse, err := store.NewBleveIndex(filepath.Join(dataDir, "bleve"))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, sparse.Close)

	chunks, err := store.NewSQLiteChunkStore(filepath.Join(dataDir, "chunks.db"))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, chunks.Close)

	a.sparse = sparse
	a.chunks = chunks
	return nil
}

func (a *app) buildRetriever(cfg *config.Config, embedder embed.Embedder) (search.Retriever, error) {
	var reranker search.Reranker = search.NewLexicalReranker()
	if cfg.Retrieval.RerankerURL != "" {
		reranker = search.NewHTTPReranker(cfg.Retrieval.RerankerURL, 0)
	}
	a.closers = append(a.closers, reranker.Close)

	return search.NewAdaptiveRetriever(embedder, a.vector, a.sparse, a.chunks,
		search.WithLogger(a.logger),
		search.WithReranker(reranker),
		search.WithRetrieverConfig(search.RetrieverConfig{
			InitialK:       cfg.Retrieval.InitialK,
			RerankK:        cfg.Retrieval.RerankK,
			FinalK:         cfg.Retrieval.FinalK,
			RRFK:           cfg.Retrieval.RRFK,
			MaxCharsPerDoc: cfg.Retrieval.MaxCharsPerDoc,
		}))
}

func (a *app) redisClient(cfg *config.Config) *redis.Client {
	if a.rdb != nil {
		return a.rdb
	}
	a.rdb = redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	a.closers = append(a.closers, a.rdb.Close)
	return a.rdb
}

// close tears components down in reverse construction order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown close failed", "error", err)
		}
	}
}
