// Package config loads and validates corpusqa configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/corpusqa/corpusqa/internal/logging"
)

// Config represents the complete corpusqa configuration.
type Config struct {
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Cache     CacheConfig     `yaml:"cache"`
	Memory    MemoryConfig    `yaml:"memory"`
	Backends  BackendsConfig  `yaml:"backends"`
	Redis     RedisConfig     `yaml:"redis"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   logging.Config  `yaml:"logging"`
}

// RetrievalConfig configures the adaptive retrieval pipeline.
type RetrievalConfig struct {
	// InitialK is the candidate pool size per retrieval arm.
	InitialK int `yaml:"initial_k"`
	// FinalK is the number of passages handed to generation.
	FinalK int `yaml:"final_k"`
	// RerankK is the number of fused candidates sent to the reranker.
	RerankK int `yaml:"rerank_k"`
	// RRFK is the reciprocal rank fusion smoothing constant.
	// Default 60, the standard used by Azure AI Search and OpenSearch.
	RRFK int `yaml:"rrf_k"`
	// MaxCharsPerDoc truncates each passage before reranking and prompting.
	MaxCharsPerDoc int `yaml:"max_chars_per_doc"`
	// MaxQueryChars is the maximum accepted query length.
	MaxQueryChars int `yaml:"max_query_chars"`
	// RerankerURL is the endpoint of the cross-encoder service.
	// Empty selects the lexical fallback scorer.
	RerankerURL string `yaml:"reranker_url"`
	// StageTimeout bounds each retrieval stage.
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

// CacheConfig configures the multi-stage answer cache.
type CacheConfig struct {
	// Enabled turns the answer cache on.
	Enabled bool `yaml:"enabled"`
	// SemanticThreshold is the minimum cosine similarity for a
	// semantic candidate.
	SemanticThreshold float64 `yaml:"semantic_threshold"`
	// ValidationThreshold is the minimum Jaccard overlap of retrieved
	// chunk-ID sets for a semantic hit to be accepted.
	ValidationThreshold float64 `yaml:"validation_threshold"`
	// MaxSemanticCandidates bounds the semantic scan.
	MaxSemanticCandidates int `yaml:"max_semantic_candidates"`
	// TTLExact applies to exact and normalized entries.
	TTLExact time.Duration `yaml:"ttl_exact"`
	// TTLSemantic applies to semantic entries.
	TTLSemantic time.Duration `yaml:"ttl_semantic"`
	// EmbeddingTTL applies to persisted query embeddings.
	EmbeddingTTL time.Duration `yaml:"embedding_ttl"`
}

// MemoryConfig configures per-session conversation memory.
type MemoryConfig struct {
	// Window is the number of turns retained per session.
	Window int `yaml:"window"`
	// SummarizeEvery triggers summarization after this many new turns.
	SummarizeEvery int `yaml:"summarize_every"`
}

// BackendsConfig selects embedding and generation providers.
type BackendsConfig struct {
	// Provider selects the backend family: "ollama" or "openai".
	Provider string `yaml:"provider"`
	// OllamaHost is the Ollama API endpoint (default http://localhost:11434).
	OllamaHost string `yaml:"ollama_host"`
	// OpenAIKey authenticates against the OpenAI-compatible API.
	OpenAIKey string `yaml:"openai_key"`
	// OpenAIBaseURL overrides the OpenAI API base URL.
	OpenAIBaseURL string `yaml:"openai_base_url"`
	// EmbedModel is the embedding model name.
	EmbedModel string `yaml:"embed_model"`
	// GenModel is the generation model name.
	GenModel string `yaml:"gen_model"`
	// GenTimeout bounds a single generation call.
	GenTimeout time.Duration `yaml:"gen_timeout"`
	// EmbedCacheSize is the in-process embedding LRU capacity.
	EmbedCacheSize int `yaml:"embed_cache_size"`
}

// RedisConfig configures the Redis connection backing the caches.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServerConfig configures the HTTP facade.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// CORSOrigins is the allowed origin list. "*" is rejected when
	// Production is true.
	CORSOrigins []string `yaml:"cors_origins"`
	Production  bool     `yaml:"production"`
	// RateLimit is requests per second per client IP.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-client burst allowance.
	RateBurst int `yaml:"rate_burst"`
	// QueueDepth bounds concurrent generations; requests beyond it
	// are rejected as overloaded.
	QueueDepth int `yaml:"queue_depth"`
	// GlobalDeadline bounds a whole request.
	GlobalDeadline time.Duration `yaml:"global_deadline"`
}

// StorageConfig locates the persistent corpus.
type StorageConfig struct {
	// DataDir holds the chunk store, vector index, and sparse index.
	DataDir string `yaml:"data_dir"`
}

// NewConfig creates a Config with the documented defaults.
func NewConfig() *Config {
	return &Config{
		Retrieval: RetrievalConfig{
			InitialK:       100,
			FinalK:         8,
			RerankK:        30,
			RRFK:           60,
			MaxCharsPerDoc: 3200,
			MaxQueryChars:  10000,
			StageTimeout:   10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:               true,
			SemanticThreshold:     0.98,
			ValidationThreshold:   0.80,
			MaxSemanticCandidates: 3,
			TTLExact:              time.Hour,
			TTLSemantic:           10 * time.Minute,
			EmbeddingTTL:          7 * 24 * time.Hour,
		},
		Memory: MemoryConfig{
			Window:         10,
			SummarizeEvery: 5,
		},
		Backends: BackendsConfig{
			Provider:       "ollama",
			OllamaHost:     "http://localhost:11434",
			EmbedModel:     "nomic-embed-text",
			GenModel:       "llama3.1:8b",
			GenTimeout:     60 * time.Second,
			EmbedCacheSize: 10000,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Server: ServerConfig{
			Addr:           ":8080",
			CORSOrigins:    []string{"*"},
			RateLimit:      10,
			RateBurst:      20,
			QueueDepth:     32,
			GlobalDeadline: 2 * time.Minute,
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads configuration from path, applies env overrides, and
// validates the result. An empty path returns validated defaults.
// Unknown YAML fields are rejected.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies CORPUSQA_* environment variable overrides.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CORPUSQA_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("CORPUSQA_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CORPUSQA_OLLAMA_HOST"); v != "" {
		c.Backends.OllamaHost = v
	}
	if v := os.Getenv("CORPUSQA_OPENAI_KEY"); v != "" {
		c.Backends.OpenAIKey = v
	}
	if v := os.Getenv("CORPUSQA_PROVIDER"); v != "" {
		c.Backends.Provider = v
	}
	if v := os.Getenv("CORPUSQA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CORPUSQA_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	r := c.Retrieval
	if r.InitialK <= 0 {
		return fmt.Errorf("retrieval.initial_k must be positive, got %d", r.InitialK)
	}
	if r.FinalK <= 0 {
		return fmt.Errorf("retrieval.final_k must be positive, got %d", r.FinalK)
	}
	if r.RerankK < r.FinalK {
		return fmt.Errorf("retrieval.rerank_k (%d) must be >= final_k (%d)", r.RerankK, r.FinalK)
	}
	if r.InitialK < r.RerankK {
		return fmt.Errorf("retrieval.initial_k (%d) must be >= rerank_k (%d)", r.InitialK, r.RerankK)
	}
	if r.RRFK <= 0 {
		return fmt.Errorf("retrieval.rrf_k must be positive, got %d", r.RRFK)
	}
	if r.MaxCharsPerDoc <= 0 {
		return fmt.Errorf("retrieval.max_chars_per_doc must be positive, got %d", r.MaxCharsPerDoc)
	}
	if r.MaxQueryChars <= 0 {
		return fmt.Errorf("retrieval.max_query_chars must be positive, got %d", r.MaxQueryChars)
	}

	if c.Cache.SemanticThreshold < 0 || c.Cache.SemanticThreshold > 1 {
		return fmt.Errorf("cache.semantic_threshold must be in [0,1], got %f", c.Cache.SemanticThreshold)
	}
	if c.Cache.ValidationThreshold < 0 || c.Cache.ValidationThreshold > 1 {
		return fmt.Errorf("cache.validation_threshold must be in [0,1], got %f", c.Cache.ValidationThreshold)
	}
	if c.Cache.MaxSemanticCandidates < 0 {
		return fmt.Errorf("cache.max_semantic_candidates must be non-negative, got %d", c.Cache.MaxSemanticCandidates)
	}
	if c.Cache.Enabled {
		if c.Cache.TTLExact <= 0 {
			return fmt.Errorf("cache.ttl_exact must be positive, got %s", c.Cache.TTLExact)
		}
		if c.Cache.TTLSemantic <= 0 {
			return fmt.Errorf("cache.ttl_semantic must be positive, got %s", c.Cache.TTLSemantic)
		}
	}

	if c.Memory.Window <= 0 {
		return fmt.Errorf("memory.window must be positive, got %d", c.Memory.Window)
	}
	if c.Memory.SummarizeEvery <= 0 {
		return fmt.Errorf("memory.summarize_every must be positive, got %d", c.Memory.SummarizeEvery)
	}

	switch strings.ToLower(c.Backends.Provider) {
	case "ollama", "openai":
	default:
		return fmt.Errorf("backends.provider must be 'ollama' or 'openai', got %s", c.Backends.Provider)
	}
	if strings.ToLower(c.Backends.Provider) == "openai" && c.Backends.OpenAIKey == "" {
		return fmt.Errorf("backends.openai_key is required when provider is openai")
	}

	if c.Server.QueueDepth <= 0 {
		return fmt.Errorf("server.queue_depth must be positive, got %d", c.Server.QueueDepth)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("server.rate_limit must be positive, got %f", c.Server.RateLimit)
	}
	if c.Server.Production {
		for _, o := range c.Server.CORSOrigins {
			if o == "*" {
				return fmt.Errorf("server.cors_origins may not contain '*' in production mode")
			}
		}
	}

	return nil
}
