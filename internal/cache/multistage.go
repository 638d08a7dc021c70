package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stage identifies which cache stage produced a hit.
type Stage string

const (
	StageExact      Stage = "exact"
	StageNormalized Stage = "normalized"
	StageSemantic   Stage = "semantic"
)

// Defaults for the multi-stage cache.
const (
	DefaultTTLExact              = time.Hour
	DefaultTTLSemantic           = 10 * time.Minute
	DefaultSemanticThreshold     = 0.98
	DefaultValidationThreshold   = 0.80
	DefaultMaxSemanticCandidates = 3

	// semanticIndexDepth bounds the recent-entries index scanned by
	// semantic lookups.
	semanticIndexDepth = 64
)

// Entry is one cached answer. Entries are immutable: a changed answer
// is a new entry under new keys, never an update in place.
type Entry struct {
	Query      string    `json:"query"`
	Answer     string    `json:"answer"`
	ChunkIDs   []string  `json:"chunk_ids"`
	Confidence float64   `json:"confidence"`
	Strategy   string    `json:"strategy"`
	Embedding  []float32 `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Config tunes the multi-stage cache.
type Config struct {
	TTLExact              time.Duration
	TTLSemantic           time.Duration
	SemanticThreshold     float64
	ValidationThreshold   float64
	MaxSemanticCandidates int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TTLExact:              DefaultTTLExact,
		TTLSemantic:           DefaultTTLSemantic,
		SemanticThreshold:     DefaultSemanticThreshold,
		ValidationThreshold:   DefaultValidationThreshold,
		MaxSemanticCandidates: DefaultMaxSemanticCandidates,
	}
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	ExactHits        int64 `json:"exact_hits"`
	NormalizedHits   int64 `json:"normalized_hits"`
	SemanticHits     int64 `json:"semantic_hits"`
	Misses           int64 `json:"misses"`
	SemanticRejected int64 `json:"semantic_rejected"`
}

// MultiStage is the three-stage answer cache backed by Redis.
type MultiStage struct {
	rdb    *redis.Client
	config Config
	logger *slog.Logger

	exactHits        atomic.Int64
	normalizedHits   atomic.Int64
	semanticHits     atomic.Int64
	misses           atomic.Int64
	semanticRejected atomic.Int64
}

// Option configures a MultiStage cache.
type Option func(*MultiStage)

// WithConfig overrides the default tuning.
func WithConfig(cfg Config) Option {
	return func(c *MultiStage) {
		c.config = cfg
	}
}

// WithLogger sets the cache's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *MultiStage) {
		c.logger = logger
	}
}

// NewMultiStage creates the answer cache on an existing Redis client.
func NewMultiStage(rdb *redis.Client, opts ...Option) *MultiStage {
	c := &MultiStage{
		rdb:    rdb,
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.config.TTLExact <= 0 {
		c.config.TTLExact = DefaultTTLExact
	}
	if c.config.TTLSemantic <= 0 {
		c.config.TTLSemantic = DefaultTTLSemantic
	}
	if c.config.SemanticThreshold <= 0 {
		c.config.SemanticThreshold = DefaultSemanticThreshold
	}
	if c.config.ValidationThreshold <= 0 {
		c.config.ValidationThreshold = DefaultValidationThreshold
	}
	if c.config.MaxSemanticCandidates <= 0 {
		c.config.MaxSemanticCandidates = DefaultMaxSemanticCandidates
	}
	return c
}

// Lookup runs the exact and normalized stages. A hit returns the
// entry and the stage that matched. Transport failures degrade to a
// miss. The miss counter is not advanced here: the semantic stage may
// still hit, and the caller reports the final miss via RecordMiss.
func (c *MultiStage) Lookup(ctx context.Context, raw string, f Fingerprint) (*Entry, Stage, bool) {
	if c.rdb == nil {
		return nil, "", false
	}

	if entry := c.get(ctx, ExactKey(raw, f)); entry != nil {
		c.exactHits.Add(1)
		return entry, StageExact, true
	}

	normKey, err := NormalizedKey(raw, f)
	if err == nil {
		if entry := c.get(ctx, normKey); entry != nil {
			c.normalizedHits.Add(1)
			return entry, StageNormalized, true
		}
	}

	return nil, "", false
}

// SemanticLookup scans the recent-entries index, newest first, for
// entries whose query embedding clears the similarity threshold. Up to
// MaxSemanticCandidates such entries are considered; each is validated
// against the evidence the current retrieval found, and the first one
// whose cited chunks overlap enough is returned. Validation failure
// rejects the candidate and moves on to the next.
func (c *MultiStage) SemanticLookup(ctx context.Context, embedding []float32, retrievedChunkIDs []string, f Fingerprint) (*Entry, bool) {
	if c.rdb == nil || len(embedding) == 0 {
		return nil, false
	}

	keys, err := c.rdb.LRange(ctx, semanticIndexKey, 0, semanticIndexDepth-1).Result()
	if err != nil {
		c.logger.Debug("semantic index read failed", "error", err)
		return nil, false
	}

	candidates := 0
	for _, key := range keys {
		if candidates >= c.config.MaxSemanticCandidates {
			break
		}
		entry := c.get(ctx, key)
		if entry == nil || len(entry.Embedding) == 0 {
			continue
		}
		if CosineSimilarity(embedding, entry.Embedding) < c.config.SemanticThreshold {
			continue
		}
		candidates++
		if JaccardOverlap(entry.ChunkIDs, retrievedChunkIDs) < c.config.ValidationThreshold {
			c.semanticRejected.Add(1)
			c.logger.Debug("semantic candidate rejected by evidence overlap",
				"cached_query", entry.Query)
			continue
		}
		c.semanticHits.Add(1)
		return entry, true
	}

	return nil, false
}

// Store writes the entry under its exact and normalized keys, and,
// when it carries an embedding, registers it for semantic lookup.
// Failures are logged and swallowed.
func (c *MultiStage) Store(ctx context.Context, raw string, entry *Entry, f Fingerprint) {
	if c.rdb == nil || entry == nil {
		return
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("failed to encode cache entry", "error", err)
		return
	}

	exactKey := ExactKey(raw, f)
	c.set(ctx, exactKey, payload, c.config.TTLExact)

	if normKey, err := NormalizedKey(raw, f); err == nil && normKey != "" {
		c.set(ctx, normKey, payload, c.config.TTLExact)
	}

	if len(entry.Embedding) == 0 {
		return
	}
	semKey := SemanticKey(exactKey)
	c.set(ctx, semKey, payload, c.config.TTLSemantic)

	pipe := c.rdb.Pipeline()
	pipe.LPush(ctx, semanticIndexKey, semKey)
	pipe.LTrim(ctx, semanticIndexKey, 0, semanticIndexDepth-1)
	pipe.Expire(ctx, semanticIndexKey, c.config.TTLSemantic)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Debug("semantic index update failed", "error", err)
	}
}

// RecordMiss advances the miss counter after all stages failed.
func (c *MultiStage) RecordMiss() {
	c.misses.Add(1)
}

// Stats returns a snapshot of the cache counters.
func (c *MultiStage) Stats() Stats {
	return Stats{
		ExactHits:        c.exactHits.Load(),
		NormalizedHits:   c.normalizedHits.Load(),
		SemanticHits:     c.semanticHits.Load(),
		Misses:           c.misses.Load(),
		SemanticRejected: c.semanticRejected.Load(),
	}
}

func (c *MultiStage) get(ctx context.Context, key string) *Entry {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("cache read failed", "key", key, "error", err)
		}
		return nil
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("corrupt cache entry, treating as miss", "key", key, "error", err)
		return nil
	}
	return &entry
}

func (c *MultiStage) set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	// NX keeps entries immutable: the first write for a key wins until
	// its TTL expires.
	if err := c.rdb.SetNX(ctx, key, payload, ttl).Err(); err != nil {
		c.logger.Debug("cache write failed", "key", key, "error", err)
	}
}
