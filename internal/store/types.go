// Package store provides corpus persistence: the dense vector index,
// the sparse BM25 index, and the chunk store backing both.
package store

import (
	"context"
	"fmt"
	"time"
)

// Chunk is a retrievable unit of corpus text.
type Chunk struct {
	// ID is a stable content-addressed identifier.
	ID string
	// SourcePath locates the originating document.
	SourcePath string
	// Page is the 1-indexed page within the source, 0 when unknown.
	Page int
	// Text is the chunk content.
	Text string
	// Metadata carries source-specific key-value pairs.
	Metadata map[string]string

	CreatedAt time.Time
}

// VectorResult is a single dense search result.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// SparseResult is a single BM25 search result.
type SparseResult struct {
	ID           string
	Score        float64
	MatchedTerms []string
}

// VectorIndex provides dense nearest-neighbor search.
type VectorIndex interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds k nearest neighbors to the query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of live vectors.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// SparseIndex provides keyword search scored by BM25.
type SparseIndex interface {
	// Index adds chunks to the index.
	Index(ctx context.Context, chunks []*Chunk) error

	// Search returns chunks matching the query, scored by BM25.
	Search(ctx context.Context, query string, limit int) ([]*SparseResult, error)

	// Delete removes chunks from the index.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of indexed chunks.
	Count() (uint64, error)

	Close() error
}

// ChunkStore persists chunk content and metadata.
type ChunkStore interface {
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	// GetChunks fetches a batch, preserving the order of ids. Missing
	// IDs are skipped.
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// VectorIndexConfig configures the dense index.
type VectorIndexConfig struct {
	// Dimensions is the embedding dimension.
	Dimensions int

	// M is HNSW max connections per layer (default: 16)
	M int

	// EfSearch is HNSW query-time search width (default: 64)
	EfSearch int
}

// DefaultVectorIndexConfig returns sensible defaults for the dense index.
func DefaultVectorIndexConfig(dimensions int) VectorIndexConfig {
	return VectorIndexConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
