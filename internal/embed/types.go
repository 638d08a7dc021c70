// Package embed provides the embedding seam: Ollama and OpenAI
// backed implementations plus a two-level cache.
package embed

import (
	"context"
	"time"
)

const (
	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout is the default timeout for embedding requests.
	DefaultTimeout = 60 * time.Second

	// DefaultDimensions is the fallback embedding dimension when the
	// backend does not report one.
	DefaultDimensions = 768
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}
