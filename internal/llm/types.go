// Package llm provides the generation seam: streaming Ollama and
// OpenAI clients behind a common Generator interface.
package llm

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single generation call.
const DefaultTimeout = 60 * time.Second

// Token is one unit of streamed output.
type Token struct {
	// Text is the token content.
	Text string
	// Index is the 0-based position in the stream.
	Index int
}

// Params tunes a generation call.
type Params struct {
	// Temperature controls sampling randomness. 0 selects the backend
	// default.
	Temperature float32
	// MaxTokens caps the response length. 0 means no explicit cap.
	MaxTokens int
}

// Generator produces text from a prompt.
type Generator interface {
	// Generate returns the complete response.
	Generate(ctx context.Context, prompt string, params Params) (string, error)

	// Stream returns a channel of ordered tokens. The channel is
	// closed when generation completes, fails, or the context is
	// cancelled. Cancellation is honored between tokens.
	Stream(ctx context.Context, prompt string, params Params) (<-chan Token, error)

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the generator is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}
