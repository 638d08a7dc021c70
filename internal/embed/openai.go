package embed

import (
	"context"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/corpusqa/corpusqa/internal/errors"
)

// DefaultOpenAIModel is the default OpenAI embedding model.
const DefaultOpenAIModel = "text-embedding-3-small"

// openAIDimensions maps known models to their dimensions.
var openAIDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig configures the OpenAI embedder.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // optional override for OpenAI-compatible endpoints
	Model   string
	Timeout time.Duration
}

// OpenAIEmbedder generates embeddings via the OpenAI API.
type OpenAIEmbedder struct {
	client *openai.Client
	config OpenAIConfig

	mu   sync.RWMutex
	dims int
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates a new OpenAI-backed embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		config: cfg,
		dims:   openAIDimensions[cfg.Model],
	}
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.config.Model),
	})
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.ErrCodeBackendTimeout, "embedding request timed out", err)
		}
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "openai embedding failed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "embedding count mismatch", nil)
	}

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		vecs[d.Index] = d.Embedding
	}

	e.mu.Lock()
	if e.dims == 0 && len(vecs) > 0 {
		e.dims = len(vecs[0])
	}
	e.mu.Unlock()

	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.dims == 0 {
		return DefaultDimensions
	}
	return e.dims
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// Available reports whether the API key is configured.
// OpenAI has no cheap health endpoint; a configured key is treated as
// available and failures surface on first use.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	return e.config.APIKey != ""
}

// Close releases resources.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
