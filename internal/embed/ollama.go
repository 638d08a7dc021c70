package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/corpusqa/corpusqa/internal/errors"
)

const (
	// DefaultOllamaHost is the standard local Ollama endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	ollamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimensions int // 0 = auto-detect on first call
	Timeout    time.Duration
}

// OllamaEmbedder generates embeddings using Ollama's HTTP API.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	retry     errors.RetryConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates a new Ollama embedder.
// Dimensions are detected lazily from the first embedding when not
// configured.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		MaxConnsPerHost:     ollamaPoolSize * 2,
		IdleConnTimeout:     30 * time.Second,
	}

	// No client-level timeout: per-request context timeouts govern.
	return &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		retry:     errors.DefaultRetryConfig(),
		dims:      cfg.Dimensions,
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one call.
// Transient backend failures are retried with backoff.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	embeddings, err := errors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
		return e.embedOnce(ctx, body, len(texts))
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.dims == 0 && len(embeddings) > 0 {
		e.dims = len(embeddings[0])
	}
	e.mu.Unlock()

	return embeddings, nil
}

// embedOnce performs a single embedding request attempt with its own
// timeout.
func (e *OllamaEmbedder) embedOnce(ctx context.Context, body []byte, want int) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.ErrCodeBackendTimeout, "embedding request timed out", err)
		}
		return nil, errors.New(errors.ErrCodeBackendUnavailable, "failed to reach Ollama", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.New(errors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Embeddings) != want {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("expected %d embeddings, got %d", want, len(result.Embeddings)), nil)
	}

	return result.Embeddings, nil
}

// Dimensions returns the embedding dimension, or the default before
// first use when auto-detecting.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.dims == 0 {
		return DefaultDimensions
	}
	return e.dims
}

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Available checks if Ollama is reachable.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
