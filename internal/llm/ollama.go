package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/corpusqa/corpusqa/internal/errors"
)

// DefaultOllamaHost is the standard local Ollama endpoint.
const DefaultOllamaHost = "http://localhost:11434"

// DefaultOllamaModel is the default generation model.
const DefaultOllamaModel = "llama3.1:8b"

// OllamaConfig configures the Ollama generator.
type OllamaConfig struct {
	Host    string
	Model   string
	Timeout time.Duration
}

// OllamaGenerator generates text via Ollama's streaming NDJSON API.
type OllamaGenerator struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig

	mu     sync.Mutex
	closed bool
}

var _ Generator = (*OllamaGenerator)(nil)

// NewOllamaGenerator creates a new Ollama generator.
func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
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
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}
	return &OllamaGenerator{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
	}
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate returns the complete response by draining the stream.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	tokens, err := g.Stream(ctx, prompt, params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for tok := range tokens {
		sb.WriteString(tok.Text)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Stream starts a streaming generation.
func (g *OllamaGenerator) Stream(ctx context.Context, prompt string, params Params) (<-chan Token, error) {
	reqCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)

	options := map[string]any{}
	if params.Temperature > 0 {
		options["temperature"] = params.Temperature
	}
	if params.MaxTokens > 0 {
		options["num_predict"] = params.MaxTokens
	}

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   g.config.Model,
		Prompt:  prompt,
		Stream:  true,
		Options: options,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		cancel()
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, errors.GenerationTimeout("generation request timed out", err)
		}
		return nil, errors.New(errors.ErrCodeBackendUnavailable, "failed to reach Ollama", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, errors.New(errors.ErrCodeGenerationFailed,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	out := make(chan Token)
	go func() {
		defer close(out)
		defer cancel()
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		index := 0
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var chunk ollamaGenerateResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				return
			}
			if chunk.Response != "" {
				select {
				case out <- Token{Text: chunk.Response, Index: index}:
					index++
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				return
			}
		}
	}()

	return out, nil
}

// ModelName returns the model identifier.
func (g *OllamaGenerator) ModelName() string {
	return g.config.Model
}

// Available checks if Ollama is reachable.
func (g *OllamaGenerator) Available(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, g.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (g *OllamaGenerator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	g.transport.CloseIdleConnections()
	return nil
}
