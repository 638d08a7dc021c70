package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	qerrors "github.com/corpusqa/corpusqa/internal/errors"
)

// DefaultOpenAIModel is the default OpenAI generation model.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures the OpenAI generator.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // optional override for OpenAI-compatible endpoints
	Model   string
	Timeout time.Duration
}

// OpenAIGenerator generates text via the OpenAI chat completions API.
type OpenAIGenerator struct {
	client *openai.Client
	config OpenAIConfig
}

var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator creates a new OpenAI-backed generator.
func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
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

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		config: cfg,
	}
}

func (g *OpenAIGenerator) request(prompt string, params Params, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model: g.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: stream,
	}
	if params.Temperature > 0 {
		req.Temperature = params.Temperature
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = params.MaxTokens
	}
	return req
}

// Generate returns the complete response.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(reqCtx, g.request(prompt, params, false))
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return "", qerrors.GenerationTimeout("generation request timed out", err)
		}
		return "", qerrors.New(qerrors.ErrCodeGenerationFailed, "openai generation failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", qerrors.New(qerrors.ErrCodeGenerationFailed, "empty completion response", nil)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Stream starts a streaming generation.
func (g *OpenAIGenerator) Stream(ctx context.Context, prompt string, params Params) (<-chan Token, error) {
	reqCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)

	stream, err := g.client.CreateChatCompletionStream(reqCtx, g.request(prompt, params, true))
	if err != nil {
		cancel()
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, qerrors.GenerationTimeout("generation request timed out", err)
		}
		return nil, qerrors.New(qerrors.ErrCodeGenerationFailed, "openai stream failed", err)
	}

	out := make(chan Token)
	go func() {
		defer close(out)
		defer cancel()
		defer stream.Close()

		index := 0
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			text := resp.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			select {
			case out <- Token{Text: text, Index: index}:
				index++
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// ModelName returns the model identifier.
func (g *OpenAIGenerator) ModelName() string {
	return g.config.Model
}

// Available reports whether the API key is configured.
func (g *OpenAIGenerator) Available(ctx context.Context) bool {
	return g.config.APIKey != ""
}

// Close releases resources.
func (g *OpenAIGenerator) Close() error {
	return nil
}
