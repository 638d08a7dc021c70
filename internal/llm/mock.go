package llm

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
)

// MockGenerator is a scripted Generator for tests.
// It replays Response token by token and counts calls.
type MockGenerator struct {
	// Response is the full text returned by Generate and replayed by
	// Stream, split on spaces.
	Response string
	// Err, when set, is returned by Generate and Stream.
	Err error
	// TokenDelay pauses between streamed tokens.
	TokenDelay time.Duration
	// GenerateFn, when set, overrides Response per call.
	GenerateFn func(prompt string) (string, error)

	calls atomic.Int64
}

var _ Generator = (*MockGenerator)(nil)

// Calls returns the number of Generate/Stream invocations.
func (m *MockGenerator) Calls() int64 {
	return m.calls.Load()
}

func (m *MockGenerator) response(prompt string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if m.GenerateFn != nil {
		return m.GenerateFn(prompt)
	}
	return m.Response, nil
}

// Generate returns the scripted response.
func (m *MockGenerator) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.response(prompt)
}

// Stream replays the scripted response word by word.
func (m *MockGenerator) Stream(ctx context.Context, prompt string, params Params) (<-chan Token, error) {
	m.calls.Add(1)
	text, err := m.response(prompt)
	if err != nil {
		return nil, err
	}

	words := strings.SplitAfter(text, " ")
	out := make(chan Token)
	go func() {
		defer close(out)
		for i, w := range words {
			if m.TokenDelay > 0 {
				select {
				case <-time.After(m.TokenDelay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- Token{Text: w, Index: i}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ModelName returns the mock model identifier.
func (m *MockGenerator) ModelName() string { return "mock" }

// Available always reports true.
func (m *MockGenerator) Available(ctx context.Context) bool { return true }

// Close releases resources.
func (m *MockGenerator) Close() error { return nil }
