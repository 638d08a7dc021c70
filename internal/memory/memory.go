// Package memory tracks per-session conversation history so follow-up
// questions can be answered against the context they refer to.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/corpusqa/corpusqa/internal/llm"
	"github.com/corpusqa/corpusqa/internal/search"
)

// Defaults for the conversation window.
const (
	// DefaultWindow is how many turns are kept verbatim.
	DefaultWindow = 10
	// DefaultSummarizeEvery is how many turns accumulate before the
	// oldest half is folded into the running summary.
	DefaultSummarizeEvery = 5
	// SummaryWordLimit bounds the running summary.
	SummaryWordLimit = 200
)

// Turn is one question/answer exchange.
type Turn struct {
	Question string
	Answer   string
	At       time.Time
}

// Config tunes the conversation window.
type Config struct {
	Window         int
	SummarizeEvery int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Window:         DefaultWindow,
		SummarizeEvery: DefaultSummarizeEvery,
	}
}

// session is one conversation's state. Access is serialized by the
// Manager's per-session lock.
type session struct {
	mu      sync.Mutex
	summary string
	turns   []Turn
	// recorded counts turns ever added, driving summarization cadence.
	recorded int
}

// Manager holds conversation state for all active sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session

	generator  llm.Generator
	config     Config
	logger     *slog.Logger
	vocabulary map[string]bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithConfig overrides the window defaults.
func WithConfig(cfg Config) ManagerOption {
	return func(m *Manager) {
		m.config = cfg
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithVocabulary replaces the domain vocabulary used to tell
// standalone questions from follow-ups.
func WithVocabulary(terms map[string]bool) ManagerOption {
	return func(m *Manager) {
		m.vocabulary = terms
	}
}

// NewManager creates a conversation memory manager. The generator is
// used only for summarization and may be nil, in which case old turns
// are dropped without a summary.
func NewManager(generator llm.Generator, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:   map[string]*session{},
		generator:  generator,
		config:     DefaultConfig(),
		logger:     slog.Default(),
		vocabulary: search.DomainVocabulary(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.config.Window <= 0 {
		m.config.Window = DefaultWindow
	}
	if m.config.SummarizeEvery <= 0 {
		m.config.SummarizeEvery = DefaultSummarizeEvery
	}
	return m
}

func (m *Manager) session(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		s = &session{}
		m.sessions[id] = s
	}
	return s
}

// Record appends a completed exchange to the session. When enough
// turns accumulate, the oldest half is folded into the running
// summary; a summarization failure keeps the turns and is not fatal.
func (m *Manager) Record(ctx context.Context, sessionID, question, answer string) {
	if sessionID == "" {
		return
	}
	s := m.session(sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = append(s.turns, Turn{Question: question, Answer: answer, At: time.Now()})
	s.recorded++

	if s.recorded%m.config.SummarizeEvery == 0 && len(s.turns) > m.config.Window/2 {
		m.summarizeOldestLocked(ctx, s)
	}

	// Hard cap regardless of summarization outcome.
	if over := len(s.turns) - m.config.Window; over > 0 {
		s.turns = s.turns[over:]
	}
}

// summarizeOldestLocked folds the oldest half of the window into the
// running summary. Caller holds s.mu.
func (m *Manager) summarizeOldestLocked(ctx context.Context, s *session) {
	half := len(s.turns) / 2
	if half == 0 {
		return
	}
	oldest := s.turns[:half]

	if m.generator == nil {
		s.turns = s.turns[half:]
		return
	}

	var sb strings.Builder
	if s.summary != "" {
		sb.WriteString("Earlier summary:\n")
		sb.WriteString(s.summary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Conversation:\n")
	for _, t := range oldest {
		fmt.Fprintf(&sb, "Q: %s\nA: %s\n", t.Question, t.Answer)
	}
	prompt := fmt.Sprintf(
		"Summarize the following conversation in at most %d words, keeping names, dates, and topics:\n\n%s",
		SummaryWordLimit, sb.String())

	summary, err := m.generator.Generate(ctx, prompt, llm.Params{MaxTokens: 400})
	if err != nil {
		m.logger.Warn("conversation summarization failed, keeping turns", "error", err)
		return
	}

	s.summary = strings.TrimSpace(summary)
	s.turns = s.turns[half:]
}

// Clear discards a session's history.
func (m *Manager) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Turns returns a copy of the session's verbatim window.
func (m *Manager) Turns(sessionID string) []Turn {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Summary returns the session's running summary, if any.
func (m *Manager) Summary(sessionID string) string {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}
