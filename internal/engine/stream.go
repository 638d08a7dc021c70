package engine

import (
	"context"
	"strings"

	"github.com/corpusqa/corpusqa/internal/answer"
	"github.com/corpusqa/corpusqa/internal/cache"
	"github.com/corpusqa/corpusqa/internal/errors"
	"github.com/corpusqa/corpusqa/internal/search"
)

// Event types emitted by QueryStream, in order: one meta, zero or
// more tokens, one done.
const (
	EventMeta  = "meta"
	EventToken = "token"
	EventDone  = "done"
)

// Event is one server-sent stream frame.
type Event struct {
	Type string `json:"type"`

	// Meta fields, set on EventMeta.
	Strategy  string            `json:"strategy,omitempty"`
	Citations []answer.Citation `json:"citations,omitempty"`
	Cached    bool              `json:"cached,omitempty"`
	Stage     string            `json:"stage,omitempty"`
	FollowUp  bool              `json:"follow_up,omitempty"`

	// Token fields, set on EventToken.
	Text  string `json:"text,omitempty"`
	Index int    `json:"index,omitempty"`

	// Done fields, set on EventDone: the final confidence plus the
	// same citations a non-streaming response would carry.
	Confidence float64 `json:"confidence,omitempty"`
}

// EmitFunc receives stream events. Returning an error aborts the
// stream; the engine stops generating.
type EmitFunc func(Event) error

// QueryStream answers a question as a token stream. The pipeline is
// identical to Query up to generation; cached answers stream as a
// single token. Streaming requests are not collapsed across callers,
// since each caller needs its own token sequence.
func (e *Engine) QueryStream(ctx context.Context, req Request, emit EmitFunc) error {
	if err := validateQuery(req.Query, e.config.MaxQueryChars); err != nil {
		return err
	}
	if m := detectInjection(req.Query); m != "" {
		e.logger.Warn("possible prompt injection in query",
			"pattern", m, "session_id", req.SessionID)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.GlobalDeadline)
	defer cancel()

	enrichment := e.enrich(req)
	finalK := e.finalK(req)
	f := e.fingerprint(finalK)

	if e.answers != nil && !enrichment.FollowUp {
		if entry, stage, ok := e.answers.Lookup(ctx, req.Query, f); ok {
			e.record(ctx, req, entry.Answer)
			return emitCached(entry, stage, emit)
		}
	}

	retrieval, err := e.retrieve(ctx, req, enrichment, finalK)
	if err != nil {
		return e.mapDeadline(ctx, err)
	}

	if e.answers != nil && !enrichment.FollowUp {
		chunkIDs := make([]string, len(retrieval.Chunks))
		for i, sc := range retrieval.Chunks {
			chunkIDs[i] = sc.Chunk.ID
		}
		if entry, ok := e.answers.SemanticLookup(ctx, retrieval.QueryEmbedding, chunkIDs, f); ok {
			e.record(ctx, req, entry.Answer)
			return emitCached(entry, cache.StageSemantic, emit)
		}
		e.answers.RecordMiss()
	}

	ans, err := answer.Prepare(req.Query, retrieval, finalK)
	if err != nil {
		if errors.KindOf(err) == errors.KindInsufficientEvidence {
			ans = answer.Insufficient(string(retrieval.Explanation.Strategy))
			e.storeAnswer(ctx, req, enrichment, ans, nil)
			e.record(ctx, req, ans.Text)
			return emitAnswer(ans, false, "", enrichment.FollowUp, emit)
		}
		return err
	}

	if err := emit(Event{
		Type:      EventMeta,
		Strategy:  ans.Strategy,
		Citations: ans.Citations,
		FollowUp:  enrichment.FollowUp,
	}); err != nil {
		return err
	}

	pre := answer.PreConfidence(retrieval.Chunks, finalK)

	text, err := e.streamGeneration(ctx, req.Query, e.conversationSummary(req, enrichment), retrieval, emit)
	if err != nil {
		return e.mapDeadline(ctx, err)
	}
	ans.Text = text
	ans.Confidence = answer.Finalize(pre, text, retrieval.Chunks)

	e.storeAnswer(ctx, req, enrichment, ans, retrieval.QueryEmbedding)
	e.record(ctx, req, text)

	return emit(Event{
		Type:       EventDone,
		Citations:  ans.Citations,
		Confidence: ans.Confidence,
	})
}

// streamGeneration forwards model tokens to the caller while
// accumulating the full text for cache write-back.
func (e *Engine) streamGeneration(ctx context.Context, query, summary string, retrieval *search.RetrievalResult, emit EmitFunc) (string, error) {
	select {
	case e.genSlots <- struct{}{}:
		defer func() { <-e.genSlots }()
	default:
		return "", errors.Overloaded("generation queue is full, retry later")
	}

	prompt := answer.BuildConversationalPrompt(query, summary, retrieval.Chunks, e.config.MaxCharsPerDoc)
	tokens, err := e.generator.Stream(ctx, prompt, e.genParams())
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for tok := range tokens {
		sb.WriteString(tok.Text)
		if err := emit(Event{Type: EventToken, Text: tok.Text, Index: tok.Index}); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func emitCached(entry *cache.Entry, stage cache.Stage, emit EmitFunc) error {
	result := resultFromCache(entry, stage)
	return emitAnswer(result.Answer, true, string(stage), false, emit)
}

// emitAnswer streams an already-complete answer as the standard
// meta/token/done sequence.
func emitAnswer(ans *answer.Answer, cached bool, stage string, followUp bool, emit EmitFunc) error {
	if err := emit(Event{
		Type:      EventMeta,
		Strategy:  ans.Strategy,
		Citations: ans.Citations,
		Cached:    cached,
		Stage:     stage,
		FollowUp:  followUp,
	}); err != nil {
		return err
	}
	if err := emit(Event{Type: EventToken, Text: ans.Text, Index: 0}); err != nil {
		return err
	}
	return emit(Event{
		Type:       EventDone,
		Citations:  ans.Citations,
		Confidence: ans.Confidence,
	})
}
