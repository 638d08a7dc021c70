package memory

import (
	"strings"

	"github.com/corpusqa/corpusqa/internal/textnorm"
)

// referentialLeads are opening words that point back at an earlier
// turn. Matched against the first token only, plus the two-word lead
// "what about".
var referentialLeads = map[string]bool{
	"it": true, "they": true, "that": true, "those": true,
	"this": true, "and": true, "also": true,
}

// followUpTokenLimit: a query in an active session that normalizes to
// fewer tokens than this is treated as a follow-up regardless of its
// wording.
const followUpTokenLimit = 8

// Enrichment is the outcome of follow-up handling for one query.
type Enrichment struct {
	// SearchText is what retrieval should search for. Equals the
	// original query when no enrichment applied.
	SearchText string
	// FollowUp reports whether the query was treated as a follow-up.
	FollowUp bool
}

// Enrich decides whether the query is a follow-up and, if so, builds
// a context-enriched search text from the session's recent turns. The
// returned text is used for searching only; the user-visible question
// is never rewritten.
func (m *Manager) Enrich(sessionID, query string) Enrichment {
	none := Enrichment{SearchText: query}
	if sessionID == "" {
		return none
	}

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return none
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.turns) == 0 && s.summary == "" {
		return none
	}

	if !m.isFollowUp(query) {
		return none
	}

	var sb strings.Builder
	if s.summary != "" {
		sb.WriteString(s.summary)
		sb.WriteString(" ")
	}
	// The two most recent questions carry the referent.
	start := len(s.turns) - 2
	if start < 0 {
		start = 0
	}
	for _, t := range s.turns[start:] {
		sb.WriteString(t.Question)
		sb.WriteString(" ")
	}
	sb.WriteString(query)

	return Enrichment{SearchText: sb.String(), FollowUp: true}
}

// isFollowUp reports whether the query depends on earlier turns: it
// is short, it opens with a referential word, or none of its tokens
// appear in the domain vocabulary. A question that names a corpus
// topic stands alone even when phrased tersely.
func (m *Manager) isFollowUp(query string) bool {
	lower := strings.ToLower(strings.TrimSpace(query))
	tokens := textnorm.Tokens(lower)
	if len(tokens) == 0 {
		return false
	}

	if len(tokens) < followUpTokenLimit {
		return true
	}

	if referentialLeads[trimPunct(tokens[0])] || strings.HasPrefix(lower, "what about") {
		return true
	}

	for _, tok := range tokens {
		if m.vocabulary[trimPunct(tok)] {
			return false
		}
	}
	return true
}

func trimPunct(tok string) string {
	return strings.Trim(tok, "?.,!;:\"'")
}
