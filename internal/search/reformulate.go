package search

import (
	"strings"

	"github.com/corpusqa/corpusqa/internal/textnorm"
)

// MaxRewrites caps how many reformulations the advanced tier runs in
// addition to the original query.
const MaxRewrites = 3

// questionLeads are interrogative scaffolding phrases stripped by the
// noun-phrase rewrite, longest first so greedy matching works.
var questionLeads = []string{
	"what is the difference between",
	"can you tell me about",
	"tell me about",
	"what are the",
	"what is the",
	"what was the",
	"what were the",
	"what is",
	"what are",
	"what was",
	"who is the",
	"who was the",
	"who is",
	"who was",
	"where is",
	"where was",
	"when did",
	"when was",
	"how does",
	"how did",
	"how do",
	"why does",
	"why did",
	"why do",
	"explain how",
	"explain why",
	"explain",
	"describe",
	"compare",
}

// stopwords are dropped by the keyword rewrite.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true,
	"on": true, "at": true, "to": true, "for": true, "with": true,
	"by": true, "from": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "do": true, "does": true,
	"did": true, "it": true, "its": true, "this": true, "that": true,
	"and": true, "or": true, "as": true, "about": true, "what": true,
	"who": true, "when": true, "where": true, "why": true, "how": true,
	"which": true,
}

// Reformulator produces alternative phrasings of a query for the
// expanded retrieval tier. Rewrites are rule-based so the tier stays
// deterministic and adds no model round-trips.
type Reformulator struct {
	synonyms map[string][]string
}

// NewReformulator creates a reformulator using the built-in lexicon.
func NewReformulator() *Reformulator {
	return &Reformulator{synonyms: domainSynonyms}
}

// Rewrites returns up to MaxRewrites alternative phrasings, excluding
// any that collapse back to the original query.
func (r *Reformulator) Rewrites(query string) []string {
	lower := strings.ToLower(strings.TrimSpace(query))

	seen := map[string]bool{lower: true}
	var rewrites []string
	add := func(candidate string) {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || seen[candidate] || len(rewrites) >= MaxRewrites {
			return
		}
		seen[candidate] = true
		rewrites = append(rewrites, candidate)
	}

	add(r.stripQuestionLead(lower))
	add(r.substituteSynonym(lower))
	add(r.keywordForm(lower))

	return rewrites
}

// stripQuestionLead removes interrogative scaffolding, leaving the
// topic noun phrase.
func (r *Reformulator) stripQuestionLead(query string) string {
	for _, lead := range questionLeads {
		if strings.HasPrefix(query, lead+" ") {
			return strings.TrimRight(strings.TrimPrefix(query, lead+" "), "?")
		}
	}
	return ""
}

// substituteSynonym swaps the first synonym-bearing term for its
// primary synonym.
func (r *Reformulator) substituteSynonym(query string) string {
	tokens := textnorm.Tokens(query)
	for i, tok := range tokens {
		syns := r.synonyms[tok]
		if len(syns) == 0 {
			continue
		}
		out := make([]string, len(tokens))
		copy(out, tokens)
		out[i] = syns[0]
		return strings.Join(out, " ")
	}
	return ""
}

// keywordForm keeps only content words.
func (r *Reformulator) keywordForm(query string) string {
	var kept []string
	for _, tok := range textnorm.Tokens(query) {
		tok = strings.TrimRight(tok, "?")
		if tok == "" || stopwords[tok] {
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) < 2 {
		return ""
	}
	return strings.Join(kept, " ")
}
