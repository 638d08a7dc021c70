package search

import (
	"strings"

	"github.com/corpusqa/corpusqa/internal/textnorm"
)

// QueryExpander appends domain synonyms to the sparse-search text.
// The original query terms are always kept; expansion only ever adds.
type QueryExpander struct {
	maxTerms int
	synonyms map[string][]string
}

// ExpanderOption configures a QueryExpander.
type ExpanderOption func(*QueryExpander)

// WithMaxExpansionTerms caps how many synonym terms are appended.
func WithMaxExpansionTerms(n int) ExpanderOption {
	return func(e *QueryExpander) {
		e.maxTerms = n
	}
}

// WithSynonyms replaces the built-in synonym table.
func WithSynonyms(table map[string][]string) ExpanderOption {
	return func(e *QueryExpander) {
		e.synonyms = table
	}
}

// NewQueryExpander creates an expander with the built-in lexicon.
func NewQueryExpander(opts ...ExpanderOption) *QueryExpander {
	e := &QueryExpander{
		maxTerms: 8,
		synonyms: domainSynonyms,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand returns the expanded search text plus the synonyms that were
// applied: the original query followed by any synonyms of its terms,
// deduplicated. When no term has synonyms the original query is
// returned unchanged with a nil synonym set.
func (e *QueryExpander) Expand(query string) (string, []string) {
	tokens := textnorm.Tokens(strings.ToLower(query))

	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		seen[tok] = true
	}

	var added []string
	for _, tok := range tokens {
		for _, syn := range e.synonyms[tok] {
			if seen[syn] {
				continue
			}
			seen[syn] = true
			added = append(added, syn)
			if len(added) >= e.maxTerms {
				break
			}
		}
		if len(added) >= e.maxTerms {
			break
		}
	}

	if len(added) == 0 {
		return query, nil
	}
	return query + " " + strings.Join(added, " "), added
}
