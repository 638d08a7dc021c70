package search

import (
	"fmt"
	"strings"

	"github.com/corpusqa/corpusqa/internal/textnorm"
)

// Complexity thresholds: scores below hybridThreshold select the
// dense-only tier, scores above advancedThreshold select the expanded
// tier, and everything in between runs the hybrid pipeline. Boundary
// scores resolve toward the cheaper tier.
const (
	hybridThreshold   = 2
	advancedThreshold = 4
)

// analyticalLeads are leading words that signal an analytical question.
var analyticalLeads = map[string]bool{
	"how":     true,
	"why":     true,
	"compare": true,
	"analyze": true,
	"explain": true,
}

// conjunctions signal compound questions when they appear anywhere in
// the query.
var conjunctions = map[string]bool{
	"and":    true,
	"or":     true,
	"versus": true,
	"vs":     true,
}

// Classification is a classifier verdict with its scoring trail.
type Classification struct {
	Strategy Strategy
	Score    int
	// Factors maps each signal that fired to the points it added.
	Factors map[string]int
	// Reasoning narrates the selection for the Explanation.
	Reasoning string
}

// Classifier assigns a retrieval strategy to a query. It is a pure
// function of the query text: the same input always yields the same
// tier, which keeps cached answers reproducible.
type Classifier struct{}

// NewClassifier creates a query complexity classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify scores the query additively and maps the score to a tier.
func (c *Classifier) Classify(query string) Classification {
	tokens := textnorm.Tokens(strings.ToLower(query))

	score := 0
	factors := map[string]int{}
	var fired []string

	add := func(name string, points int) {
		score += points
		factors[name] = points
		fired = append(fired, fmt.Sprintf("%s (+%d)", name, points))
	}

	switch n := len(tokens); {
	case n >= 20:
		add("length>=20", 3)
	case n >= 12:
		add("length>=12", 2)
	}

	if len(tokens) > 0 && analyticalLeads[strings.TrimRight(tokens[0], "?,")] {
		add("analytical_lead", 3)
	}

	for _, tok := range tokens {
		if conjunctions[tok] {
			add("conjunction", 1)
			break
		}
	}

	if strings.ContainsAny(query, ",;") {
		add("multi_clause", 1)
	}

	strategy := StrategySimpleDense
	switch {
	case score > advancedThreshold:
		strategy = StrategyAdvancedExpanded
	case score >= hybridThreshold:
		strategy = StrategyHybridReranked
	}

	reasoning := fmt.Sprintf("complexity %d selects %s", score, strategy)
	if len(fired) > 0 {
		reasoning = fmt.Sprintf("complexity %d from %s selects %s",
			score, strings.Join(fired, ", "), strategy)
	}

	return Classification{
		Strategy:  strategy,
		Score:     score,
		Factors:   factors,
		Reasoning: reasoning,
	}
}
