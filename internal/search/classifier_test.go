package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifierTiers(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name     string
		query    string
		strategy Strategy
	}{
		{
			name:     "short lookup",
			query:    "capital of France",
			strategy: StrategySimpleDense,
		},
		{
			name:     "short factual question",
			query:    "what is the national song of France",
			strategy: StrategySimpleDense,
		},
		{
			name:     "analytical lead alone reaches hybrid",
			query:    "why did the empire fall",
			strategy: StrategyHybridReranked,
		},
		{
			name:     "twelve tokens reaches hybrid",
			query:    "the first twelve words of this query are enough to cross over",
			strategy: StrategyHybridReranked,
		},
		{
			name: "long analytical compound question reaches advanced",
			query: "how did the industrial revolution change urban labor markets, " +
				"and why did wages in textile towns lag behind food prices for decades",
			strategy: StrategyAdvancedExpanded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.query)
			assert.Equal(t, tt.strategy, got.Strategy, "score=%d factors=%v", got.Score, got.Factors)
		})
	}
}

func TestClassifierScoring(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name  string
		query string
		score int
	}{
		{"empty", "", 0},
		{"three tokens", "capital of France", 0},
		{"analytical lead only", "why rain", 3},
		{"conjunction only", "cats and dogs", 1},
		{"multi clause only", "first, second", 1},
		{
			"length and lead and conjunction and clause",
			"explain the causes of the war, the treaty terms, and the border changes afterwards",
			2 + 3 + 1 + 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.score, c.Classify(tt.query).Score)
		})
	}
}

func TestClassifierBoundariesResolveToCheaperTier(t *testing.T) {
	c := NewClassifier()

	// Score exactly 2: twelve plain tokens, no other signals.
	got := c.Classify("one two three four five six seven eight nine ten eleven twelve")
	assert.Equal(t, 2, got.Score)
	assert.Equal(t, StrategyHybridReranked, got.Strategy)

	// Score exactly 4: analytical lead plus conjunction, under twelve
	// tokens. Stays hybrid, not advanced.
	got = c.Classify("compare apples and oranges")
	assert.Equal(t, 4, got.Score)
	assert.Equal(t, StrategyHybridReranked, got.Strategy)
}

func TestClassifierDeterministic(t *testing.T) {
	c := NewClassifier()
	query := "how does the river delta flood cycle affect rice farming, and why"

	first := c.Classify(query)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Classify(query))
	}
}

func TestClassifierRecordsFactors(t *testing.T) {
	c := NewClassifier()

	got := c.Classify("compare apples and oranges")
	assert.Equal(t, map[string]int{
		"analytical_lead": 3,
		"conjunction":     1,
	}, got.Factors)
}

func TestClassifierReasoning(t *testing.T) {
	c := NewClassifier()

	got := c.Classify("compare apples and oranges")
	assert.Contains(t, got.Reasoning, "complexity 4")
	assert.Contains(t, got.Reasoning, "analytical_lead (+3)")
	assert.Contains(t, got.Reasoning, "conjunction (+1)")
	assert.Contains(t, got.Reasoning, string(StrategyHybridReranked))

	got = c.Classify("capital of France")
	assert.Empty(t, got.Factors)
	assert.Equal(t, "complexity 0 selects simple_dense", got.Reasoning)
}
