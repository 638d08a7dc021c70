package answer

import (
	"regexp"
	"strings"

	"github.com/corpusqa/corpusqa/internal/search"
	"github.com/corpusqa/corpusqa/internal/textnorm"
)

// Confidence weights. Rerank agreement and answer grounding dominate;
// source diversity is a smaller signal.
const (
	rerankWeight    = 0.4
	coverageWeight  = 0.4
	diversityWeight = 0.2
)

// phraseLen is the number of consecutive answer tokens that must
// appear verbatim in a cited passage for a sentence to count as
// grounded.
const phraseLen = 3

// PreConfidence is the retrieval-side share of the confidence score:
// mean passage score plus source agreement, weighted. It depends only
// on the retrieval result, so it can be computed while generation is
// still running; Confidence adds the answer-grounding term afterward.
func PreConfidence(chunks []*search.ScoredChunk, finalK int) float64 {
	if len(chunks) == 0 {
		return 0
	}
	if finalK <= 0 {
		finalK = len(chunks)
	}

	var scoreSum float64
	sources := map[string]bool{}
	for _, sc := range chunks {
		scoreSum += clamp01(sc.Score)
		sources[sc.Chunk.SourcePath] = true
	}
	meanScore := scoreSum / float64(len(chunks))

	diversity := float64(len(sources)) / float64(finalK)
	if diversity > 1 {
		diversity = 1
	}

	return rerankWeight*meanScore + diversityWeight*diversity
}

// Finalize combines a PreConfidence value with the answer-grounding
// coverage term once the generated text is known.
func Finalize(pre float64, answerText string, chunks []*search.ScoredChunk) float64 {
	return clamp01(pre + coverageWeight*sentenceCoverage(answerText, chunks))
}

// Confidence scores how well the cited evidence supports a generated
// answer, in [0, 1]:
//
//   - mean rerank (or fused) score of the final passages
//   - fraction of answer sentences sharing a phrase with a passage
//   - distinct sources relative to the requested passage count
func Confidence(answerText string, chunks []*search.ScoredChunk, finalK int) float64 {
	if len(chunks) == 0 {
		return 0
	}
	return Finalize(PreConfidence(chunks, finalK), answerText, chunks)
}

// sentenceCoverage is the fraction of answer sentences that share at
// least one phrase with a cited passage. A sentence is grounded when a
// run of phraseLen consecutive tokens (fewer for very short
// sentences) appears verbatim in any passage.
func sentenceCoverage(answerText string, chunks []*search.ScoredChunk) float64 {
	sentences := splitSentences(answerText)
	if len(sentences) == 0 {
		return 0
	}

	corpus := make([]string, len(chunks))
	for i, sc := range chunks {
		corpus[i] = strings.ToLower(sc.Chunk.Text)
	}

	grounded := 0
	for _, sentence := range sentences {
		if sentenceGrounded(sentence, corpus) {
			grounded++
		}
	}
	return float64(grounded) / float64(len(sentences))
}

func sentenceGrounded(sentence string, corpus []string) bool {
	tokens := contentTokens(sentence)
	if len(tokens) == 0 {
		return false
	}

	n := phraseLen
	if len(tokens) < n {
		n = len(tokens)
	}
	for i := 0; i+n <= len(tokens); i++ {
		phrase := strings.Join(tokens[i:i+n], " ")
		for _, text := range corpus {
			if strings.Contains(text, phrase) {
				return true
			}
		}
	}
	return false
}

// splitSentences breaks answer text on terminal punctuation. Citation
// markers like [1] stay attached to their sentence and are stripped by
// tokenization.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// citationMarker matches inline citation indices such as [1].
var citationMarker = regexp.MustCompile(`\[\d+\]`)

// contentTokens lowercases and strips punctuation and citation
// markers, keeping the words that can anchor a phrase match.
func contentTokens(sentence string) []string {
	sentence = citationMarker.ReplaceAllString(sentence, " ")

	var tokens []string
	for _, tok := range textnorm.Tokens(strings.ToLower(sentence)) {
		tok = strings.Trim(tok, "?.,!;:()\"'")
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
