// Package answer turns retrieved passages into a grounded, cited
// answer: prompt assembly, citation extraction, and confidence
// scoring.
package answer

import (
	"fmt"
	"strings"

	"github.com/corpusqa/corpusqa/internal/search"
	"github.com/corpusqa/corpusqa/internal/textnorm"
)

// DefaultMaxCharsPerPassage truncates passages in the prompt.
const DefaultMaxCharsPerPassage = 3200

const promptHeader = `Answer the question using only the numbered passages below.
Cite supporting passages inline as [1], [2], etc.
If the passages do not contain the answer, say so instead of guessing.`

// BuildPrompt assembles the generation prompt: instructions, numbered
// passages, then the question. Passage numbering starts at 1 and
// matches the citation indices returned with the answer.
func BuildPrompt(query string, chunks []*search.ScoredChunk, maxChars int) string {
	return BuildConversationalPrompt(query, "", chunks, maxChars)
}

// BuildConversationalPrompt is BuildPrompt with a conversation
// summary ahead of the passages, for follow-up questions.
func BuildConversationalPrompt(query, summary string, chunks []*search.ScoredChunk, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxCharsPerPassage
	}

	var sb strings.Builder
	sb.WriteString(promptHeader)
	sb.WriteString("\n\n")

	if summary != "" {
		sb.WriteString("Conversation so far: ")
		sb.WriteString(summary)
		sb.WriteString("\n\n")
	}

	for i, sc := range chunks {
		text := textnorm.Truncate(sc.Chunk.Text, maxChars)
		truncated := len(text) < len(sc.Chunk.Text)
		fmt.Fprintf(&sb, "[%d] %s", i+1, text)
		if truncated {
			sb.WriteString(" [truncated]")
		}
		sb.WriteString("\n")
		if sc.Chunk.SourcePath != "" {
			fmt.Fprintf(&sb, "    (source: %s", sc.Chunk.SourcePath)
			if sc.Chunk.Page > 0 {
				fmt.Fprintf(&sb, ", page %d", sc.Chunk.Page)
			}
			sb.WriteString(")\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Question: ")
	sb.WriteString(query)
	sb.WriteString("\nAnswer:")
	return sb.String()
}
