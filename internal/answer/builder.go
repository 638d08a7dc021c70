package answer

import (
	"github.com/corpusqa/corpusqa/internal/errors"
	"github.com/corpusqa/corpusqa/internal/search"
	"github.com/corpusqa/corpusqa/internal/textnorm"
)

// ExcerptChars bounds the passage excerpt carried on each citation.
const ExcerptChars = 200

// InsufficientEvidenceText is the fixed answer returned when
// retrieval finds no relevant passages.
const InsufficientEvidenceText = "The corpus does not contain enough information to answer this question."

// InsufficientConfidence caps the confidence of evidence-free answers.
const InsufficientConfidence = 0.1

// Citation points an answer back at a retrieved passage.
type Citation struct {
	// Index is the 1-based passage number used in the prompt and in
	// inline [n] references.
	Index      int     `json:"index"`
	ChunkID    string  `json:"chunk_id"`
	SourcePath string  `json:"source_path"`
	Page       int     `json:"page,omitempty"`
	Score      float64 `json:"score"`
	// Excerpt is the opening of the passage text, for display.
	Excerpt string `json:"excerpt"`
}

// Answer is a grounded response with its supporting evidence.
type Answer struct {
	Text       string     `json:"text"`
	Citations  []Citation `json:"citations"`
	Confidence float64    `json:"confidence"`
	Strategy   string     `json:"strategy"`
}

// ChunkIDs returns the cited chunk IDs in citation order.
func (a *Answer) ChunkIDs() []string {
	ids := make([]string, len(a.Citations))
	for i, c := range a.Citations {
		ids[i] = c.ChunkID
	}
	return ids
}

// Prepare validates the evidence and derives citations before
// generation runs; confidence is finalized once the generated text is
// known. Empty retrieval is an insufficient-evidence condition, not a
// transport failure.
func Prepare(query string, result *search.RetrievalResult, finalK int) (*Answer, error) {
	if result == nil || len(result.Chunks) == 0 {
		return nil, errors.New(errors.ErrCodeInsufficientEvidence,
			"no relevant passages found for this question", nil)
	}

	citations := make([]Citation, len(result.Chunks))
	for i, sc := range result.Chunks {
		citations[i] = Citation{
			Index:      i + 1,
			ChunkID:    sc.Chunk.ID,
			SourcePath: sc.Chunk.SourcePath,
			Page:       sc.Chunk.Page,
			Score:      sc.Score,
			Excerpt:    textnorm.Truncate(sc.Chunk.Text, ExcerptChars),
		}
	}

	return &Answer{
		Citations: citations,
		Strategy:  string(result.Explanation.Strategy),
	}, nil
}

// Insufficient builds the fixed no-evidence answer. It carries no
// citations and a fixed low confidence.
func Insufficient(strategy string) *Answer {
	return &Answer{
		Text:       InsufficientEvidenceText,
		Citations:  []Citation{},
		Confidence: InsufficientConfidence,
		Strategy:   strategy,
	}
}
