package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/corpusqa/corpusqa/internal/errors"
	"github.com/corpusqa/corpusqa/internal/textnorm"
)

// RerankResult is a reranked document with its relevance score.
type RerankResult struct {
	Index    int     // position in the input documents slice
	Score    float64 // higher is more relevant
	Document string
}

// Reranker reorders candidate documents by relevance to the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)
	Available(ctx context.Context) bool
	Close() error
}

// DefaultRerankTimeout bounds a single rerank call.
const DefaultRerankTimeout = 10 * time.Second

// HTTPReranker scores documents against a cross-encoder service
// exposing a POST /rerank endpoint.
type HTTPReranker struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates a reranker backed by a cross-encoder
// service at baseURL.
func NewHTTPReranker(baseURL string, timeout time.Duration) *HTTPReranker {
	if timeout <= 0 {
		timeout = DefaultRerankTimeout
	}
	return &HTTPReranker{
		url:     strings.TrimRight(baseURL, "/") + "/rerank",
		client:  &http.Client{},
		timeout: timeout,
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank sends the candidates to the cross-encoder and returns them
// ordered by score. Ties are broken by original position so the fused
// ordering survives equal scores.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(rerankRequest{Query: query, Documents: documents, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.ErrCodeBackendTimeout, "rerank request timed out", err)
		}
		return nil, errors.New(errors.ErrCodeBackendUnavailable, "failed to reach reranker", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.New(errors.ErrCodeBackendUnavailable,
			fmt.Sprintf("reranker returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.New(errors.ErrCodeBackendUnavailable, "failed to decode rerank response", err)
	}
	if len(parsed.Scores) != len(documents) {
		return nil, errors.New(errors.ErrCodeBackendUnavailable,
			fmt.Sprintf("reranker returned %d scores for %d documents", len(parsed.Scores), len(documents)), nil)
	}

	results := make([]RerankResult, len(documents))
	for i, score := range parsed.Scores {
		results[i] = RerankResult{Index: i, Score: score, Document: documents[i]}
	}
	sortRerankResults(results)
	return truncateResults(results, topK), nil
}

// Available probes the service with a tiny rerank call.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.Rerank(probeCtx, "ping", []string{"ping"}, 1)
	return err == nil
}

// Close releases idle connections.
func (r *HTTPReranker) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

// LexicalReranker is a dependency-free fallback that scores documents
// by query term overlap. It keeps the pipeline shape intact when no
// cross-encoder service is configured.
type LexicalReranker struct{}

var _ Reranker = (*LexicalReranker)(nil)

// NewLexicalReranker creates the lexical fallback reranker.
func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{}
}

// Rerank scores each document by the fraction of distinct query terms
// it contains.
func (r *LexicalReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryTerms := map[string]bool{}
	for _, tok := range textnorm.Tokens(strings.ToLower(query)) {
		queryTerms[tok] = true
	}

	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		docTerms := map[string]bool{}
		for _, tok := range textnorm.Tokens(strings.ToLower(doc)) {
			docTerms[tok] = true
		}
		matched := 0
		for term := range queryTerms {
			if docTerms[term] {
				matched++
			}
		}
		score := 0.0
		if len(queryTerms) > 0 {
			score = float64(matched) / float64(len(queryTerms))
		}
		results[i] = RerankResult{Index: i, Score: score, Document: doc}
	}
	sortRerankResults(results)
	return truncateResults(results, topK), nil
}

// Available always reports true.
func (r *LexicalReranker) Available(ctx context.Context) bool { return true }

// Close releases resources.
func (r *LexicalReranker) Close() error { return nil }

func sortRerankResults(results []RerankResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Index < results[j].Index
	})
}

func truncateResults(results []RerankResult, topK int) []RerankResult {
	if topK > 0 && len(results) > topK {
		return results[:topK]
	}
	return results
}
