package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeCrossEncoder(t *testing.T, score func(query, doc string) float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rerank", r.URL.Path)

		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		scores := make([]float64, len(req.Documents))
		for i, doc := range req.Documents {
			scores[i] = score(req.Query, doc)
		}
		_ = json.NewEncoder(w).Encode(rerankResponse{Scores: scores})
	}))
}

func TestHTTPRerankerOrdersByScore(t *testing.T) {
	srv := newFakeCrossEncoder(t, func(_, doc string) float64 {
		return float64(len(doc))
	})
	defer srv.Close()

	r := NewHTTPReranker(srv.URL, 0)
	defer r.Close()

	results, err := r.Rerank(context.Background(), "q", []string{"short", "a much longer document", "mid doc"}, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Index)
	assert.Equal(t, 2, results[1].Index)
	assert.Equal(t, 0, results[2].Index)
}

func TestHTTPRerankerTopK(t *testing.T) {
	srv := newFakeCrossEncoder(t, func(_, doc string) float64 {
		return float64(len(doc))
	})
	defer srv.Close()

	r := NewHTTPReranker(srv.URL, 0)
	defer r.Close()

	results, err := r.Rerank(context.Background(), "q", []string{"aa", "aaaa", "a"}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "aaaa", results[0].Document)
}

func TestHTTPRerankerScoreCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rerankResponse{Scores: []float64{0.5}})
	}))
	defer srv.Close()

	r := NewHTTPReranker(srv.URL, 0)
	defer r.Close()

	_, err := r.Rerank(context.Background(), "q", []string{"a", "b"}, 0)
	require.Error(t, err)
}

func TestHTTPRerankerUnreachable(t *testing.T) {
	r := NewHTTPReranker("http://127.0.0.1:1", time.Second)
	defer r.Close()

	_, err := r.Rerank(context.Background(), "q", []string{"a"}, 0)
	require.Error(t, err)
	assert.False(t, r.Available(context.Background()))
}

func TestHTTPRerankerEmptyDocuments(t *testing.T) {
	r := NewHTTPReranker("http://127.0.0.1:1", time.Second)
	defer r.Close()

	results, err := r.Rerank(context.Background(), "q", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLexicalRerankerScoresByOverlap(t *testing.T) {
	r := NewLexicalReranker()

	results, err := r.Rerank(context.Background(), "national anthem of France", []string{
		"weather patterns in coastal regions",
		"the national anthem of France was adopted in 1795",
		"france exports wine",
	}, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Index)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestLexicalRerankerTieKeepsInputOrder(t *testing.T) {
	r := NewLexicalReranker()

	results, err := r.Rerank(context.Background(), "anthem", []string{
		"the anthem played", "another anthem verse",
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, 1, results[1].Index)
}
