package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
)

// BleveIndex wraps Bleve v2 for BM25 keyword search over chunk text.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveDocument is the document structure for Bleve indexing.
type bleveDocument struct {
	Text string `json:"text"`
}

// NewBleveIndex creates a BM25 index at path.
// An empty path creates an in-memory index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("failed to create directory: %w", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveIndex{index: idx, path: path}, nil
}

// Index adds chunks to the index.
func (b *BleveIndex) Index(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, c := range chunks {
		if err := batch.Index(c.ID, bleveDocument{Text: c.Text}); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search returns chunks matching the query, scored by BM25.
func (b *BleveIndex) Search(ctx context.Context, queryStr string, limit int) ([]*SparseResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*SparseResult{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("text")

	req := bleve.NewSearchRequestOptions(matchQuery, limit, 0, false)
	req.IncludeLocations = true // matched terms

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*SparseResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &SparseResult{
			ID:           hit.ID,
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		})
	}
	return results, nil
}

// extractMatchedTerms pulls the matched terms from hit locations.
func extractMatchedTerms(hit *search.DocumentMatch) []string {
	seen := make(map[string]struct{})
	for _, locations := range hit.Locations {
		for term := range locations {
			seen[term] = struct{}{}
		}
	}
	terms := make([]string, 0, len(seen))
	for term := range seen {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

// Delete removes chunks from the index.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute delete batch: %w", err)
	}
	return nil
}

// Count returns the number of indexed chunks.
func (b *BleveIndex) Count() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, fmt.Errorf("index is closed")
	}
	return b.index.DocCount()
}

// Close closes the underlying index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ SparseIndex = (*BleveIndex)(nil)
