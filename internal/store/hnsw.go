package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWIndex implements VectorIndex on the pure Go coder/hnsw graph.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorIndexConfig

	// ID mapping (string <-> uint64)
	idMap   map[string]uint64 // chunk ID -> internal key
	keyMap  map[uint64]string // internal key -> chunk ID
	nextKey uint64

	closed bool
}

// hnswMetadata stores ID mappings for persistence.
type hnswMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorIndexConfig
}

// NewHNSWIndex creates a new HNSW-based vector index using cosine
// distance.
func NewHNSWIndex(cfg VectorIndexConfig) (*HNSWIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWIndex{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}, nil
}

// Add inserts vectors with their IDs.
// If an ID already exists, the old node is orphaned and a new one added.
func (s *HNSWIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		// Lazy deletion on replace: orphan the old key rather than
		// removing the node, which is unsafe in coder/hnsw for the
		// last node.
		if existingKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}

	return nil
}

// Search finds k nearest neighbors to the query vector.
func (s *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeVectorInPlace(normalized)

	nodes := s.graph.Search(normalized, k)

	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			// Lazy-deleted node, skip.
			continue
		}
		distance := s.graph.Distance(normalized, node.Value)
		results = append(results, &VectorResult{
			ID:       id,
			Distance: distance,
			Score:    1.0 - distance/2.0,
		})
	}

	return results, nil
}

// Delete removes vectors by ID via lazy deletion: the nodes stay in
// the graph but no longer surface in results.
func (s *HNSWIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}
	return nil
}

// Count returns the number of live vectors.
func (s *HNSWIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Save persists the index to disk atomically (temp file + rename).
func (s *HNSWIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *HNSWIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := hnswMetadata{
		IDMap:   s.idMap,
		NextKey: s.nextKey,
		Config:  s.config,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the index from disk.
func (s *HNSWIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	return nil
}

func (s *HNSWIndex) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer file.Close()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode hnsw metadata: %w", err)
	}

	s.idMap = meta.IDMap
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	s.nextKey = meta.NextKey
	s.config = meta.Config
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases resources.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

var _ VectorIndex = (*HNSWIndex)(nil)

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
