package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// StaticDimensions is the dimension of static embeddings.
const StaticDimensions = 256

// StaticEmbedder produces deterministic hash-derived embeddings with
// no external backend. It captures no semantics; it exists for tests
// and for running the pipeline without a model server.
type StaticEmbedder struct {
	dims int
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder.
// dims <= 0 selects StaticDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed derives a unit vector from the SHA-256 of the text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	seed := sha256.Sum256([]byte(text))

	// Stretch the digest across the vector by rehashing with a counter.
	var sumSquares float64
	buf := make([]byte, len(seed)+4)
	copy(buf, seed[:])
	for i := 0; i < e.dims; i++ {
		binary.BigEndian.PutUint32(buf[len(seed):], uint32(i))
		h := sha256.Sum256(buf)
		v := float32(int32(binary.BigEndian.Uint32(h[:4]))) / float32(math.MaxInt32)
		vec[i] = v
		sumSquares += float64(v) * float64(v)
	}

	if sumSquares > 0 {
		inv := float32(1.0 / math.Sqrt(sumSquares))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string { return "static" }

// Available always reports true.
func (e *StaticEmbedder) Available(ctx context.Context) bool { return true }

// Close releases resources.
func (e *StaticEmbedder) Close() error { return nil }
