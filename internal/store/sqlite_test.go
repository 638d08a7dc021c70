package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunkStore(t *testing.T) *SQLiteChunkStore {
	t.Helper()
	s, err := NewSQLiteChunkStore(filepath.Join(t.TempDir(), "chunks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestChunkStoreSaveAndGet(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()

	chunks := []*Chunk{
		{ID: "c1", SourcePath: "a.pdf", Page: 3, Text: "first", Metadata: map[string]string{"section": "intro"}},
		{ID: "c2", SourcePath: "b.pdf", Page: 0, Text: "second"},
	}
	require.NoError(t, s.SaveChunks(ctx, chunks))

	got, err := s.GetChunk(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", got.SourcePath)
	assert.Equal(t, 3, got.Page)
	assert.Equal(t, "first", got.Text)
	assert.Equal(t, "intro", got.Metadata["section"])

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestChunkStoreGetMissing(t *testing.T) {
	s := newTestChunkStore(t)
	_, err := s.GetChunk(context.Background(), "nope")
	assert.Error(t, err)
}

func TestChunkStoreBatchPreservesOrder(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		{ID: "c1", SourcePath: "a", Text: "one"},
		{ID: "c2", SourcePath: "a", Text: "two"},
		{ID: "c3", SourcePath: "a", Text: "three"},
	}))

	got, err := s.GetChunks(ctx, []string{"c3", "missing", "c1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c3", got[0].ID)
	assert.Equal(t, "c1", got[1].ID)
}

func TestChunkStoreUpsert(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChunks(ctx, []*Chunk{{ID: "c1", SourcePath: "a", Text: "old"}}))
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{{ID: "c1", SourcePath: "a", Text: "new"}}))

	got, err := s.GetChunk(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Text)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestChunkStoreEmptyBatch(t *testing.T) {
	s := newTestChunkStore(t)
	got, err := s.GetChunks(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, s.SaveChunks(context.Background(), nil))
}
