package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteChunkStore implements ChunkStore on SQLite.
type SQLiteChunkStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// NewSQLiteChunkStore opens (or creates) a chunk store at path.
// An empty path opens an in-memory database.
func NewSQLiteChunkStore(path string) (*SQLiteChunkStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteChunkStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteChunkStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id          TEXT PRIMARY KEY,
		source_path TEXT NOT NULL,
		page        INTEGER NOT NULL DEFAULT 0,
		text        TEXT NOT NULL,
		metadata    TEXT,
		created_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_path);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveChunks upserts a batch of chunks in one transaction.
func (s *SQLiteChunkStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, source_path, page, text, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_path = excluded.source_path,
			page        = excluded.page,
			text        = excluded.text,
			metadata    = excluded.metadata`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		meta, err := marshalMetadata(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for chunk %s: %w", c.ID, err)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.SourcePath, c.Page, c.Text, meta, createdAt.Unix()); err != nil {
			return fmt.Errorf("failed to save chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// GetChunk fetches a single chunk by ID.
// Returns sql.ErrNoRows wrapped if the chunk does not exist.
func (s *SQLiteChunkStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_path, page, text, metadata, created_at FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk %s: %w", id, err)
	}
	return c, nil
}

// GetChunks fetches a batch of chunks, preserving the order of ids.
// Missing IDs are skipped.
func (s *SQLiteChunkStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return []*Chunk{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_path, page, text, metadata, created_at FROM chunks WHERE id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	ordered := make([]*Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}

// Count returns the number of stored chunks.
func (s *SQLiteChunkStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *SQLiteChunkStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ ChunkStore = (*SQLiteChunkStore)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	var meta sql.NullString
	var createdAt int64
	if err := row.Scan(&c.ID, &c.SourcePath, &c.Page, &c.Text, &meta, &createdAt); err != nil {
		return nil, err
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	return &c, nil
}

func marshalMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
