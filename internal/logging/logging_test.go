package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input), "level %q", tt.input)
	}
}

func TestSetupWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query.log")
	cfg := DefaultConfig()
	cfg.FilePath = path
	cfg.WriteToStderr = false

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)

	logger.Info("query complete", "request_id", "abc", "latency_ms", 12)
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "query complete", entry["msg"])
	assert.Equal(t, "abc", entry["request_id"])
}

func TestRotatingWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query.log")
	w, err := NewRotatingWriter(path, 1, 2) // 1MB
	require.NoError(t, err)
	defer w.Close()

	line := strings.Repeat("x", 64*1024)
	for i := 0; i < 20; i++ { // ~1.25MB total
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "rotated file should exist")
}
