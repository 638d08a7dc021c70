// Package logging configures structured JSON logging for corpusqa.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level"`
	// FilePath is the path to the log file. Empty means stderr only.
	FilePath string `yaml:"file_path"`
	// MaxSizeMB is the maximum size in MB before rotation (default: 10).
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxFiles is the maximum number of rotated files to keep (default: 5).
	MaxFiles int `yaml:"max_files"`
	// WriteToStderr whether to also write to stderr (default: true).
	WriteToStderr bool `yaml:"write_to_stderr"`
}

// DefaultConfig returns sensible defaults for a long-running service.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      "",
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// Setup initializes logging and returns the logger and a cleanup function.
// The cleanup function closes the log file, if any.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var writers []io.Writer
	cleanup := func() {}

	if cfg.FilePath != "" {
		w, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, w)
		cleanup = func() {
			_ = w.Sync()
			_ = w.Close()
		}
	}
	if cfg.WriteToStderr || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	var output io.Writer
	if len(writers) == 1 {
		output = writers[0]
	} else {
		output = io.MultiWriter(writers...)
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	return slog.New(handler), cleanup, nil
}

// SetupDefault sets up logging and installs it as the default logger.
// Returns cleanup function.
func SetupDefault(cfg Config) (func(), error) {
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
