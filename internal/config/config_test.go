package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpusqa.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Retrieval.InitialK)
	assert.Equal(t, 8, cfg.Retrieval.FinalK)
	assert.Equal(t, 30, cfg.Retrieval.RerankK)
	assert.Equal(t, 60, cfg.Retrieval.RRFK)
	assert.Equal(t, 3200, cfg.Retrieval.MaxCharsPerDoc)
	assert.Equal(t, 10000, cfg.Retrieval.MaxQueryChars)
	assert.Equal(t, 0.98, cfg.Cache.SemanticThreshold)
	assert.Equal(t, 0.80, cfg.Cache.ValidationThreshold)
	assert.Equal(t, 3, cfg.Cache.MaxSemanticCandidates)
	assert.Equal(t, time.Hour, cfg.Cache.TTLExact)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTLSemantic)
	assert.Equal(t, 10, cfg.Memory.Window)
	assert.Equal(t, 5, cfg.Memory.SummarizeEvery)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfig(t, `
retrieval:
  final_k: 5
  rerank_k: 20
cache:
  semantic_threshold: 0.95
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Retrieval.FinalK)
	assert.Equal(t, 20, cfg.Retrieval.RerankK)
	assert.Equal(t, 0.95, cfg.Cache.SemanticThreshold)
	// Untouched fields keep defaults.
	assert.Equal(t, 100, cfg.Retrieval.InitialK)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
retrieval:
  final_k: 5
  bogus_option: true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus_option")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CORPUSQA_REDIS_ADDR", "redis.example:6380")
	t.Setenv("CORPUSQA_SERVER_ADDR", ":9090")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis.example:6380", cfg.Redis.Addr)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative final_k", func(c *Config) { c.Retrieval.FinalK = -1 }},
		{"rerank_k below final_k", func(c *Config) { c.Retrieval.RerankK = 4 }},
		{"initial_k below rerank_k", func(c *Config) { c.Retrieval.InitialK = 10 }},
		{"threshold above 1", func(c *Config) { c.Cache.SemanticThreshold = 1.5 }},
		{"zero memory window", func(c *Config) { c.Memory.Window = 0 }},
		{"unknown provider", func(c *Config) { c.Backends.Provider = "bedrock" }},
		{"openai without key", func(c *Config) { c.Backends.Provider = "openai" }},
		{"zero queue depth", func(c *Config) { c.Server.QueueDepth = 0 }},
		{"wildcard cors in production", func(c *Config) { c.Server.Production = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateDefaultsOK(t *testing.T) {
	require.NoError(t, NewConfig().Validate())
}
