package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, VectorBackendChromaDB, cfg.VectorBackend)
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 5, cfg.TopK)
	assert.False(t, cfg.AutomaticLearning.Enabled)
	assert.Equal(t, "heuristic", cfg.UniversalHooks.ConversationAnalyzer.ExtractionMode)
}

func TestLoadConfigWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().ChunkSize, cfg.ChunkSize)
}

func TestLoadConfigMissingFileIsNotAnError(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
}

func TestLoadConfigYAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := "data_dir: /custom/data\nchunk_size: 999\ntop_k: 9\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/custom/data", cfg.DataDir)
	assert.Equal(t, 999, cfg.ChunkSize)
	assert.Equal(t, 9, cfg.TopK)
}

func TestLoadConfigInvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("MCP_MEMORY_DATA_DIR", "/env/data")
	t.Setenv("MCP_MEMORY_CHUNK_SIZE", "777")
	t.Setenv("MCP_MEMORY_QUERY_EXPANSION_ENABLED", "true")
	t.Setenv("MCP_MEMORY_MIN_RETRIEVAL_SCORE", "0.42")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "/env/data", cfg.DataDir)
	assert.Equal(t, 777, cfg.ChunkSize)
	assert.True(t, cfg.QueryExpansionEnabled)
	assert.InDelta(t, 0.42, cfg.MinRetrievalScore, 1e-9)
}

func TestLoadConfigFromMap(t *testing.T) {
	raw := map[string]interface{}{
		"data_dir":   "/map/data",
		"chunk_size": 321,
		"top_k":      "7",
	}
	cfg, err := LoadConfigFromMap(raw)
	require.NoError(t, err)
	assert.Equal(t, "/map/data", cfg.DataDir)
	assert.Equal(t, 321, cfg.ChunkSize)
	assert.Equal(t, 7, cfg.TopK)
}

func TestProjectDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/"
	assert.Equal(t, "/data/proj1", cfg.ProjectDataDir("proj1"))
}

func TestEmbeddingCacheTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmbeddingCacheTTLHours = 2
	assert.Equal(t, 2*time.Hour, cfg.EmbeddingCacheTTL())
}
