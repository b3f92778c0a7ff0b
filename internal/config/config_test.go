package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.Chunker.ChunkSize)
	assert.Equal(t, 200, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Nil(t, cfg.Retrieval.ScoreThreshold)
	assert.Equal(t, 10, cfg.Memory.MaxHistoryTurns)
	assert.Equal(t, "gpt-3.5-turbo", cfg.Chat.Model)
	assert.InDelta(t, 0.7, cfg.Chat.Temperature, 1e-9)
	assert.Equal(t, 500, cfg.Chat.MaxTokens)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "gpt-3.5-turbo", cfg.Tokenizer.Model)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadAppliesDefaultsAroundUserValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chunker:
  chunk_size: 500
retrieval:
  top_k: 5
  score_threshold: 0.25
embedder:
  type: tfidf
vector_store:
  type: qdrant
chat:
  model: gpt-4o-mini
  temperature: 0
ingest:
  sources:
    - https://example.com/doc.md
    - ./docs/*.txt
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 500, cfg.Chunker.ChunkSize)
	assert.Equal(t, 100, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	require.NotNil(t, cfg.Retrieval.ScoreThreshold)
	assert.InDelta(t, 0.25, *cfg.Retrieval.ScoreThreshold, 1e-9)
	assert.Nil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "http://localhost:6333", cfg.VectorStore.Qdrant.URL)
	assert.Equal(t, "ragchat", cfg.VectorStore.Qdrant.Collection)
	assert.Zero(t, cfg.Chat.Temperature)
	assert.Equal(t, "gpt-4o-mini", cfg.Tokenizer.Model)
	assert.Len(t, cfg.Ingest.Sources, 2)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunker: [oops"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Retrieval.TopK = 7
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"overlap equals size", func(c *AppConfig) { c.Chunker.ChunkOverlap = c.Chunker.ChunkSize }},
		{"overlap exceeds size", func(c *AppConfig) { c.Chunker.ChunkOverlap = 2000 }},
		{"negative size", func(c *AppConfig) { c.Chunker.ChunkSize = -1 }},
		{"negative overlap", func(c *AppConfig) { c.Chunker.ChunkOverlap = -1 }},
		{"zero top_k", func(c *AppConfig) { c.Retrieval.TopK = 0 }},
		{"threshold out of range", func(c *AppConfig) { v := 1.5; c.Retrieval.ScoreThreshold = &v }},
		{"negative history", func(c *AppConfig) { c.Memory.MaxHistoryTurns = -1 }},
		{"unknown embedder", func(c *AppConfig) { c.Embedder.Type = "bert" }},
		{"unknown store", func(c *AppConfig) { c.VectorStore.Type = "chroma" }},
		{"no workers", func(c *AppConfig) { c.Ingest.Concurrency = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), domain.ErrConfiguration)
		})
	}
}
