package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"ragchat/internal/domain"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKeyEnv         string `yaml:"api_key_env"`
	Model             string `yaml:"model"`
	TimeoutSecs       int    `yaml:"timeout_secs"`
	BatchSize         int    `yaml:"batch_size"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// ChatConfig configures the chat completion model.
type ChatConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	SystemPrompt      string  `yaml:"system_prompt,omitempty"`
	Instructions      string  `yaml:"instructions,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
// Sizes are in characters.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// RetrievalConfig configures passage selection.
type RetrievalConfig struct {
	TopK           int      `yaml:"top_k"`
	ScoreThreshold *float64 `yaml:"score_threshold"`
}

// MemoryConfig bounds per-session conversation history.
type MemoryConfig struct {
	MaxHistoryTurns    int `yaml:"max_history_turns"`
	MaxHistoryTokens   int `yaml:"max_history_tokens"`
	HistoryTokenBudget int `yaml:"history_token_budget"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// IngestConfig configures document loading.
type IngestConfig struct {
	Sources          []string `yaml:"sources,omitempty"`
	Concurrency      int      `yaml:"concurrency"`
	FetchTimeoutSecs int      `yaml:"fetch_timeout_secs"`
}

// SummarizerConfig configures the corpus overview.
type SummarizerConfig struct {
	MaxSentences int `yaml:"max_sentences"`
}

// LogConfig configures zap.
type LogConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// TokenizerConfig selects the tiktoken encoding by model name.
type TokenizerConfig struct {
	Model string `yaml:"model"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Memory      MemoryConfig      `yaml:"memory"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chat        ChatConfig        `yaml:"chat"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tokenizer   TokenizerConfig   `yaml:"tokenizer"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/ragchat/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragchat/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragchat", "config.yaml"), nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	cfg := &AppConfig{
		Embedder:    EmbedderConfig{Type: "openai"},
		VectorStore: VectorStoreConfig{Type: "memory"},
		Log:         LogConfig{Mode: "dev", Level: "info"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 1000
	}
	if cfg.Chunker.ChunkOverlap == 0 {
		cfg.Chunker.ChunkOverlap = cfg.Chunker.ChunkSize / 5
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Memory.MaxHistoryTurns == 0 {
		cfg.Memory.MaxHistoryTurns = 10
	}
	if cfg.Memory.HistoryTokenBudget == 0 {
		cfg.Memory.HistoryTokenBudget = 1500
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "openai"
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.BatchSize == 0 {
			o.BatchSize = 32
		}
	}
	if cfg.Chat.BaseURL == "" {
		cfg.Chat.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Chat.APIKeyEnv == "" {
		cfg.Chat.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Chat.Model == "" {
		cfg.Chat.Model = "gpt-3.5-turbo"
		// 0 is a valid temperature once a model is chosen
		if cfg.Chat.Temperature == 0 {
			cfg.Chat.Temperature = 0.7
		}
	}
	if cfg.Chat.MaxTokens == 0 {
		cfg.Chat.MaxTokens = 500
	}
	if cfg.Chat.TimeoutSecs == 0 {
		cfg.Chat.TimeoutSecs = 60
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if cfg.VectorStore.Type == "qdrant" {
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		q := cfg.VectorStore.Qdrant
		if q.URL == "" {
			q.URL = "http://localhost:6333"
		}
		if q.Collection == "" {
			q.Collection = "ragchat"
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 15
		}
	}
	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = 4
	}
	if cfg.Ingest.FetchTimeoutSecs == 0 {
		cfg.Ingest.FetchTimeoutSecs = 30
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 5
	}
	if cfg.Tokenizer.Model == "" {
		cfg.Tokenizer.Model = cfg.Chat.Model
	}
}

// Validate rejects settings that would make ingestion or retrieval fail.
// Errors wrap domain.ErrConfiguration.
func (c *AppConfig) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	if c.Chunker.ChunkSize <= 0 {
		bad("chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize)
	}
	if c.Chunker.ChunkOverlap < 0 {
		bad("chunker.chunk_overlap must not be negative, got %d", c.Chunker.ChunkOverlap)
	}
	if c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		bad("chunker.chunk_overlap (%d) must be smaller than chunk_size (%d)", c.Chunker.ChunkOverlap, c.Chunker.ChunkSize)
	}
	if c.Retrieval.TopK < 1 {
		bad("retrieval.top_k must be at least 1, got %d", c.Retrieval.TopK)
	}
	if t := c.Retrieval.ScoreThreshold; t != nil && (*t < -1 || *t > 1) {
		bad("retrieval.score_threshold must be within [-1, 1], got %g", *t)
	}
	if c.Memory.MaxHistoryTurns < 0 || c.Memory.MaxHistoryTokens < 0 || c.Memory.HistoryTokenBudget < 0 {
		bad("memory bounds must not be negative")
	}
	switch c.Embedder.Type {
	case "openai", "tfidf":
	default:
		bad("embedder.type must be openai or tfidf, got %q", c.Embedder.Type)
	}
	switch c.VectorStore.Type {
	case "memory", "qdrant":
	default:
		bad("vector_store.type must be memory or qdrant, got %q", c.VectorStore.Type)
	}
	if c.Ingest.Concurrency < 1 {
		bad("ingest.concurrency must be at least 1, got %d", c.Ingest.Concurrency)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
}
