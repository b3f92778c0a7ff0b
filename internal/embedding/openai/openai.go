package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/domain"
	"ragchat/internal/gateway"
)

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
type Client struct {
	baseURL string
	model   string
	http    *gateway.Client
	logger  *zap.Logger

	mu        sync.RWMutex
	dimension int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL           string
	APIKeyEnv         string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute int
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrConfiguration, cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := gateway.NewClient(cfg.Timeout, cfg.RequestsPerMinute, logger)
	hc.Headers["Authorization"] = "Bearer " + key
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		http:    hc,
		logger:  logger.With(zap.String("component", "embedder"), zap.String("model", cfg.Model)),
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai" }

// Dimension returns the dimensionality of the produced vectors, known after the first call.
func (c *Client) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type embedRequest struct {
	Input any    `json:"input"`
	Model string `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	// Ollama-native shapes.
	Embedding  []float64   `json:"embedding"`
	Embeddings [][]float64 `json:"embeddings"`
}

// EmbedBatch embeds texts in one request. The result has one vector per input, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	payload, err := c.http.PostJSON(ctx, c.baseURL+"/embeddings", embedRequest{Input: input, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("%w: openai embeddings: %w", domain.ErrEmbedding, err)
	}

	var out embedResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: decode embeddings response: %w", domain.ErrEmbedding, err)
	}
	vecs, err := vectorsFrom(out, len(texts))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
	}
	if err := c.checkDimension(vecs); err != nil {
		return nil, err
	}
	c.logger.Debug("embedded batch", zap.Int("texts", len(texts)))
	return vecs, nil
}

func vectorsFrom(out embedResponse, want int) ([][]float64, error) {
	var vecs [][]float64
	switch {
	case len(out.Data) > 0:
		data := out.Data
		sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
		vecs = make([][]float64, len(data))
		for i, d := range data {
			vecs[i] = d.Embedding
		}
	case len(out.Embeddings) > 0:
		vecs = out.Embeddings
	case len(out.Embedding) > 0:
		vecs = [][]float64{out.Embedding}
	default:
		return nil, errors.New("no embedding returned")
	}
	if len(vecs) != want {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(vecs), want)
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, fmt.Errorf("empty embedding at position %d", i)
		}
	}
	return vecs, nil
}

func (c *Client) checkDimension(vecs [][]float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range vecs {
		if c.dimension == 0 {
			c.dimension = len(v)
		}
		if len(v) != c.dimension {
			return fmt.Errorf("%w: embedding dimension %d, expected %d", domain.ErrEmbedding, len(v), c.dimension)
		}
	}
	return nil
}
