// Package openai is a chat completions client for OpenAI-compatible APIs.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/domain"
	"ragchat/internal/gateway"
)

// Config configures the chat client.
type Config struct {
	BaseURL           string
	APIKeyEnv         string
	Model             string
	Temperature       float64
	MaxTokens         int
	SystemPrompt      string
	Timeout           time.Duration
	RequestsPerMinute int
}

// Client implements domain.ChatModel over /chat/completions.
type Client struct {
	baseURL string
	cfg     Config
	http    *gateway.Client
	logger  *zap.Logger
}

// NewClient creates a chat client. The API key is read from cfg.APIKeyEnv.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrConfiguration, cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-3.5-turbo"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := gateway.NewClient(cfg.Timeout, cfg.RequestsPerMinute, logger)
	hc.Headers["Authorization"] = "Bearer " + key
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cfg:     cfg,
		http:    hc,
		logger:  logger.With(zap.String("component", "chat"), zap.String("model", cfg.Model)),
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// Generate sends prompt as a single user message and returns the reply text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	msgs := make([]message, 0, 2)
	if c.cfg.SystemPrompt != "" {
		msgs = append(msgs, message{Role: "system", Content: c.cfg.SystemPrompt})
	}
	msgs = append(msgs, message{Role: "user", Content: prompt})

	start := time.Now()
	payload, err := c.http.PostJSON(ctx, c.baseURL+"/chat/completions", completionRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: chat completions: %w", domain.ErrGeneration, err)
	}

	var out completionResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("%w: decode chat response: %w", domain.ErrGeneration, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", domain.ErrGeneration)
	}
	choice := out.Choices[0]
	c.logger.Debug("chat completion",
		zap.Duration("latency", time.Since(start)),
		zap.String("finish_reason", choice.FinishReason))
	return choice.Message.Content, nil
}
