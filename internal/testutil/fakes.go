// Package testutil provides deterministic gateway fakes for tests.
package testutil

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"ragchat/internal/domain"
)

// KeywordEmbedder maps text to a normalized bag-of-keywords vector, one
// dimension per keyword. Lookups are case-insensitive substring counts.
type KeywordEmbedder struct {
	Keywords []string
	// Err, when set, is returned by every call.
	Err error

	mu      sync.Mutex
	batches []int
}

// NewKeywordEmbedder creates an embedder over the given keywords.
func NewKeywordEmbedder(keywords ...string) *KeywordEmbedder {
	return &KeywordEmbedder{Keywords: keywords}
}

func (e *KeywordEmbedder) Name() string   { return "keyword" }
func (e *KeywordEmbedder) Dimension() int { return len(e.Keywords) }

func (e *KeywordEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *KeywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.batches = append(e.batches, len(texts))
	e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		vec := make([]float64, len(e.Keywords))
		norm := 0.0
		for j, kw := range e.Keywords {
			vec[j] = float64(strings.Count(lower, strings.ToLower(kw)))
			norm += vec[j] * vec[j]
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for j := range vec {
				vec[j] /= norm
			}
		}
		out[i] = vec
	}
	return out, nil
}

// Batches returns the size of every batch received so far.
func (e *KeywordEmbedder) Batches() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.batches...)
}

// StaticEmbedder returns fixed vectors per text and fails on unknown text.
type StaticEmbedder struct {
	Vectors map[string][]float64
}

func (e StaticEmbedder) Name() string { return "static" }

func (e StaticEmbedder) Dimension() int {
	for _, v := range e.Vectors {
		return len(v)
	}
	return 0
}

func (e StaticEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	v, ok := e.Vectors[text]
	if !ok {
		return nil, fmt.Errorf("%w: no vector for %q", domain.ErrEmbedding, text)
	}
	return v, nil
}

func (e StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Chat is a scripted chat model that records every prompt it receives.
type Chat struct {
	// Reply builds the answer; when nil the answer echoes the prompt length.
	Reply func(prompt string) string
	Err   error
	// Delay makes Generate wait before answering, honouring ctx cancellation.
	Delay time.Duration

	mu      sync.Mutex
	prompts []string
}

func (c *Chat) Generate(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()

	if c.Delay > 0 {
		t := time.NewTimer(c.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	if c.Err != nil {
		return "", c.Err
	}
	if c.Reply != nil {
		return c.Reply(prompt), nil
	}
	return fmt.Sprintf("answer (%d prompt chars)", len(prompt)), nil
}

// Prompts returns every prompt received so far.
func (c *Chat) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

// LastPrompt returns the most recent prompt, or "" if none.
func (c *Chat) LastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.prompts) == 0 {
		return ""
	}
	return c.prompts[len(c.prompts)-1]
}

// Loader serves documents from memory. Sources missing from Docs fail to load.
type Loader struct {
	Docs map[string]string
}

func (l Loader) Load(ctx context.Context, source string) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}
	content, ok := l.Docs[source]
	if !ok {
		return domain.Document{}, fmt.Errorf("%w: %s not found", domain.ErrDocumentLoad, source)
	}
	return domain.Document{ID: source, Source: source, Content: content, FetchedAt: time.Now()}, nil
}
