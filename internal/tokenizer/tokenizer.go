// Package tokenizer counts model tokens for prompt and history budgets.
package tokenizer

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// modelEncodings maps chat and embedding model names to their tiktoken encoding.
var modelEncodings = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4o-mini":            "o200k_base",
	"gpt-4-turbo":            "cl100k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
}

// EncodingFor returns the encoding for model, matching by prefix and
// defaulting to cl100k_base.
func EncodingFor(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	best := ""
	for prefix := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return modelEncodings[best]
	}
	return "cl100k_base"
}

// Counter counts tokens with tiktoken. The encoding is loaded on first use
// (tiktoken may download its ranks); if that fails the counter falls back to
// a character-based estimate and keeps working.
type Counter struct {
	encoding string
	logger   *zap.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// New creates a counter for the given model name.
func New(model string, logger *zap.Logger) *Counter {
	return NewWithEncoding(EncodingFor(model), logger)
}

// NewWithEncoding creates a counter for an explicit tiktoken encoding.
func NewWithEncoding(encoding string, logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Counter{encoding: encoding, logger: logger}
}

func (c *Counter) init() {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.logger.Warn("tiktoken unavailable, estimating token counts",
				zap.String("encoding", c.encoding), zap.Error(err))
			return
		}
		c.enc = enc
	})
}

// CountTokens implements domain.TokenCounter.
func (c *Counter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	c.init()
	if c.enc == nil {
		return Estimate(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Estimate approximates a token count: ~4 characters per token for
// alphabetic scripts and ~1.5 for CJK. Non-empty text counts at least 1.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}
	n := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if n == 0 {
		n = 1
	}
	return n
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x3040 && r <= 0x30FF) ||
		(r >= 0xAC00 && r <= 0xD7AF)
}
