// Package synthesizer turns retrieved passages and conversation history into
// a grounded prompt and asks the chat model to answer it.
package synthesizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ragchat/internal/domain"
	"ragchat/internal/tokenizer"
)

const (
	// ContextDelimiter separates passages in the context block.
	ContextDelimiter = "\n\n---\n\n"

	// DefaultInstructions open every prompt unless overridden.
	DefaultInstructions = "You are a helpful assistant answering questions about a document collection. " +
		"Use the context passages below to answer. If the context does not contain the answer, say that you don't know."

	// NoContextNote replaces the context block when retrieval found nothing.
	NoContextNote = "No relevant context was found in the documents for this question. " +
		"Answer only if you can do so without it, and state that the answer is not grounded in the documents."

	// DefaultHistoryBudget is the token budget for rendered history.
	DefaultHistoryBudget = 1500
)

// Config tunes prompt construction.
type Config struct {
	Instructions string
	// HistoryBudget caps the tokens spent on prior turns; <= 0 disables the cap.
	HistoryBudget int
}

// Synthesizer builds prompts and delegates generation to a chat model.
type Synthesizer struct {
	chat    domain.ChatModel
	counter domain.TokenCounter
	cfg     Config
	logger  *zap.Logger
}

// New creates a synthesizer. A nil counter falls back to tokenizer.Estimate.
func New(chat domain.ChatModel, counter domain.TokenCounter, cfg Config, logger *zap.Logger) *Synthesizer {
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{chat: chat, counter: counter, cfg: cfg, logger: logger}
}

// Synthesize answers question from chunks and history. An empty chunk list is
// not an error: the prompt says that no grounding context was found.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, chunks []domain.Chunk, history []domain.Turn) (string, error) {
	prompt := s.BuildPrompt(question, chunks, history)
	if ce := s.logger.Check(zap.DebugLevel, "generating answer"); ce != nil {
		ce.Write(
			zap.Int("chunks", len(chunks)),
			zap.Int("history", len(history)),
			zap.Int("prompt_tokens", s.count(prompt)))
	}

	answer, err := s.chat.Generate(ctx, prompt)
	if err != nil {
		if !errors.Is(err, domain.ErrGeneration) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", domain.ErrGeneration, err)
		}
		return "", domain.NewStageError(domain.StageGenerate, "", err)
	}
	return strings.TrimSpace(answer), nil
}

// BuildPrompt renders instructions, context, history and the question.
func (s *Synthesizer) BuildPrompt(question string, chunks []domain.Chunk, history []domain.Turn) string {
	var b strings.Builder
	b.WriteString(s.cfg.Instructions)
	b.WriteString("\n\n")

	if len(chunks) == 0 {
		b.WriteString(NoContextNote)
	} else {
		b.WriteString("Context:\n")
		for i, c := range chunks {
			if i > 0 {
				b.WriteString(ContextDelimiter)
			}
			if c.Source != "" {
				fmt.Fprintf(&b, "[%d] (source: %s)\n", i+1, c.Source)
			} else {
				fmt.Fprintf(&b, "[%d]\n", i+1)
			}
			b.WriteString(strings.TrimSpace(c.Text))
		}
	}
	b.WriteString("\n\n")

	if lines := s.renderHistory(history); len(lines) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, l := range lines {
			b.WriteString(l)
		}
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\nAnswer:")
	return b.String()
}

// renderHistory renders turns oldest first, dropping the oldest ones until
// the rest fit the history budget.
func (s *Synthesizer) renderHistory(history []domain.Turn) []string {
	rendered := make([]string, 0, len(history))
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		line := fmt.Sprintf("User: %s\nAssistant: %s\n", t.Question, t.Answer)
		cost := s.count(line)
		if s.cfg.HistoryBudget > 0 && used+cost > s.cfg.HistoryBudget {
			s.logger.Debug("history truncated", zap.Int("dropped_turns", i+1))
			break
		}
		used += cost
		rendered = append(rendered, line)
	}
	for i, j := 0, len(rendered)-1; i < j; i, j = i+1, j-1 {
		rendered[i], rendered[j] = rendered[j], rendered[i]
	}
	return rendered
}

func (s *Synthesizer) count(text string) int {
	if s.counter != nil {
		return s.counter.CountTokens(text)
	}
	return tokenizer.Estimate(text)
}
