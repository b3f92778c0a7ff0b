package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ragchat/internal/conversation"
	"ragchat/internal/domain"
	"ragchat/internal/retriever"
)

// Session is one conversation against a Pipeline. Questions within a session
// are answered one at a time; separate sessions never share history.
type Session struct {
	ID string

	mu     sync.Mutex
	memory *conversation.Memory
}

// History returns the retained turns, oldest first.
func (s *Session) History() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memory.Recent(0)
}

// Clear forgets the session's history.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory.Clear()
}

// NewSession starts a conversation with an empty history.
func (p *Pipeline) NewSession() (*Session, error) {
	if p.State() == StateClosed {
		return nil, domain.ErrPipelineClosed
	}
	return &Session{
		ID: uuid.NewString(),
		memory: conversation.New(conversation.Options{
			MaxTurns:  p.opts.MaxHistoryTurns,
			MaxTokens: p.opts.MaxHistoryTokens,
			Counter:   p.counter,
		}),
	}, nil
}

// Source is a passage an answer was grounded on.
type Source struct {
	ChunkID    string
	DocumentID string
	Source     string
	Score      float64
	Text       string
}

// Answer is the reply to one question. Grounded is false when retrieval
// returned no passages and the model answered without context.
type Answer struct {
	Text     string
	Sources  []Source
	Grounded bool
}

// Ask answers question within session and returns only the text.
func (p *Pipeline) Ask(ctx context.Context, session *Session, question string) (string, error) {
	a, err := p.Query(ctx, session, question)
	if err != nil {
		return "", err
	}
	return a.Text, nil
}

// Query retrieves passages, synthesizes an answer and records the turn.
// Nothing is recorded when any step fails or ctx is cancelled.
func (p *Pipeline) Query(ctx context.Context, session *Session, question string) (Answer, error) {
	if err := p.checkReady(); err != nil {
		return Answer{}, err
	}
	if session == nil {
		return Answer{}, fmt.Errorf("%w: nil session", domain.ErrConfiguration)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fmt.Errorf("%w: empty question", domain.ErrConfiguration)
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	start := time.Now()
	answer, err := p.answer(ctx, session, question)
	if err != nil {
		p.metrics.Query("error", time.Since(start), 0)
		p.logger.Warn("query failed",
			zap.String("session", session.ID),
			zap.Error(err))
		return Answer{}, err
	}
	p.metrics.Query("ok", time.Since(start), len(answer.Sources))
	p.logger.Info("answered question",
		zap.String("session", session.ID),
		zap.Int("sources", len(answer.Sources)),
		zap.Bool("grounded", answer.Grounded),
		zap.Duration("took", time.Since(start)))
	return answer, nil
}

func (p *Pipeline) answer(ctx context.Context, session *Session, question string) (Answer, error) {
	results, err := p.retriever.Retrieve(ctx, question, retriever.Options{
		K:              p.opts.TopK,
		ScoreThreshold: p.opts.ScoreThreshold,
	})
	if err != nil {
		if errors.Is(err, domain.ErrEmbedding) {
			p.metrics.GatewayError("embedding")
		}
		return Answer{}, err
	}

	text, err := p.synth.Synthesize(ctx, question, retriever.Chunks(results), session.memory.Recent(0))
	if err != nil {
		if errors.Is(err, domain.ErrGeneration) {
			p.metrics.GatewayError("chat")
		}
		return Answer{}, err
	}
	// a reply that raced with cancellation is discarded
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}
	// the pipeline may have been closed while generating
	if p.State() == StateClosed {
		return Answer{}, domain.ErrPipelineClosed
	}

	a := Answer{Text: text, Grounded: len(results) > 0}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Chunk.ID
		a.Sources = append(a.Sources, Source{
			ChunkID:    r.Chunk.ID,
			DocumentID: r.Chunk.DocumentID,
			Source:     r.Chunk.Source,
			Score:      r.Score,
			Text:       r.Chunk.Text,
		})
	}
	session.memory.Append(domain.Turn{Question: question, Answer: text, ChunkIDs: ids})
	return a, nil
}
