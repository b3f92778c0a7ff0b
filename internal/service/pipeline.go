// Package service orchestrates ingestion and question answering.
package service

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"ragchat/internal/chunker"
	"ragchat/internal/conversation"
	"ragchat/internal/domain"
	"ragchat/internal/embedding"
	"ragchat/internal/metrics"
	"ragchat/internal/retriever"
	"ragchat/internal/synthesizer"
)

// State is the lifecycle position of a Pipeline.
type State int

const (
	StateUninitialized State = iota
	StateIngesting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIngesting:
		return "ingesting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options tunes a Pipeline. Start from DefaultOptions.
type Options struct {
	ChunkSize    int
	ChunkOverlap int

	TopK           int
	ScoreThreshold *float64

	// MaxHistoryTurns and MaxHistoryTokens bound each session; 0 disables a bound.
	MaxHistoryTurns    int
	MaxHistoryTokens   int
	HistoryTokenBudget int

	EmbedBatchSize      int
	Concurrency         int
	SummaryMaxSentences int
	Instructions        string
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		ChunkSize:           chunker.DefaultChunkSize,
		ChunkOverlap:        chunker.DefaultChunkOverlap,
		TopK:                retriever.DefaultK,
		MaxHistoryTurns:     conversation.DefaultMaxTurns,
		HistoryTokenBudget:  synthesizer.DefaultHistoryBudget,
		EmbedBatchSize:      embedding.DefaultBatchSize,
		Concurrency:         4,
		SummaryMaxSentences: 5,
	}
}

// Dependencies are the collaborators a Pipeline drives. Chunker, Summarizer,
// Counter, Metrics and Logger are optional.
type Dependencies struct {
	Loader     domain.SourceLoader
	Chunker    domain.Chunker
	Embedder   domain.Embedder
	Index      domain.VectorIndex
	Chat       domain.ChatModel
	Summarizer domain.Summarizer
	Counter    domain.TokenCounter
	Metrics    *metrics.Collector
	Logger     *zap.Logger
}

type corpusDoc struct {
	doc    domain.Document
	chunks []domain.Chunk
}

// Pipeline owns the index and gateways of one corpus. Conversation state
// lives in Sessions, so any number of sessions can query concurrently.
type Pipeline struct {
	loader     domain.SourceLoader
	chunker    domain.Chunker
	embedder   domain.Embedder
	index      domain.VectorIndex
	retriever  *retriever.Retriever
	synth      *synthesizer.Synthesizer
	summarizer domain.Summarizer
	counter    domain.TokenCounter
	metrics    *metrics.Collector
	logger     *zap.Logger
	opts       Options

	mu       sync.RWMutex
	state    State
	overview string

	// ingestMu serializes Ingest; corpus and order are only touched under it.
	ingestMu sync.Mutex
	corpus   map[string]corpusDoc
	order    []string
}

// New validates opts and wires the pipeline. Invalid chunking or retrieval
// parameters fail with domain.ErrConfiguration before any work starts.
func New(deps Dependencies, opts Options) (*Pipeline, error) {
	var missing []string
	if deps.Loader == nil {
		missing = append(missing, "loader")
	}
	if deps.Embedder == nil {
		missing = append(missing, "embedder")
	}
	if deps.Index == nil {
		missing = append(missing, "index")
	}
	if deps.Chat == nil {
		missing = append(missing, "chat model")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", domain.ErrConfiguration, strings.Join(missing, ", "))
	}
	if opts.TopK < 1 {
		return nil, fmt.Errorf("%w: top_k must be at least 1, got %d", domain.ErrConfiguration, opts.TopK)
	}
	if opts.MaxHistoryTurns < 0 || opts.MaxHistoryTokens < 0 {
		return nil, fmt.Errorf("%w: history bounds must not be negative", domain.ErrConfiguration)
	}
	if deps.Chunker == nil {
		c, err := chunker.New(opts.ChunkSize, opts.ChunkOverlap)
		if err != nil {
			return nil, err
		}
		deps.Chunker = c
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	logger := deps.Logger.With(zap.String("component", "pipeline"))

	return &Pipeline{
		loader:     deps.Loader,
		chunker:    deps.Chunker,
		embedder:   deps.Embedder,
		index:      deps.Index,
		retriever:  retriever.New(deps.Embedder, deps.Index, deps.Logger),
		synth:      synthesizer.New(deps.Chat, deps.Counter, synthesizer.Config{Instructions: opts.Instructions, HistoryBudget: opts.HistoryTokenBudget}, deps.Logger),
		summarizer: deps.Summarizer,
		counter:    deps.Counter,
		metrics:    deps.Metrics,
		logger:     logger,
		opts:       opts,
		corpus:     make(map[string]corpusDoc),
	}, nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Overview returns the extractive summary of the ingested corpus.
func (p *Pipeline) Overview() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.overview
}

// Close moves the pipeline to its terminal state. It is idempotent.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateClosed {
		p.logger.Info("pipeline closed")
	}
	p.state = StateClosed
	return nil
}

// checkReady reports why queries cannot run, if they cannot.
func (p *Pipeline) checkReady() error {
	switch p.State() {
	case StateReady:
		return nil
	case StateClosed:
		return domain.ErrPipelineClosed
	default:
		return domain.ErrPipelineNotReady
	}
}
