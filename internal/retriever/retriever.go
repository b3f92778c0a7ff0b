// Package retriever selects the passages that ground an answer.
package retriever

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ragchat/internal/domain"
)

// DefaultK is the number of passages retrieved when Options.K is zero.
const DefaultK = 3

// Options controls a single retrieval.
type Options struct {
	K int
	// ScoreThreshold drops candidates scoring below it. Nil disables filtering.
	// Filtering runs after top-k, so fewer than K results (or none) is valid.
	ScoreThreshold *float64
}

// Retriever embeds questions and ranks indexed chunks against them.
type Retriever struct {
	embedder domain.Embedder
	index    domain.VectorIndex
	logger   *zap.Logger
}

// New creates a retriever over the given embedder and index.
func New(embedder domain.Embedder, index domain.VectorIndex, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{embedder: embedder, index: index, logger: logger}
}

// Retrieve returns up to opts.K results ordered by descending score. It
// returns no results when no candidate scores above zero.
func (r *Retriever) Retrieve(ctx context.Context, question string, opts Options) ([]domain.SearchResult, error) {
	k := opts.K
	if k == 0 {
		k = DefaultK
	}
	if k < 0 {
		return nil, fmt.Errorf("%w: top_k must be at least 1, got %d", domain.ErrConfiguration, k)
	}

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, domain.NewStageError(domain.StageEmbed, "question", err)
	}
	candidates, err := r.index.Query(ctx, vec, k)
	if err != nil {
		return nil, domain.NewStageError(domain.StageRetrieve, "", err)
	}
	// Candidates are ordered by descending score. When even the best one shares
	// nothing with the question (a zero query vector scores 0 everywhere), the
	// ranking is arbitrary and grounds nothing.
	if len(candidates) > 0 && candidates[0].Score <= 0 {
		r.logger.Debug("no candidate is similar to the question", zap.Int("candidates", len(candidates)))
		return nil, nil
	}
	if opts.ScoreThreshold == nil {
		return candidates, nil
	}

	kept := candidates[:0:0]
	for _, c := range candidates {
		if c.Score >= *opts.ScoreThreshold {
			kept = append(kept, c)
		}
	}
	if len(kept) < len(candidates) {
		r.logger.Debug("dropped candidates below score threshold",
			zap.Int("candidates", len(candidates)),
			zap.Int("kept", len(kept)),
			zap.Float64("threshold", *opts.ScoreThreshold))
	}
	return kept, nil
}

// Chunks strips scores from results, keeping order.
func Chunks(results []domain.SearchResult) []domain.Chunk {
	out := make([]domain.Chunk, len(results))
	for i, r := range results {
		out[i] = r.Chunk
	}
	return out
}
