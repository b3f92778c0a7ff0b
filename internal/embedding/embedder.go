package embedding

import (
	"context"
	"fmt"

	"ragchat/internal/domain"
)

// DefaultBatchSize is used when the caller passes a non-positive batch size.
const DefaultBatchSize = 32

// EmbedAll embeds texts in batches of batchSize and returns one vector per
// text, in input order. All vectors must share one dimensionality.
func EmbedAll(ctx context.Context, e domain.Embedder, texts []string, batchSize int) ([][]float64, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	out := make([][]float64, 0, len(texts))
	dim := 0
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		vecs, err := e.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts", domain.ErrEmbedding, e.Name(), len(vecs), end-start)
		}
		for _, v := range vecs {
			if dim == 0 {
				dim = len(v)
			}
			if len(v) == 0 || len(v) != dim {
				return nil, fmt.Errorf("%w: %s returned a vector of dimension %d, expected %d", domain.ErrEmbedding, e.Name(), len(v), dim)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}
