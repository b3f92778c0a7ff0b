// Package vectorstore holds the vector index implementations and the
// validation and scoring helpers they share.
package vectorstore

import (
	"errors"
	"fmt"
	"math"

	"ragchat/internal/domain"
)

// ErrDimensionMismatch is returned when a vector does not match the index dimensionality.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// ValidateEntries checks a batch before any of it is written. dimension is the
// dimensionality already held by the index, 0 if none. It returns the batch dimension.
func ValidateEntries(entries []domain.IndexEntry, dimension int) (int, error) {
	for i, e := range entries {
		if e.ChunkID == "" {
			return 0, fmt.Errorf("entry %d: empty chunk id", i)
		}
		if len(e.Vector) == 0 {
			return 0, fmt.Errorf("entry %s: empty vector", e.ChunkID)
		}
		if dimension == 0 {
			dimension = len(e.Vector)
		}
		if len(e.Vector) != dimension {
			return 0, fmt.Errorf("%w: entry %s has %d, index has %d", ErrDimensionMismatch, e.ChunkID, len(e.Vector), dimension)
		}
	}
	return dimension, nil
}

// ValidateK rejects non-positive result counts.
func ValidateK(k int) error {
	if k < 1 {
		return fmt.Errorf("%w: k must be at least 1, got %d", domain.ErrConfiguration, k)
	}
	return nil
}

// Norm returns the Euclidean norm of v.
func Norm(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b given their norms.
// A zero vector is dissimilar to everything.
func Cosine(a, b []float64, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	n := min(len(a), len(b))
	dot := 0.0
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	return dot / (normA * normB)
}
