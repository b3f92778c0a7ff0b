package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ragchat/internal/domain"
	"ragchat/internal/vectorstore"
)

type entry struct {
	domain.IndexEntry
	norm float64
}

// Storage is an in-memory vector index using brute-force cosine similarity.
// Entries are keyed by chunk id; ties in score go to the entry inserted first.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	entries   []entry
	positions map[string]int
}

// NewStorage creates an empty index.
func NewStorage() *Storage {
	return &Storage{positions: make(map[string]int)}
}

// Add upserts entries by chunk id. The whole batch is validated before any of
// it becomes visible. A replaced entry keeps its original insertion rank.
func (s *Storage) Add(_ context.Context, entries []domain.IndexEntry) error {
	prepared := make([]entry, len(entries))
	for i, e := range entries {
		vec := append([]float64(nil), e.Vector...)
		e.Vector = vec
		e.Chunk.Embedding = vec
		prepared[i] = entry{IndexEntry: e, norm: vectorstore.Norm(vec)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dim, err := vectorstore.ValidateEntries(entries, s.dimension)
	if err != nil {
		return err
	}
	s.dimension = dim
	for _, e := range prepared {
		if pos, ok := s.positions[e.ChunkID]; ok {
			s.entries[pos] = e
			continue
		}
		s.positions[e.ChunkID] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	return nil
}

// Query returns up to k entries ordered by descending cosine similarity.
func (s *Storage) Query(_ context.Context, vector []float64, k int) ([]domain.SearchResult, error) {
	if err := vectorstore.ValidateK(k); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, domain.ErrIndexNotReady
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", vectorstore.ErrDimensionMismatch, len(vector), s.dimension)
	}

	qnorm := vectorstore.Norm(vector)
	scores := make([]float64, len(s.entries))
	idxs := make([]int, len(s.entries))
	for i := range s.entries {
		scores[i] = vectorstore.Cosine(s.entries[i].Vector, vector, s.entries[i].norm, qnorm)
		idxs[i] = i
	}
	// stable: equal scores keep insertion order
	sort.SliceStable(idxs, func(a, b int) bool { return scores[idxs[a]] > scores[idxs[b]] })

	k = min(k, len(idxs))
	results := make([]domain.SearchResult, 0, k)
	for _, j := range idxs[:k] {
		results = append(results, domain.SearchResult{Chunk: s.entries[j].Chunk, Score: scores[j]})
	}
	return results, nil
}

// DeleteDocument removes every entry belonging to documentID.
func (s *Storage) DeleteDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.Metadata.DocumentID != documentID {
			kept = append(kept, e)
		}
	}
	clear(s.entries[len(kept):])
	s.entries = kept
	s.positions = make(map[string]int, len(kept))
	for i, e := range kept {
		s.positions[e.ChunkID] = i
	}
	if len(kept) == 0 {
		s.dimension = 0
	}
	return nil
}

// Count returns the number of stored entries.
func (s *Storage) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Clear drops every entry and forgets the dimensionality.
func (s *Storage) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.positions = make(map[string]int)
	s.dimension = 0
	return nil
}
