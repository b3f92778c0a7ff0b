package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"ragchat/internal/domain"
	"ragchat/internal/vectorstore"
)

func mkEntry(id, doc string, vec ...float64) domain.IndexEntry {
	return domain.IndexEntry{
		ChunkID:  id,
		Vector:   vec,
		Metadata: domain.EntryMetadata{DocumentID: doc, Source: "src-" + doc},
		Chunk:    domain.Chunk{ID: id, DocumentID: doc, Text: "text of " + id},
	}
}

func ids(results []domain.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.ID
	}
	return out
}

func TestQueryBeforeAddIsNotReady(t *testing.T) {
	s := NewStorage()
	_, err := s.Query(context.Background(), []float64{1, 0}, 3)
	assert.ErrorIs(t, err, domain.ErrIndexNotReady)
}

func TestQueryRejectsNonPositiveK(t *testing.T) {
	s := NewStorage()
	require.NoError(t, s.Add(context.Background(), []domain.IndexEntry{mkEntry("a", "d", 1, 0)}))
	_, err := s.Query(context.Background(), []float64{1, 0}, 0)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestQueryOrdersByDescendingCosine(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Add(ctx, []domain.IndexEntry{
		mkEntry("far", "d", 0, 1),
		mkEntry("near", "d", 1, 0.1),
		mkEntry("mid", "d", 1, 1),
		mkEntry("opposite", "d", -1, 0),
		mkEntry("close", "d", 2, 0.5),
	}))

	res, err := s.Query(ctx, []float64{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "close", "mid"}, ids(res))
	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
	}
	assert.InDelta(t, 0.995, res[0].Score, 0.001)
}

func TestQueryKLargerThanIndexReturnsAll(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Add(ctx, []domain.IndexEntry{mkEntry("a", "d", 1, 0), mkEntry("b", "d", 0, 1)}))
	res, err := s.Query(ctx, []float64{1, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestQueryTiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Add(ctx, []domain.IndexEntry{mkEntry("first", "d", 1, 0)}))
	require.NoError(t, s.Add(ctx, []domain.IndexEntry{mkEntry("second", "d", 2, 0), mkEntry("third", "d", 3, 0)}))
	res, err := s.Query(ctx, []float64{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, ids(res))
}

func TestAddIsIdempotentOnChunkID(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Add(ctx, []domain.IndexEntry{mkEntry("a", "d", 1, 0), mkEntry("b", "d", 0, 1)}))

	replacement := mkEntry("a", "d2", 0, 1)
	replacement.Chunk.Text = "updated"
	require.NoError(t, s.Add(ctx, []domain.IndexEntry{replacement}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err := s.Query(ctx, []float64{0, 1}, 2)
	require.NoError(t, err)
	// both now score 1.0; "a" was inserted first and keeps its rank
	assert.Equal(t, []string{"a", "b"}, ids(res))
	assert.Equal(t, "updated", res[0].Chunk.Text)
	assert.Equal(t, []float64{0, 1}, res[0].Chunk.Embedding)
}

func TestAddRejectsDimensionMismatchAtomically(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Add(ctx, []domain.IndexEntry{mkEntry("a", "d", 1, 0)}))

	err := s.Add(ctx, []domain.IndexEntry{mkEntry("b", "d", 1, 0), mkEntry("c", "d", 1, 0, 0)})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
	n, _ := s.Count(ctx)
	assert.Equal(t, 1, n, "a rejected batch must not be partially visible")

	_, err = s.Query(ctx, []float64{1, 0, 0}, 1)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Add(ctx, []domain.IndexEntry{
		mkEntry("a:0", "a", 1, 0),
		mkEntry("b:0", "b", 1, 0),
		mkEntry("a:1", "a", 0, 1),
	}))
	require.NoError(t, s.DeleteDocument(ctx, "a"))

	res, err := s.Query(ctx, []float64{1, 1}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"b:0"}, ids(res))

	// re-adding after delete must not resurrect stale slots
	require.NoError(t, s.Add(ctx, []domain.IndexEntry{mkEntry("a:0", "a", 0, 1)}))
	n, _ := s.Count(ctx)
	assert.Equal(t, 2, n)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Add(ctx, []domain.IndexEntry{mkEntry("a", "d", 1, 0)}))
	require.NoError(t, s.Clear(ctx))
	_, err := s.Query(ctx, []float64{1, 0}, 1)
	assert.ErrorIs(t, err, domain.ErrIndexNotReady)
	// dimensionality is forgotten
	require.NoError(t, s.Add(ctx, []domain.IndexEntry{mkEntry("a", "d", 1, 0, 0)}))
}

func TestConcurrentAddAndQuery(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Add(ctx, []domain.IndexEntry{mkEntry("seed", "d", 1, 1)}))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				assert.NoError(t, s.Add(ctx, []domain.IndexEntry{mkEntry(id, "d", float64(w), float64(i))}))
				_, err := s.Query(ctx, []float64{1, 0}, 3)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8*50+1, n)
}

func TestAddIdempotenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		s := NewStorage()
		n := rapid.IntRange(1, 20).Draw(t, "n")
		latest := map[string][]float64{}
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("c%d", rapid.IntRange(0, 5).Draw(t, "id"))
			vec := []float64{
				rapid.Float64Range(-1, 1).Draw(t, "x"),
				rapid.Float64Range(-1, 1).Draw(t, "y"),
			}
			if err := s.Add(ctx, []domain.IndexEntry{mkEntry(id, "d", vec...)}); err != nil {
				t.Fatalf("add: %v", err)
			}
			latest[id] = vec
		}
		count, _ := s.Count(ctx)
		if count != len(latest) {
			t.Fatalf("count %d, distinct ids %d", count, len(latest))
		}
		res, err := s.Query(ctx, []float64{1, 0}, 100)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		for _, r := range res {
			want := latest[r.Chunk.ID]
			if r.Chunk.Embedding[0] != want[0] || r.Chunk.Embedding[1] != want[1] {
				t.Fatalf("entry %s holds %v, latest write was %v", r.Chunk.ID, r.Chunk.Embedding, want)
			}
		}
	})
}
