package domain

import (
	"context"
	"time"
)

// Document represents a single source loaded into the system.
type Document struct {
	ID        string
	Source    string
	Content   string
	FetchedAt time.Time
}

// Chunk is a contiguous span of a document used for indexing.
// Start and End are byte offsets into the owning document's content.
type Chunk struct {
	ID         string
	DocumentID string
	Source     string
	Index      int
	Text       string
	Start      int
	End        int
	Embedding  []float64
}

// EntryMetadata describes where an indexed vector came from.
type EntryMetadata struct {
	DocumentID string
	Source     string
}

// IndexEntry is a chunk vector stored in a vector index. ChunkID is the unique key.
type IndexEntry struct {
	ChunkID  string
	Vector   []float64
	Metadata EntryMetadata
	Chunk    Chunk
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Turn is one question/answer exchange within a session.
type Turn struct {
	Index     int
	Question  string
	Answer    string
	ChunkIDs  []string
	Timestamp time.Time
}

// Embedder converts free text into a numeric vector representation.
// EmbedBatch returns exactly one vector per input, in input order.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// Preparer is implemented by embedders that must see the whole corpus
// before they can embed anything (e.g. TF-IDF).
type Preparer interface {
	Prepare(corpus []string) error
}

// ChatModel generates a completion for a fully rendered prompt.
type ChatModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// VectorIndex stores chunk vectors and answers nearest-neighbour queries.
type VectorIndex interface {
	Add(ctx context.Context, entries []IndexEntry) error
	Query(ctx context.Context, vector []float64, k int) ([]SearchResult, error)
	DeleteDocument(ctx context.Context, documentID string) error
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// TokenCounter estimates how many model tokens a text occupies.
type TokenCounter interface {
	CountTokens(text string) int
}

// SourceLoader fetches the raw text behind a source identifier.
type SourceLoader interface {
	Load(ctx context.Context, source string) (Document, error)
}
