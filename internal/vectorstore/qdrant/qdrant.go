package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragchat/internal/domain"
	"ragchat/internal/vectorstore"
)

// Storage is a minimal REST client to Qdrant implementing domain.VectorIndex.
// It uses cosine distance and creates the collection on the first Add.
// Point ids are UUIDv5 of the chunk id, so re-adding a chunk overwrites it.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	mu        sync.Mutex
	dimension int
}

// Config contains connection details for a Qdrant collection.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// NewStorage creates a client; no request is made until first use.
func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// PointID maps a chunk id to its Qdrant point id.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Add upserts entries, creating the collection when it does not exist yet.
func (s *Storage) Add(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	dim, err := vectorstore.ValidateEntries(entries, s.dimension)
	if err == nil && s.dimension == 0 {
		err = s.ensureCollection(ctx, dim)
		if err == nil {
			s.dimension = dim
		}
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	points := make([]point, len(entries))
	for i, e := range entries {
		points[i] = point{
			ID:     PointID(e.ChunkID),
			Vector: e.Vector,
			Payload: map[string]any{
				"chunk_id":    e.ChunkID,
				"document_id": e.Metadata.DocumentID,
				"source":      e.Metadata.Source,
				"index":       e.Chunk.Index,
				"start":       e.Chunk.Start,
				"end":         e.Chunk.End,
				"text":        e.Chunk.Text,
			},
		}
	}
	return s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), map[string]any{"points": points}, nil)
}

// ensureCollection creates the collection unless it already exists.
func (s *Storage) ensureCollection(ctx context.Context, dimension int) error {
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, &info)
	if err == nil {
		if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != dimension {
			return fmt.Errorf("%w: collection %s has %d, entries have %d", vectorstore.ErrDimensionMismatch, s.collection, size, dimension)
		}
		return nil
	}
	if !isNotFound(err) {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	return s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil)
}

// Query searches the collection for the k nearest entries.
func (s *Storage) Query(ctx context.Context, vector []float64, k int) ([]domain.SearchResult, error) {
	if err := vectorstore.ValidateK(k); err != nil {
		return nil, err
	}
	n, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, domain.ErrIndexNotReady
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, domain.SearchResult{Chunk: chunkFromPayload(r.Payload), Score: r.Score})
	}
	return results, nil
}

func chunkFromPayload(p map[string]any) domain.Chunk {
	var c domain.Chunk
	c.ID, _ = p["chunk_id"].(string)
	c.DocumentID, _ = p["document_id"].(string)
	c.Source, _ = p["source"].(string)
	c.Text, _ = p["text"].(string)
	if v, ok := p["index"].(float64); ok {
		c.Index = int(v)
	}
	if v, ok := p["start"].(float64); ok {
		c.Start = int(v)
	}
	if v, ok := p["end"].(float64); ok {
		c.End = int(v)
	}
	return c
}

// DeleteDocument removes every point whose payload belongs to documentID.
func (s *Storage) DeleteDocument(ctx context.Context, documentID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "document_id", "match": map[string]any{"value": documentID}},
			},
		},
	}
	err := s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// Count returns the number of points; a missing collection counts as empty.
func (s *Storage) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodPost, s.collectionURL("/points/count"), map[string]any{"exact": true}, &resp)
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Clear drops the collection. It is recreated on the next Add.
func (s *Storage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.do(ctx, http.MethodDelete, s.collectionURL(""), nil, nil)
	if err != nil && !isNotFound(err) {
		return err
	}
	s.dimension = 0
	return nil
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

type statusError struct {
	method, url string
	code        int
	status      string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %s", e.method, e.url, e.status)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.code == http.StatusNotFound
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &statusError{method: method, url: url, code: resp.StatusCode, status: resp.Status}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
