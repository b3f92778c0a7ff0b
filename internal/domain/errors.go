package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy of the engine. Callers match with errors.Is.
var (
	// ErrConfiguration indicates invalid chunking or retrieval parameters.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrDocumentLoad indicates a single source could not be loaded.
	// Ingestion skips the source and continues.
	ErrDocumentLoad = errors.New("document load failed")

	// ErrEmptyCorpus indicates no source produced a usable chunk.
	ErrEmptyCorpus = errors.New("empty corpus")

	// ErrEmbedding indicates the embedding gateway failed.
	ErrEmbedding = errors.New("embedding failed")

	// ErrGeneration indicates the chat gateway failed.
	ErrGeneration = errors.New("generation failed")

	// ErrIndexNotReady indicates a query against an empty vector index.
	ErrIndexNotReady = errors.New("vector index not ready")

	// ErrPipelineNotReady indicates a query before ingestion completed.
	ErrPipelineNotReady = errors.New("pipeline not ready")

	// ErrPipelineClosed indicates an operation after the pipeline was closed.
	ErrPipelineClosed = errors.New("pipeline closed")
)

// Stage names used in StageError.
const (
	StageLoad     = "load"
	StageChunk    = "chunk"
	StageEmbed    = "embed"
	StageIndex    = "index"
	StageRetrieve = "retrieve"
	StageGenerate = "generate"
)

// StageError attaches the failing stage and source identifier to an error.
type StageError struct {
	Stage  string
	Source string
	Err    error
}

func (e *StageError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Source, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps err with stage and source context. A nil err yields nil.
func NewStageError(stage, source string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Source: source, Err: err}
}
