package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStageErrorNil(t *testing.T) {
	assert.NoError(t, NewStageError(StageEmbed, "doc.txt", nil))
}

func TestStageErrorMessage(t *testing.T) {
	err := NewStageError(StageLoad, "notes.md", ErrDocumentLoad)
	assert.Equal(t, "load notes.md: document load failed", err.Error())

	err = NewStageError(StageGenerate, "", ErrGeneration)
	assert.Equal(t, "generate: generation failed", err.Error())
}

func TestStageErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("%w: status 429", ErrEmbedding)
	err := fmt.Errorf("ingest: %w", NewStageError(StageEmbed, "a.txt", cause))

	assert.ErrorIs(t, err, ErrEmbedding)
	assert.NotErrorIs(t, err, ErrGeneration)

	var se *StageError
	if assert.ErrorAs(t, err, &se) {
		assert.Equal(t, StageEmbed, se.Stage)
		assert.Equal(t, "a.txt", se.Source)
	}
}

func TestStageErrorKeepsContextErrors(t *testing.T) {
	err := NewStageError(StageRetrieve, "", context.Canceled)
	assert.True(t, errors.Is(err, context.Canceled))
}
