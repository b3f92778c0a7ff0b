package synthesizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
	"ragchat/internal/testutil"
)

type wordCounter struct{}

func (wordCounter) CountTokens(s string) int { return len(strings.Fields(s)) }

func TestPromptOrdersContextThenHistoryThenQuestion(t *testing.T) {
	s := New(&testutil.Chat{}, wordCounter{}, Config{}, nil)
	chunks := []domain.Chunk{
		{ID: "d:0", Source: "https://docs/a", Text: "first passage"},
		{ID: "d:1", Source: "https://docs/b", Text: "second passage"},
	}
	history := []domain.Turn{{Question: "earlier q", Answer: "earlier a"}}

	p := s.BuildPrompt("What now?", chunks, history)

	assert.True(t, strings.HasPrefix(p, DefaultInstructions))
	assert.Contains(t, p, "[1] (source: https://docs/a)\nfirst passage"+ContextDelimiter+"[2] (source: https://docs/b)\nsecond passage")
	assert.NotContains(t, p, NoContextNote)

	iCtx := strings.Index(p, "first passage")
	iHist := strings.Index(p, "User: earlier q\nAssistant: earlier a")
	iQ := strings.Index(p, "Question: What now?")
	require.True(t, iCtx >= 0 && iHist >= 0 && iQ >= 0)
	assert.Less(t, iCtx, iHist)
	assert.Less(t, iHist, iQ)
	assert.True(t, strings.HasSuffix(p, "Answer:"))
}

func TestPromptNotesMissingContext(t *testing.T) {
	s := New(&testutil.Chat{}, nil, Config{}, nil)
	p := s.BuildPrompt("Anything?", nil, nil)
	assert.Contains(t, p, NoContextNote)
	assert.NotContains(t, p, "Context:")
	assert.NotContains(t, p, "Conversation so far")
}

func TestHistoryTruncatesFromOldestEnd(t *testing.T) {
	// each rendered turn costs 4 words: "User: qN Assistant: aN"
	s := New(&testutil.Chat{}, wordCounter{}, Config{HistoryBudget: 9}, nil)
	history := []domain.Turn{
		{Question: "q0", Answer: "a0"},
		{Question: "q1", Answer: "a1"},
		{Question: "q2", Answer: "a2"},
	}
	p := s.BuildPrompt("next", nil, history)
	assert.NotContains(t, p, "q0")
	assert.Contains(t, p, "User: q1\nAssistant: a1\nUser: q2\nAssistant: a2\n")
}

func TestSynthesizeWithoutChunksStillAnswers(t *testing.T) {
	chat := &testutil.Chat{Reply: func(string) string { return "  I don't know.  " }}
	s := New(chat, nil, Config{}, nil)
	answer, err := s.Synthesize(context.Background(), "Who?", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "I don't know.", answer)
	assert.Contains(t, chat.LastPrompt(), NoContextNote)
}

func TestSynthesizeWrapsGatewayFailure(t *testing.T) {
	s := New(&testutil.Chat{Err: errors.New("502 bad gateway")}, nil, Config{}, nil)
	_, err := s.Synthesize(context.Background(), "q", nil, nil)
	assert.ErrorIs(t, err, domain.ErrGeneration)
	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.StageGenerate, se.Stage)
}

func TestSynthesizeHonoursCancellation(t *testing.T) {
	s := New(&testutil.Chat{Delay: time.Second}, nil, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Synthesize(ctx, "q", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrGeneration)
}

func TestCustomInstructions(t *testing.T) {
	s := New(&testutil.Chat{}, nil, Config{Instructions: "Answer tersely."}, nil)
	assert.True(t, strings.HasPrefix(s.BuildPrompt("q", nil, nil), "Answer tersely.\n\n"))
}
