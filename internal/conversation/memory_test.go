package conversation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"ragchat/internal/domain"
)

// wordCounter counts whitespace-separated words.
type wordCounter struct{}

func (wordCounter) CountTokens(s string) int { return len(strings.Fields(s)) }

func questions(turns []domain.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Question
	}
	return out
}

func TestAppendAssignsIndexAndTimestamp(t *testing.T) {
	m := New(Options{})
	first := m.Append(domain.Turn{Question: "q0", Answer: "a0", ChunkIDs: []string{"d:0"}})
	second := m.Append(domain.Turn{Question: "q1", Answer: "a1"})
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, 1, second.Index)
	assert.False(t, first.Timestamp.IsZero())
	assert.Equal(t, []string{"d:0"}, m.Recent(0)[0].ChunkIDs)
}

func TestMaxTurnsEvictsOldestFirst(t *testing.T) {
	m := New(Options{MaxTurns: 3})
	for i := 0; i < 5; i++ {
		m.Append(domain.Turn{Question: fmt.Sprintf("q%d", i)})
	}
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []string{"q2", "q3", "q4"}, questions(m.Recent(0)))
	assert.Equal(t, []string{"q3", "q4"}, questions(m.Recent(2)))
	assert.Equal(t, 4, m.Recent(1)[0].Index)
}

func TestMaxTokensEvictsButKeepsNewest(t *testing.T) {
	m := New(Options{MaxTokens: 4, Counter: wordCounter{}})
	m.Append(domain.Turn{Question: "one", Answer: "two"})
	m.Append(domain.Turn{Question: "three", Answer: "four"})
	assert.Equal(t, []string{"one", "three"}, questions(m.Recent(0)))

	m.Append(domain.Turn{Question: "five six", Answer: "seven"})
	assert.Equal(t, []string{"five six"}, questions(m.Recent(0)))

	m.Append(domain.Turn{Question: "a b c d e", Answer: "f"})
	assert.Equal(t, []string{"a b c d e"}, questions(m.Recent(0)), "an oversized newest turn is retained alone")
}

func TestRecentWithinTakesNewestSuffix(t *testing.T) {
	m := New(Options{Counter: wordCounter{}})
	m.Append(domain.Turn{Question: "q0", Answer: "a b c"})
	m.Append(domain.Turn{Question: "q1", Answer: "a"})
	m.Append(domain.Turn{Question: "q2", Answer: "a"})

	assert.Equal(t, []string{"q1", "q2"}, questions(m.RecentWithin(5)))
	assert.Equal(t, []string{"q0", "q1", "q2"}, questions(m.RecentWithin(8)))
	assert.Empty(t, m.RecentWithin(1))
	assert.Len(t, m.RecentWithin(0), 3)
}

func TestClear(t *testing.T) {
	m := New(Options{MaxTurns: 2})
	m.Append(domain.Turn{Question: "q0"})
	m.Clear()
	assert.Zero(t, m.Len())
	assert.Empty(t, m.Recent(0))
	assert.Equal(t, 1, m.Append(domain.Turn{Question: "q1"}).Index)
}

func TestSessionsDoNotShareTurns(t *testing.T) {
	a, b := New(Options{}), New(Options{})
	a.Append(domain.Turn{Question: "secret"})
	assert.Zero(t, b.Len())

	got := a.Recent(0)
	got[0].Question = "mutated"
	assert.Equal(t, "secret", a.Recent(0)[0].Question)
}

func TestFIFOEvictionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		bound := rapid.IntRange(1, 8).Draw(t, "bound")
		n := rapid.IntRange(0, 30).Draw(t, "n")
		m := New(Options{MaxTurns: bound})
		for i := 0; i < n; i++ {
			m.Append(domain.Turn{Question: fmt.Sprintf("q%d", i)})
		}
		got := m.Recent(0)
		want := min(n, bound)
		require.Len(t, got, want)
		for i, turn := range got {
			if turn.Index != n-want+i {
				t.Fatalf("position %d holds turn %d, want %d", i, turn.Index, n-want+i)
			}
		}
	})
}
