// Package conversation keeps the bounded turn history of one chat session.
package conversation

import (
	"time"

	"ragchat/internal/domain"
	"ragchat/internal/tokenizer"
)

// DefaultMaxTurns bounds a session's history when no bound is configured.
const DefaultMaxTurns = 10

// Options bounds a Memory. Zero values disable the respective bound.
type Options struct {
	MaxTurns  int
	MaxTokens int
	// Counter measures turns for MaxTokens and RecentWithin.
	// Nil falls back to tokenizer.Estimate.
	Counter domain.TokenCounter
}

// Memory is an append-only FIFO of turns. When a bound is exceeded the oldest
// turns are evicted first; the newest turn is always kept.
// Memory is not safe for concurrent writers.
type Memory struct {
	opts  Options
	turns []domain.Turn
	next  int
	now   func() time.Time
}

// New creates an empty memory.
func New(opts Options) *Memory {
	return &Memory{opts: opts, now: time.Now}
}

// Append records a turn, assigning its index and, when unset, its timestamp.
func (m *Memory) Append(turn domain.Turn) domain.Turn {
	turn.Index = m.next
	m.next++
	if turn.Timestamp.IsZero() {
		turn.Timestamp = m.now()
	}
	turn.ChunkIDs = append([]string(nil), turn.ChunkIDs...)
	m.turns = append(m.turns, turn)
	m.evict()
	return turn
}

func (m *Memory) evict() {
	drop := 0
	if m.opts.MaxTurns > 0 && len(m.turns) > m.opts.MaxTurns {
		drop = len(m.turns) - m.opts.MaxTurns
	}
	if m.opts.MaxTokens > 0 {
		total := 0
		for _, t := range m.turns[drop:] {
			total += m.cost(t)
		}
		for total > m.opts.MaxTokens && drop < len(m.turns)-1 {
			total -= m.cost(m.turns[drop])
			drop++
		}
	}
	if drop == 0 {
		return
	}
	n := copy(m.turns, m.turns[drop:])
	clear(m.turns[n:])
	m.turns = m.turns[:n]
}

func (m *Memory) cost(t domain.Turn) int {
	return m.count(t.Question) + m.count(t.Answer)
}

func (m *Memory) count(s string) int {
	if m.opts.Counter != nil {
		return m.opts.Counter.CountTokens(s)
	}
	return tokenizer.Estimate(s)
}

// Recent returns the last maxTurns turns, most recent last. maxTurns <= 0
// returns every retained turn.
func (m *Memory) Recent(maxTurns int) []domain.Turn {
	start := 0
	if maxTurns > 0 && len(m.turns) > maxTurns {
		start = len(m.turns) - maxTurns
	}
	return append([]domain.Turn(nil), m.turns[start:]...)
}

// RecentWithin returns the longest suffix of the history whose token cost
// fits maxTokens, most recent last.
func (m *Memory) RecentWithin(maxTokens int) []domain.Turn {
	if maxTokens <= 0 {
		return m.Recent(0)
	}
	start := len(m.turns)
	used := 0
	for start > 0 {
		c := m.cost(m.turns[start-1])
		if used+c > maxTokens {
			break
		}
		used += c
		start--
	}
	return append([]domain.Turn(nil), m.turns[start:]...)
}

// Len returns the number of retained turns.
func (m *Memory) Len() int { return len(m.turns) }

// Clear drops every turn. Turn indexes keep increasing afterwards.
func (m *Memory) Clear() {
	clear(m.turns)
	m.turns = m.turns[:0]
}
