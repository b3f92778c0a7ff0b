package chunker

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"ragchat/internal/domain"
)

// Default sizes in characters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in order: paragraph, line, word.
// When none occurs in the search window the text is cut at the character level.
var DefaultSeparators = []string{"\n\n", "\n", " "}

// RecursiveChunker splits text into overlapping character windows whose
// boundaries prefer paragraph breaks, then line breaks, then spaces.
type RecursiveChunker struct {
	chunkSize  int
	overlap    int
	separators []string
}

// New creates a chunker. chunkSize and overlap are character counts and
// overlap must be smaller than chunkSize.
func New(chunkSize, overlap int) (*RecursiveChunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrConfiguration, chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must not be negative, got %d", domain.ErrConfiguration, overlap)
	}
	if overlap >= chunkSize {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", domain.ErrConfiguration, overlap, chunkSize)
	}
	return &RecursiveChunker{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: DefaultSeparators,
	}, nil
}

// Chunk splits document into chunks with the given size and overlap.
func Chunk(document domain.Document, chunkSize, overlap int) ([]domain.Chunk, error) {
	c, err := New(chunkSize, overlap)
	if err != nil {
		return nil, err
	}
	return c.Chunk(document)
}

// Chunk splits the document. The returned chunks are in document order,
// cover every character of the content and carry 0-based contiguous indexes.
func (c *RecursiveChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	content := document.Content
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	var chunks []domain.Chunk
	start, prevEnd := 0, 0
	for idx := 0; ; idx++ {
		end := c.chunkEnd(content, start, prevEnd)
		chunks = append(chunks, domain.Chunk{
			ID:         document.ID + ":" + strconv.Itoa(idx),
			DocumentID: document.ID,
			Source:     document.Source,
			Index:      idx,
			Text:       content[start:end],
			Start:      start,
			End:        end,
		})
		if end >= len(content) {
			break
		}
		start = c.nextStart(content, start, end)
		prevEnd = end
	}
	return chunks, nil
}

// chunkEnd picks where the chunk starting at start ends. The cut is placed after
// the highest-priority separator found in the back half of the window, and always
// past prevEnd so every chunk contributes new text.
func (c *RecursiveChunker) chunkEnd(content string, start, prevEnd int) int {
	limit := advance(content, start, c.chunkSize)
	if limit >= len(content) {
		return len(content)
	}
	floor := advance(content, start, (c.chunkSize+1)/2)
	if prevEnd >= floor {
		floor = advance(content, prevEnd, 1)
	}
	if floor >= limit {
		return limit
	}
	if pos, ok := lastSeparator(content[floor:limit], c.separators); ok {
		return floor + pos
	}
	return limit
}

// nextStart returns the start of the chunk following [start, end). It begins
// overlap characters before end and moves back at most overlap/4 characters to
// reach a separator, so the chunks share between overlap and overlap+overlap/4
// characters. Only a chunk too short to hold the overlap shares less.
func (c *RecursiveChunker) nextStart(content string, start, end int) int {
	if c.overlap == 0 {
		return end
	}
	minStart := advance(content, start, 1)
	// The overlap never takes a whole chunk, so the next chunk has room for new text.
	if back := retreat(content, end, c.chunkSize-1); back > minStart {
		minStart = back
	}
	target := retreat(content, end, c.overlap)
	if target < minStart {
		return minStart
	}
	lo := retreat(content, target, c.overlap/4)
	if lo < minStart {
		lo = minStart
	}
	if pos, ok := lastSeparator(content[lo:target], c.separators); ok {
		return lo + pos
	}
	return target
}

// lastSeparator returns the offset just after the last occurrence of the
// highest-priority separator present in s.
func lastSeparator(s string, separators []string) (int, bool) {
	for _, sep := range separators {
		if i := strings.LastIndex(s, sep); i >= 0 {
			return i + len(sep), true
		}
	}
	return 0, false
}

// advance moves n runes forward from byte offset pos, stopping at len(s).
func advance(s string, pos, n int) int {
	for ; n > 0 && pos < len(s); n-- {
		_, size := utf8.DecodeRuneInString(s[pos:])
		pos += size
	}
	return pos
}

// retreat moves n runes backward from byte offset pos, stopping at 0.
func retreat(s string, pos, n int) int {
	for ; n > 0 && pos > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(s[:pos])
		pos -= size
	}
	return pos
}
