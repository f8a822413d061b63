package index

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/richinex/clew/chunker"
	"github.com/richinex/clew/internal/dsa"
)

// Store holds one loaded document and its chunks.
type Store struct {
	text       string
	chunks     []chunker.Chunk
	ids        *dsa.Trie[int]
	lineStarts []int
	lines      []string
}

// Stats describes a loaded document.
type Stats struct {
	ContentLength int `json:"content_length"`
	LineCount     int `json:"line_count"`
	ChunkCount    int `json:"chunk_count"`
}

// NewStore chunks text with opts.
func NewStore(text string, opts chunker.Options) (*Store, error) {
	chunks, err := chunker.Split(text, opts)
	if err != nil {
		return nil, err
	}

	s := &Store{
		text:   text,
		chunks: chunks,
		ids:    dsa.NewTrie[int](),
		lines:  strings.Split(text, "\n"),
	}
	for i, c := range chunks {
		s.ids.Insert(c.ID, i)
	}
	s.lineStarts = []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			s.lineStarts = append(s.lineStarts, i+1)
		}
	}
	return s, nil
}

// GetChunk returns the chunk with the given id.
func (s *Store) GetChunk(_ context.Context, id string) (chunker.Chunk, error) {
	i, ok := s.ids.Get(id)
	if !ok {
		return chunker.Chunk{}, fmt.Errorf("%w: %s", ErrChunkNotFound, id)
	}
	return s.chunks[i], nil
}

// Chunks returns chunk metadata. Content is omitted unless withContent is set.
func (s *Store) Chunks(withContent bool) []chunker.Chunk {
	out := make([]chunker.Chunk, len(s.chunks))
	copy(out, s.chunks)
	if !withContent {
		for i := range out {
			out[i].Content = ""
		}
	}
	return out
}

// ChunksWithPrefix returns the chunks whose ids start with prefix, in id order.
func (s *Store) ChunksWithPrefix(prefix string) []chunker.Chunk {
	var out []chunker.Chunk
	for _, i := range s.ids.WithPrefix(prefix) {
		out = append(out, s.chunks[i])
	}
	return out
}

// Stats returns document size figures.
func (s *Store) Stats() Stats {
	return Stats{ContentLength: len(s.text), LineCount: len(s.lines), ChunkCount: len(s.chunks)}
}

// lineAt maps a byte offset to its 1-indexed line.
func (s *Store) lineAt(pos int) int {
	return sort.Search(len(s.lineStarts), func(i int) bool { return s.lineStarts[i] > pos })
}

// Span is a slice of the document with its line range.
type Span struct {
	Content   string `json:"content"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Length    int    `json:"length"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
}

// Peek returns text[start:end], clamping to the document. An empty result
// range is an error.
func (s *Store) Peek(start, end int) (Span, error) {
	if start < 0 {
		start = 0
	}
	if end > len(s.text) {
		end = len(s.text)
	}
	if start >= end {
		return Span{}, fmt.Errorf("%w: %d-%d", ErrInvalidRange, start, end)
	}
	return Span{
		Content:   s.text[start:end],
		Start:     start,
		End:       end,
		Length:    end - start,
		LineStart: s.lineAt(start),
		LineEnd:   s.lineAt(end - 1),
	}, nil
}

// GrepMatch is one regular-expression hit with surrounding lines.
type GrepMatch struct {
	Match            string `json:"match"`
	Start            int    `json:"start"`
	End              int    `json:"end"`
	Line             int    `json:"line"`
	Context          string `json:"context"`
	ContextLineStart int    `json:"context_line_start"`
	ContextLineEnd   int    `json:"context_line_end"`
}

// GrepResult is the outcome of Grep.
type GrepResult struct {
	Pattern   string      `json:"pattern"`
	Matches   []GrepMatch `json:"matches"`
	Truncated bool        `json:"truncated"`
}

// Grep finds case-insensitive, multi-line matches of pattern. Each match
// carries contextLines lines on either side.
func (s *Store) Grep(pattern string, maxMatches, contextLines int) (GrepResult, error) {
	if pattern == "" {
		return GrepResult{}, fmt.Errorf("pattern is required")
	}
	if maxMatches <= 0 {
		maxMatches = 10
	}
	if contextLines < 0 {
		contextLines = 0
	}
	re, err := regexp.Compile("(?im)" + pattern)
	if err != nil {
		return GrepResult{}, fmt.Errorf("invalid pattern: %w", err)
	}

	result := GrepResult{Pattern: pattern}
	for _, loc := range re.FindAllStringIndex(s.text, maxMatches+1) {
		if len(result.Matches) == maxMatches {
			result.Truncated = true
			break
		}
		line := s.lineAt(loc[0])
		from := max(0, line-contextLines-1)
		to := min(len(s.lines), line+contextLines)
		result.Matches = append(result.Matches, GrepMatch{
			Match:            s.text[loc[0]:loc[1]],
			Start:            loc[0],
			End:              loc[1],
			Line:             line,
			Context:          strings.Join(s.lines[from:to], "\n"),
			ContextLineStart: from + 1,
			ContextLineEnd:   to,
		})
	}
	return result, nil
}
