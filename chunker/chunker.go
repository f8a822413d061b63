// Package chunker splits documents into overlapping, position-tagged chunks.
//
// Information Hiding:
// - Window arithmetic for each strategy
// - Line-offset lookup tables
// - Markdown parsing used to locate section boundaries
package chunker

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Defaults used when loading documents.
const (
	DefaultSize         = 4000
	DefaultOverlap      = 200
	DefaultOverlapLines = 5
)

// Strategy selects how chunk boundaries are placed.
type Strategy int

const (
	// Character cuts fixed-size windows.
	Character Strategy = iota
	// Line accumulates whole lines up to the size limit.
	Line
	// Semantic prefers blank lines, headings, and horizontal rules near the target size.
	Semantic
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case Character:
		return "character"
	case Line:
		return "line"
	case Semantic:
		return "semantic"
	default:
		return "unknown"
	}
}

// ParseStrategy parses a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "character", "char", "fixed":
		return Character, nil
	case "line", "lines":
		return Line, nil
	case "semantic", "markdown":
		return Semantic, nil
	default:
		return Character, fmt.Errorf("unknown chunk strategy: %s (supported: character, line, semantic)", s)
	}
}

// Chunk is a contiguous byte range of a document.
type Chunk struct {
	ID        string `json:"id"`
	Index     int    `json:"index"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Length    int    `json:"length"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Content   string `json:"content"`
}

// ChunkID formats the identifier for the chunk at index.
func ChunkID(index int) string {
	return fmt.Sprintf("chunk_%03d", index)
}

// Options configures chunking.
type Options struct {
	Size         int
	Overlap      int
	Strategy     Strategy
	OverlapLines int // Line strategy only
}

// DefaultOptions returns the character strategy with default sizes.
func DefaultOptions() Options {
	return Options{
		Size:         DefaultSize,
		Overlap:      DefaultOverlap,
		Strategy:     Character,
		OverlapLines: DefaultOverlapLines,
	}
}

// ConfigError reports invalid chunking parameters.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid chunk config: %s %s", e.Field, e.Reason)
}

// Validate checks the options without touching any document.
func (o Options) Validate() error {
	switch {
	case o.Size <= 0:
		return &ConfigError{Field: "size", Reason: fmt.Sprintf("must be positive, got %d", o.Size)}
	case o.Overlap < 0:
		return &ConfigError{Field: "overlap", Reason: fmt.Sprintf("must not be negative, got %d", o.Overlap)}
	case o.Size <= o.Overlap:
		return &ConfigError{Field: "size", Reason: fmt.Sprintf("(%d) must be greater than overlap (%d)", o.Size, o.Overlap)}
	case o.OverlapLines < 0:
		return &ConfigError{Field: "overlap_lines", Reason: fmt.Sprintf("must not be negative, got %d", o.OverlapLines)}
	}
	switch o.Strategy {
	case Character, Line, Semantic:
		return nil
	default:
		return &ConfigError{Field: "strategy", Reason: fmt.Sprintf("unknown value %d", o.Strategy)}
	}
}

// Split chunks text with opts. An empty document yields an empty, non-nil slice.
func Split(text string, opts Options) ([]Chunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(text) == 0 {
		return []Chunk{}, nil
	}

	var spans []span
	switch opts.Strategy {
	case Line:
		spans = lineSpans(text, opts.Size, opts.OverlapLines)
	case Semantic:
		spans = semanticSpans(text, opts.Size, opts.Overlap)
	default:
		spans = characterSpans(text, opts.Size, opts.Overlap)
	}

	lines := newLineIndex(text)
	chunks := make([]Chunk, len(spans))
	for i, sp := range spans {
		chunks[i] = Chunk{
			ID:        ChunkID(i),
			Index:     i,
			Start:     sp.start,
			End:       sp.end,
			Length:    sp.end - sp.start,
			LineStart: lines.lineAt(sp.start),
			LineEnd:   lines.lineAt(sp.end - 1),
			Content:   text[sp.start:sp.end],
		}
	}
	return chunks, nil
}

type span struct {
	start, end int
}

// characterSpans cuts text into windows of size bytes with the given overlap.
// Cuts move back to the start of the rune they fall in. A remainder shorter
// than size/4 extends the last window to the end.
func characterSpans(text string, size, overlap int) []span {
	n := len(text)
	step := size - overlap
	var spans []span
	for start := 0; start < n; {
		end := n
		if start+size < n {
			end = runeBoundary(text, start+size, start)
		}
		spans = append(spans, span{start, end})
		if end == n {
			break
		}
		next := runeBoundary(text, start+step, start)
		if n-next < size/4 {
			spans[len(spans)-1].end = n
			break
		}
		start = next
	}
	return spans
}

// runeBoundary returns the start of the rune containing pos, or the start of
// the following rune when backing up would not pass floor.
func runeBoundary(text string, pos, floor int) int {
	p := pos
	for p > floor && !utf8.RuneStart(text[p]) {
		p--
	}
	if p > floor {
		return p
	}
	for pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos++
	}
	return pos
}

// lineSpans groups whole lines. A line longer than size stands alone.
func lineSpans(text string, size, overlapLines int) []span {
	starts := lineStarts(text)
	lineEnd := func(i int) int {
		if i+1 < len(starts) {
			return starts[i+1]
		}
		return len(text)
	}

	var spans []span
	for i := 0; i < len(starts); {
		j := i
		for j < len(starts) {
			if j > i && lineEnd(j)-starts[i] > size {
				break
			}
			j++
		}
		spans = append(spans, span{starts[i], lineEnd(j - 1)})
		if j >= len(starts) {
			break
		}
		i = max(i+1, j-overlapLines)
	}
	return spans
}

// lineIndex maps byte offsets to 1-indexed line numbers.
type lineIndex struct {
	starts []int
}

func newLineIndex(text string) lineIndex {
	return lineIndex{starts: lineStarts(text)}
}

func (l lineIndex) lineAt(pos int) int {
	if pos < 0 {
		pos = 0
	}
	// Number of line starts <= pos.
	return sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > pos })
}

func lineStarts(text string) []int {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' && i+1 < len(text) {
			starts = append(starts, i+1)
		}
	}
	return starts
}
