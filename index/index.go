// Package index provides document indexes the orchestrator searches and
// fetches chunks from.
//
// Information Hiding:
// - Chunk registry keyed by id
// - Keyword scoring, embedding search, or remote protocol per backend
// - Line-number bookkeeping for peek and grep
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/richinex/clew/chunker"
)

// Index is what the orchestrator needs from a document store.
type Index interface {
	// Query returns up to limit matches for text, best first.
	Query(ctx context.Context, text string, limit int) ([]Match, error)
	// GetChunk returns a chunk by id. Content is identical on every call.
	GetChunk(ctx context.Context, id string) (chunker.Chunk, error)
}

// Match is one search hit.
type Match struct {
	ChunkID   string  `json:"chunk_id"`
	Index     int     `json:"index"`
	Score     float64 `json:"score"`
	Preview   string  `json:"preview"`
	LineStart int     `json:"line_start"`
	LineEnd   int     `json:"line_end"`
}

// DefaultLimit is used when a query passes a non-positive limit.
const DefaultLimit = 5

const previewLength = 200

var (
	// ErrChunkNotFound is returned for unknown chunk ids.
	ErrChunkNotFound = errors.New("chunk not found")
	// ErrInvalidRange is returned by Peek for an empty or inverted range.
	ErrInvalidRange = errors.New("invalid range")
)

// Keywords extracts lowercase words longer than three characters, in order,
// without repeats.
func Keywords(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	seen := make(map[string]bool, len(words))
	var out []string
	for _, w := range words {
		if len([]rune(w)) <= 3 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// Preview returns the first 200 bytes of content, marked when cut.
func Preview(content string) string {
	if len(content) <= previewLength {
		return content
	}
	cut := previewLength
	for cut > 0 && !utf8Start(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

// ParseChunkID returns the index encoded in a chunk_NNN id.
func ParseChunkID(id string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(id, "chunk_%d", &n); err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrChunkNotFound, id)
	}
	return n, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
