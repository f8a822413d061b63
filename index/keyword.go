package index

import (
	"context"
	"sort"
	"strings"

	"github.com/richinex/clew/chunker"
	"github.com/richinex/clew/internal/dsa"
)

// Keyword scores chunks by how many distinct query keywords they contain.
type Keyword struct {
	*Store
	lowered []*dsa.SuffixArray
}

// NewKeyword chunks text and builds a lowercase suffix array per chunk.
func NewKeyword(text string, opts chunker.Options) (*Keyword, error) {
	store, err := NewStore(text, opts)
	if err != nil {
		return nil, err
	}
	k := &Keyword{Store: store, lowered: make([]*dsa.SuffixArray, len(store.chunks))}
	for i, c := range store.chunks {
		k.lowered[i] = dsa.BuildSuffixArray(strings.ToLower(c.Content))
	}
	return k, nil
}

// Query returns chunks containing at least one keyword, highest score first,
// ties in document order.
func (k *Keyword) Query(ctx context.Context, text string, limit int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keywords := Keywords(text)
	if len(keywords) == 0 {
		return []Match{}, nil
	}

	var matches []Match
	for i, c := range k.chunks {
		score := 0
		for _, kw := range keywords {
			if k.lowered[i].Contains(kw) {
				score++
			}
		}
		if score == 0 {
			continue
		}
		matches = append(matches, Match{
			ChunkID:   c.ID,
			Index:     c.Index,
			Score:     float64(score),
			Preview:   Preview(c.Content),
			LineStart: c.LineStart,
			LineEnd:   c.LineEnd,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if n := limitOrDefault(limit); len(matches) > n {
		matches = matches[:n]
	}
	if matches == nil {
		matches = []Match{}
	}
	return matches, nil
}

var _ Index = (*Keyword)(nil)
