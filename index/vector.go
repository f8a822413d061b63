package index

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"
	"github.com/richinex/clew/chunker"
)

const collectionName = "chunks"

// Vector ranks chunks by embedding similarity using an in-memory chromem-go
// collection.
type Vector struct {
	*Store
	collection *chromem.Collection
}

// NewVector chunks text and embeds every chunk with embed.
func NewVector(ctx context.Context, text string, opts chunker.Options, embed chromem.EmbeddingFunc) (*Vector, error) {
	store, err := NewStore(text, opts)
	if err != nil {
		return nil, err
	}

	db := chromem.NewDB()
	collection, err := db.CreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	docs := make([]chromem.Document, len(store.chunks))
	for i, c := range store.chunks {
		docs[i] = chromem.Document{
			ID:      c.ID,
			Content: c.Content,
			Metadata: map[string]string{
				"index":      strconv.Itoa(c.Index),
				"line_start": strconv.Itoa(c.LineStart),
				"line_end":   strconv.Itoa(c.LineEnd),
			},
		}
	}
	if len(docs) > 0 {
		if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return nil, fmt.Errorf("failed to embed chunks: %w", err)
		}
	}

	return &Vector{Store: store, collection: collection}, nil
}

// Query returns the chunks most similar to text.
func (v *Vector) Query(ctx context.Context, text string, limit int) ([]Match, error) {
	n := min(limitOrDefault(limit), v.collection.Count())
	if n == 0 || text == "" {
		return []Match{}, nil
	}

	results, err := v.collection.Query(ctx, text, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		i, ok := v.ids.Get(r.ID)
		if !ok {
			continue
		}
		c := v.chunks[i]
		matches = append(matches, Match{
			ChunkID:   c.ID,
			Index:     c.Index,
			Score:     float64(r.Similarity),
			Preview:   Preview(c.Content),
			LineStart: c.LineStart,
			LineEnd:   c.LineEnd,
		})
	}
	return matches, nil
}

// EmbeddingFunc returns a chromem-go embedding function for provider
// ("ollama" or "openai").
func EmbeddingFunc(provider, model, ollamaURL, openAIKey string) (chromem.EmbeddingFunc, error) {
	switch provider {
	case "ollama":
		if model == "" {
			model = "nomic-embed-text"
		}
		baseURL := ""
		if ollamaURL != "" {
			baseURL = strings.TrimSuffix(ollamaURL, "/") + "/api"
		}
		return chromem.NewEmbeddingFuncOllama(model, baseURL), nil
	case "openai":
		if openAIKey == "" {
			return nil, fmt.Errorf("openai embeddings need OPENAI_API_KEY")
		}
		m := chromem.EmbeddingModelOpenAI3Small
		if model != "" {
			m = chromem.EmbeddingModelOpenAI(model)
		}
		return chromem.NewEmbeddingFuncOpenAI(openAIKey, m), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: ollama, openai)", provider)
	}
}

var _ Index = (*Vector)(nil)
