package index

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vocabulary = []string{"alpha", "echo", "kilo", "november"}

// wordEmbedding counts vocabulary words. The constant last dimension keeps
// vectors non-zero.
func wordEmbedding(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, len(vocabulary)+1)
	for i, word := range vocabulary {
		v[i] = float32(strings.Count(strings.ToLower(text), word))
	}
	v[len(vocabulary)] = 0.1
	return v, nil
}

func TestVectorQuery(t *testing.T) {
	ctx := context.Background()
	v, err := NewVector(ctx, doc, lineOptions(), wordEmbedding)
	require.NoError(t, err)

	matches, err := v.Query(ctx, "november", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "chunk_003", matches[0].ChunkID)
	assert.Equal(t, 4, matches[0].LineStart)
	assert.Greater(t, matches[0].Score, 0.9)

	matches, err = v.Query(ctx, "kilo", 0)
	require.NoError(t, err)
	assert.Len(t, matches, 4, "limit is clamped to the collection size")
	assert.Equal(t, "chunk_002", matches[0].ChunkID)

	chunk, err := v.GetChunk(ctx, matches[0].ChunkID)
	require.NoError(t, err)
	assert.Contains(t, chunk.Content, "kilo")
}

func TestVectorEmptyDocument(t *testing.T) {
	ctx := context.Background()
	v, err := NewVector(ctx, "", lineOptions(), wordEmbedding)
	require.NoError(t, err)

	matches, err := v.Query(ctx, "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestEmbeddingFunc(t *testing.T) {
	f, err := EmbeddingFunc("ollama", "", "http://localhost:11434", "")
	require.NoError(t, err)
	assert.NotNil(t, f)

	_, err = EmbeddingFunc("openai", "", "", "")
	assert.Error(t, err)

	f, err = EmbeddingFunc("openai", "", "", "sk-test")
	require.NoError(t, err)
	assert.NotNil(t, f)

	_, err = EmbeddingFunc("cohere", "", "", "")
	assert.Error(t, err)
}
