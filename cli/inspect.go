package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/richinex/clew/chunker"
	"github.com/richinex/clew/config"
	"github.com/richinex/clew/index"
)

// document is what the inspection commands read: a local chunk store, or
// the document REPL when INDEX_BACKEND=rpc.
type document interface {
	stats() index.Stats
	chunks(ctx context.Context, prefix string) ([]chunker.Chunk, error)
	peek(ctx context.Context, start, end int) (index.Span, error)
	grep(ctx context.Context, pattern string, maxMatches, contextLines int) (index.GrepResult, error)
}

// openDocument loads path for inspection. The returned cleanup is never nil.
func openDocument(ctx context.Context, settings config.Settings, path string, logger *log.Logger) (document, func(), error) {
	noop := func() {}

	if settings.Index.Backend == config.BackendRPC {
		chunkOpts, err := settings.ChunkOptions()
		if err != nil {
			return nil, noop, err
		}
		rpc, cleanup, err := startRPC(ctx, settings, path, chunkOpts, logger)
		if err != nil {
			return nil, noop, err
		}
		return remoteDocument{rpc: rpc}, cleanup, nil
	}

	store, err := openStore(settings, path)
	if err != nil {
		return nil, noop, err
	}
	return localDocument{store: store}, noop, nil
}

type localDocument struct {
	store *index.Store
}

func (d localDocument) stats() index.Stats { return d.store.Stats() }

func (d localDocument) chunks(_ context.Context, prefix string) ([]chunker.Chunk, error) {
	if prefix == "" {
		return d.store.Chunks(false), nil
	}
	chunks := d.store.ChunksWithPrefix(prefix)
	for i := range chunks {
		chunks[i].Content = ""
	}
	return chunks, nil
}

func (d localDocument) peek(_ context.Context, start, end int) (index.Span, error) {
	return d.store.Peek(start, end)
}

func (d localDocument) grep(_ context.Context, pattern string, maxMatches, contextLines int) (index.GrepResult, error) {
	return d.store.Grep(pattern, maxMatches, contextLines)
}

type remoteDocument struct {
	rpc *index.RPC
}

func (d remoteDocument) stats() index.Stats { return d.rpc.Stats() }

func (d remoteDocument) chunks(ctx context.Context, prefix string) ([]chunker.Chunk, error) {
	all, err := d.rpc.Chunks(ctx, false)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		return all, nil
	}
	var out []chunker.Chunk
	for _, c := range all {
		if strings.HasPrefix(c.ID, prefix) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (d remoteDocument) peek(ctx context.Context, start, end int) (index.Span, error) {
	span, err := d.rpc.Peek(ctx, start, end)
	var rpcErr *index.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == index.CodeInvalidRange {
		return index.Span{}, fmt.Errorf("%w: %s", index.ErrInvalidRange, rpcErr.Message)
	}
	return span, err
}

func (d remoteDocument) grep(ctx context.Context, pattern string, maxMatches, contextLines int) (index.GrepResult, error) {
	return d.rpc.Grep(ctx, pattern, maxMatches, contextLines)
}
