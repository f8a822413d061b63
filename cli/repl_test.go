package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/richinex/clew/chunker"
	"github.com/richinex/clew/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperREPLEnv = "CLEW_HELPER_REPL"

// TestHelperREPL is not a test. It is the document REPL that the rpc
// backend starts when the test binary is re-executed with helperREPLEnv set.
func TestHelperREPL(t *testing.T) {
	if os.Getenv(helperREPLEnv) != "1" {
		t.Skip("helper process")
	}
	serveREPL(os.Stdin, os.Stdout)
	os.Exit(0)
}

// rpcBackend points INDEX_BACKEND at the helper REPL.
func rpcBackend(t *testing.T) {
	t.Setenv(helperREPLEnv, "1")
	t.Setenv("INDEX_BACKEND", "rpc")
	t.Setenv("INDEX_RPC_COMMAND", os.Args[0]+" -test.run=^TestHelperREPL$")
}

func serveREPL(r io.Reader, w io.Writer) {
	var store *index.Store
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	enc := json.NewEncoder(w)
	for scanner.Scan() {
		var req struct {
			ID     uint64         `json:"id"`
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if result, rpcErr := answerREPL(&store, req.Method, req.Params); rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		if err := enc.Encode(resp); err != nil || req.Method == "shutdown" {
			return
		}
	}
}

func answerREPL(store **index.Store, method string, params map[string]any) (any, *index.RPCError) {
	intParam := func(name string) int {
		n, _ := params[name].(float64)
		return int(n)
	}

	if method == "init" {
		path, _ := params["documentPath"].(string)
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, &index.RPCError{Code: index.CodeFileNotFound, Message: err.Error()}
		}
		opts := chunker.Options{Size: intParam("chunkSize"), Overlap: intParam("chunkOverlap"), Strategy: chunker.Character}
		s, err := index.NewStore(string(text), opts)
		if err != nil {
			return nil, &index.RPCError{Code: index.CodeInvalidParams, Message: err.Error()}
		}
		*store = s
		stats := s.Stats()
		return map[string]any{
			"status":        "initialized",
			"documentPath":  path,
			"contentLength": stats.ContentLength,
			"lineCount":     stats.LineCount,
			"chunkCount":    stats.ChunkCount,
		}, nil
	}
	if method == "shutdown" {
		return map[string]any{"status": "shutting_down"}, nil
	}

	s := *store
	if s == nil {
		return nil, &index.RPCError{Code: index.CodeNotInitialized, Message: "no document loaded"}
	}
	switch method {
	case "get_chunks":
		var chunks []map[string]any
		for _, c := range s.Chunks(false) {
			chunks = append(chunks, map[string]any{
				"id": c.ID, "index": c.Index, "start": c.Start, "end": c.End,
				"length": c.Length, "lineStart": c.LineStart, "lineEnd": c.LineEnd,
			})
		}
		return map[string]any{"chunks": chunks}, nil
	case "peek":
		span, err := s.Peek(intParam("start"), intParam("end"))
		if err != nil {
			return nil, &index.RPCError{Code: index.CodeInvalidRange, Message: err.Error()}
		}
		return map[string]any{
			"content": span.Content, "start": span.Start, "end": span.End,
			"length": span.Length, "lineStart": span.LineStart, "lineEnd": span.LineEnd,
		}, nil
	case "grep":
		pattern, _ := params["pattern"].(string)
		res, err := s.Grep(pattern, intParam("maxMatches"), intParam("contextLines"))
		if err != nil {
			return nil, &index.RPCError{Code: index.CodeInvalidParams, Message: err.Error()}
		}
		var matches []map[string]any
		for _, m := range res.Matches {
			matches = append(matches, map[string]any{
				"match": m.Match, "start": m.Start, "end": m.End, "line": m.Line, "context": m.Context,
				"contextLineStart": m.ContextLineStart, "contextLineEnd": m.ContextLineEnd,
			})
		}
		return map[string]any{"pattern": res.Pattern, "matchCount": len(matches), "matches": matches, "truncated": res.Truncated}, nil
	default:
		return nil, &index.RPCError{Code: index.CodeMethodNotFound, Message: "method not found: " + method}
	}
}

func TestListChunksThroughREPL(t *testing.T) {
	smallChunks(t)
	rpcBackend(t)
	path := writeDoc(t, "doc.txt", strings.Repeat("x", 250))

	var out bytes.Buffer
	require.NoError(t, ListChunks(context.Background(), path, "chunk_01", Options{JSON: true, Out: &out}))

	var chunks []chunker.Chunk
	require.NoError(t, json.Unmarshal(out.Bytes(), &chunks))
	require.Len(t, chunks, 3)
	assert.Equal(t, "chunk_010", chunks[0].ID)

	out.Reset()
	require.NoError(t, ListChunks(context.Background(), path, "", Options{Out: &out}))
	assert.Contains(t, out.String(), "13 chunks, 1 lines, 250 bytes")
}

func TestPeekAndGrepThroughREPL(t *testing.T) {
	smallChunks(t)
	rpcBackend(t)
	path := writeDoc(t, "doc.txt", "alpha\nBudget line\ncharlie\n")

	var out bytes.Buffer
	require.NoError(t, Peek(context.Background(), path, 6, 12, Options{JSON: true, Out: &out}))
	var span index.Span
	require.NoError(t, json.Unmarshal(out.Bytes(), &span))
	assert.Equal(t, "Budget", span.Content)

	err := Peek(context.Background(), path, 4, 2, Options{Out: &bytes.Buffer{}})
	assert.ErrorIs(t, err, index.ErrInvalidRange)

	out.Reset()
	require.NoError(t, Grep(context.Background(), path, "budget", 10, 0, Options{Out: &out}))
	assert.Contains(t, out.String(), ">     2  Budget line")
	assert.Contains(t, out.String(), "1 matches for \"budget\"")
}
