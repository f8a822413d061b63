package index

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/richinex/clew/chunker"
)

// JSON-RPC error codes spoken by the document REPL.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeNotInitialized = -32000
	CodeFileNotFound   = -32001
	CodeInvalidRange   = -32002
)

// RPCError is an error object returned by the REPL.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPC talks to a document REPL over newline-delimited JSON-RPC 2.0.
// Calls are serialized; the REPL answers one request at a time.
type RPC struct {
	mu        sync.Mutex
	w         io.WriteCloser
	r         *bufio.Reader
	requestID uint64
	cmd       *exec.Cmd
	stale     chan readResult
	stats     Stats
}

type readResult struct {
	line []byte
	err  error
}

// NewRPC wraps an existing connection.
func NewRPC(r io.Reader, w io.WriteCloser) *RPC {
	return &RPC{r: bufio.NewReader(r), w: w}
}

// StartRPC launches the REPL process and talks to it over stdin/stdout.
func StartRPC(ctx context.Context, command string, args ...string) (*RPC, error) {
	cmd := exec.CommandContext(ctx, command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to start document REPL: %w", err)
	}

	c := NewRPC(stdout, stdin)
	c.cmd = cmd
	return c, nil
}

// InitResult describes the document the REPL loaded.
type InitResult struct {
	Status        string `json:"status"`
	DocumentPath  string `json:"documentPath"`
	ContentLength int    `json:"contentLength"`
	LineCount     int    `json:"lineCount"`
	ChunkCount    int    `json:"chunkCount"`
	LoadedAt      string `json:"loadedAt"`
}

// Init loads a document in the REPL.
func (c *RPC) Init(ctx context.Context, documentPath string, chunkSize, chunkOverlap int) (InitResult, error) {
	var out InitResult
	err := c.call(ctx, "init", map[string]any{
		"documentPath": documentPath,
		"chunkSize":    chunkSize,
		"chunkOverlap": chunkOverlap,
	}, &out)
	if err == nil {
		c.mu.Lock()
		c.stats = Stats{ContentLength: out.ContentLength, LineCount: out.LineCount, ChunkCount: out.ChunkCount}
		c.mu.Unlock()
	}
	return out, err
}

// Stats returns the figures reported by the last successful Init.
func (c *RPC) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

type wireChunk struct {
	ID        string `json:"id"`
	Index     int    `json:"index"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Length    int    `json:"length"`
	LineStart int    `json:"lineStart"`
	LineEnd   int    `json:"lineEnd"`
	Content   string `json:"content"`
}

func (w wireChunk) chunk() chunker.Chunk {
	return chunker.Chunk{
		ID:        w.ID,
		Index:     w.Index,
		Start:     w.Start,
		End:       w.End,
		Length:    w.Length,
		LineStart: w.LineStart,
		LineEnd:   w.LineEnd,
		Content:   w.Content,
	}
}

// Query asks the REPL for keyword-matched chunks.
func (c *RPC) Query(ctx context.Context, text string, limit int) ([]Match, error) {
	var out struct {
		RelevantChunks []struct {
			ChunkIndex int     `json:"chunkIndex"`
			Score      float64 `json:"score"`
			Preview    string  `json:"preview"`
		} `json:"relevantChunks"`
	}
	if err := c.call(ctx, "query", map[string]any{"query": text}, &out); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(out.RelevantChunks))
	for _, r := range out.RelevantChunks {
		matches = append(matches, Match{
			ChunkID: chunker.ChunkID(r.ChunkIndex),
			Index:   r.ChunkIndex,
			Score:   r.Score,
			Preview: r.Preview,
		})
	}
	if n := limitOrDefault(limit); len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}

// GetChunk fetches one chunk by id.
func (c *RPC) GetChunk(ctx context.Context, id string) (chunker.Chunk, error) {
	index, err := ParseChunkID(id)
	if err != nil {
		return chunker.Chunk{}, err
	}
	var out struct {
		Chunk wireChunk `json:"chunk"`
	}
	if err := c.call(ctx, "get_chunk", map[string]any{"index": index}, &out); err != nil {
		if rpcErr, ok := err.(*RPCError); ok && rpcErr.Code == CodeInvalidParams {
			return chunker.Chunk{}, fmt.Errorf("%w: %s", ErrChunkNotFound, id)
		}
		return chunker.Chunk{}, err
	}
	return out.Chunk.chunk(), nil
}

// Chunks lists chunk metadata, optionally with content.
func (c *RPC) Chunks(ctx context.Context, withContent bool) ([]chunker.Chunk, error) {
	var out struct {
		Chunks []wireChunk `json:"chunks"`
	}
	if err := c.call(ctx, "get_chunks", map[string]any{"includeContent": withContent}, &out); err != nil {
		return nil, err
	}
	chunks := make([]chunker.Chunk, len(out.Chunks))
	for i, w := range out.Chunks {
		chunks[i] = w.chunk()
	}
	return chunks, nil
}

// Peek returns a character range of the document.
func (c *RPC) Peek(ctx context.Context, start, end int) (Span, error) {
	var out struct {
		Content   string `json:"content"`
		Start     int    `json:"start"`
		End       int    `json:"end"`
		Length    int    `json:"length"`
		LineStart int    `json:"lineStart"`
		LineEnd   int    `json:"lineEnd"`
	}
	if err := c.call(ctx, "peek", map[string]any{"start": start, "end": end}, &out); err != nil {
		return Span{}, err
	}
	return Span(out), nil
}

// Grep runs a case-insensitive regular-expression search in the REPL.
func (c *RPC) Grep(ctx context.Context, pattern string, maxMatches, contextLines int) (GrepResult, error) {
	var out struct {
		Pattern string `json:"pattern"`
		Matches []struct {
			Match            string `json:"match"`
			Start            int    `json:"start"`
			End              int    `json:"end"`
			Line             int    `json:"line"`
			Context          string `json:"context"`
			ContextLineStart int    `json:"contextLineStart"`
			ContextLineEnd   int    `json:"contextLineEnd"`
		} `json:"matches"`
		Truncated bool `json:"truncated"`
	}
	params := map[string]any{"pattern": pattern, "maxMatches": maxMatches, "contextLines": contextLines}
	if err := c.call(ctx, "grep", params, &out); err != nil {
		return GrepResult{}, err
	}

	result := GrepResult{Pattern: out.Pattern, Truncated: out.Truncated}
	for _, m := range out.Matches {
		result.Matches = append(result.Matches, GrepMatch(m))
	}
	return result, nil
}

// AddBuffer stores a labelled note in the REPL and returns its index.
func (c *RPC) AddBuffer(ctx context.Context, content, label string) (int, error) {
	var out struct {
		BufferIndex int `json:"bufferIndex"`
	}
	if err := c.call(ctx, "add_buffer", map[string]any{"content": content, "label": label}, &out); err != nil {
		return 0, err
	}
	return out.BufferIndex, nil
}

// Shutdown asks the REPL to exit and releases the connection.
func (c *RPC) Shutdown(ctx context.Context) error {
	callErr := c.call(ctx, "shutdown", nil, nil)
	closeErr := c.Close()
	if callErr != nil {
		return callErr
	}
	return closeErr
}

// call sends one request and decodes the matching response into out.
func (c *RPC) call(ctx context.Context, method string, params any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A cancelled call leaves its reply in flight; consume it first so
	// responses stay paired with requests.
	if c.stale != nil {
		select {
		case <-c.stale:
			c.stale = nil
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", method, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.requestID++
	id := c.requestID
	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}

	read := make(chan readResult, 1)
	go func() {
		line, err := c.r.ReadBytes('\n')
		read <- readResult{line, err}
	}()

	var line []byte
	select {
	case res := <-read:
		if res.err != nil {
			return fmt.Errorf("failed to read response: %w", res.err)
		}
		line = res.line
	case <-ctx.Done():
		c.stale = read
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}

	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.ID != id {
		return fmt.Errorf("response id %d does not match request id %d", resp.ID, id)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// Close closes the connection and stops the process if one was started.
func (c *RPC) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.w != nil {
		c.w.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
		c.cmd = nil
	}
	return nil
}

var _ Index = (*RPC)(nil)
