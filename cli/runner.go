// Command execution for CLI commands.
//
// Information Hiding:
// - Index backend, sub-agent backend and storage setup hidden
// - Orchestrator lifecycle hidden
// - Output formatting hidden

package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/richinex/clew/mcp"
	"github.com/richinex/clew/orchestrator"
)

// Options holds CLI execution options.
type Options struct {
	Provider string
	DBPath   string
	Verbose  bool
	JSON     bool
	Out      io.Writer
	Err      io.Writer // warnings and failures; defaults to stderr
}

// DefaultOptions returns default CLI options.
func DefaultOptions() Options {
	return Options{Out: os.Stdout, Err: os.Stderr}
}

func (o Options) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

func (o Options) errOut() io.Writer {
	if o.Err == nil {
		return os.Stderr
	}
	return o.Err
}

// QueryOptions are per-query overrides; zero values keep the configured setting.
type QueryOptions struct {
	SessionID          string
	MaxIterations      int
	ChunksPerIteration int
	Model              string
}

func (q QueryOptions) partial() *orchestrator.Partial {
	var p orchestrator.Partial
	if q.MaxIterations != 0 {
		p.MaxIterations = &q.MaxIterations
	}
	if q.ChunksPerIteration != 0 {
		p.ChunksPerIteration = &q.ChunksPerIteration
	}
	if q.Model != "" {
		p.Model = &q.Model
	}
	if p.Empty() {
		return nil
	}
	return &p
}

const shutdownTimeout = 10 * time.Second

// engine bundles an orchestrator with the resources it was built from.
type engine struct {
	orch    *orchestrator.Orchestrator
	errOut  io.Writer
	cleanup []func()
}

func (e *engine) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.orch.Shutdown(ctx); err != nil {
		fmt.Fprintf(e.errOut, "Warning: shutdown incomplete: %v\n", err)
	}
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		e.cleanup[i]()
	}
}

// newEngine loads the document and wires index, runner, storage and
// orchestrator. progress may be nil.
func newEngine(ctx context.Context, path string, opts Options, progress func(orchestrator.Event)) (*engine, error) {
	settings, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(opts.errOut(), opts.Verbose, "[clew] ")

	idx, closeIndex, err := openIndex(ctx, settings, path, logger)
	if err != nil {
		return nil, err
	}
	e := &engine{errOut: opts.errOut(), cleanup: []func(){closeIndex}}

	runner, err := createRunner(settings)
	if err != nil {
		closeIndex()
		return nil, err
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithConfig(settings.OrchestratorSettings()),
		orchestrator.WithAggregatorConfig(settings.AggregatorSettings()),
		// Chunk and synthesis failures are reported with or without --verbose.
		orchestrator.WithLogger(log.New(opts.errOut(), "[orchestrator] ", log.LstdFlags)),
	}
	if store, closeStore := openStorage(settings); store != nil {
		e.cleanup = append(e.cleanup, closeStore)
		orchOpts = append(orchOpts, orchestrator.WithResultSink(store))
	}
	if progress != nil {
		orchOpts = append(orchOpts, orchestrator.WithProgress(progress))
	}

	orch, err := orchestrator.New(idx, runner, orchOpts...)
	if err != nil {
		for i := len(e.cleanup) - 1; i >= 0; i-- {
			e.cleanup[i]()
		}
		return nil, err
	}
	e.orch = orch
	return e, nil
}

// Query answers one question about the document at path.
func Query(ctx context.Context, path, question string, q QueryOptions, opts Options) error {
	w := opts.out()

	var progress func(orchestrator.Event)
	if opts.Verbose {
		progress = progressPrinter(w)
	}
	e, err := newEngine(ctx, path, opts, progress)
	if err != nil {
		return err
	}
	defer e.close()

	result, err := e.orch.ExecuteQuery(ctx, q.SessionID, question, q.partial())
	if orchestrator.IsConfigError(err) {
		return err
	}
	if opts.JSON {
		if perr := printJSON(w, result); perr != nil {
			return perr
		}
	} else {
		printResult(w, result)
	}
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	return nil
}

// ListChunks prints the chunk layout of the document at path. A non-empty
// prefix restricts the listing to matching chunk ids.
func ListChunks(ctx context.Context, path, prefix string, opts Options) error {
	doc, cleanup, err := inspect(ctx, path, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	chunks, err := doc.chunks(ctx, prefix)
	if err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(opts.out(), chunks)
	}
	printChunks(opts.out(), doc.stats(), chunks)
	return nil
}

// Peek prints the document text between byte offsets start and end.
func Peek(ctx context.Context, path string, start, end int, opts Options) error {
	doc, cleanup, err := inspect(ctx, path, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	span, err := doc.peek(ctx, start, end)
	if err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(opts.out(), span)
	}
	printSpan(opts.out(), span)
	return nil
}

// Grep prints regular-expression matches in the document with context.
func Grep(ctx context.Context, path, pattern string, maxMatches, contextLines int, opts Options) error {
	doc, cleanup, err := inspect(ctx, path, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := doc.grep(ctx, pattern, maxMatches, contextLines)
	if err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(opts.out(), result)
	}
	printGrep(opts.out(), result)
	return nil
}

func inspect(ctx context.Context, path string, opts Options) (document, func(), error) {
	settings, err := loadSettings(opts)
	if err != nil {
		return nil, nil, err
	}
	return openDocument(ctx, settings, path, newLogger(opts.errOut(), opts.Verbose, "[clew] "))
}

// History prints stored results for a session, newest first. An empty
// sessionID lists the known sessions instead.
func History(ctx context.Context, sessionID string, limit int, opts Options) error {
	settings, err := loadSettings(opts)
	if err != nil {
		return err
	}
	store, closeStore := openStorage(settings)
	if store == nil {
		return fmt.Errorf("no history available at %s", settings.Storage.DBPath)
	}
	defer closeStore()

	w := opts.out()
	if sessionID == "" {
		sessions, err := store.ListSessions(ctx)
		if err != nil {
			return err
		}
		if opts.JSON {
			return printJSON(w, sessions)
		}
		for _, id := range sessions {
			fmt.Fprintln(w, id)
		}
		return nil
	}

	results, err := store.ListBySession(ctx, sessionID, limit)
	if err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(w, results)
	}
	printHistory(w, results)
	return nil
}

// Serve exposes the orchestrator over MCP: stdio when httpAddr is empty,
// streamable HTTP otherwise. It blocks until ctx is cancelled.
func Serve(ctx context.Context, path, httpAddr string, opts Options) error {
	e, err := newEngine(ctx, path, opts, nil)
	if err != nil {
		return err
	}
	defer e.close()

	server, err := mcp.NewServer(e.orch, newLogger(opts.errOut(), opts.Verbose, "[mcp] "))
	if err != nil {
		return err
	}
	if httpAddr != "" {
		return server.RunHTTP(ctx, httpAddr)
	}
	return server.Run(ctx)
}
