// Package orchestrator runs the iterative question-answering loop over a
// document index: search, fetch, analyze, aggregate, converge, synthesize.
//
// Information Hiding:
// - Session table, per-session chunk store and sub-agent client
// - Query refinement from follow-up suggestions
// - Phase bookkeeping and progress events
// - Config snapshots isolating running queries from reconfiguration
package orchestrator

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/richinex/clew/aggregator"
	"github.com/richinex/clew/chunker"
	"github.com/richinex/clew/index"
	"github.com/richinex/clew/model"
	"github.com/richinex/clew/subagent"
)

// ResultSink persists finalized query results.
type ResultSink interface {
	Save(ctx context.Context, result model.QueryResult) error
}

// Notebook is implemented by indexes that keep labelled notes next to the
// document. Each iteration's findings are written to it.
type Notebook interface {
	AddBuffer(ctx context.Context, content, label string) (int, error)
}

// Orchestrator is safe for concurrent use. Each session runs at most one
// query at a time; different sessions run independently.
type Orchestrator struct {
	index    index.Index
	runner   subagent.Runner
	sink     ResultSink
	logger   *log.Logger
	progress func(Event)
	aggCfg   aggregator.Config

	mu       sync.Mutex
	cfg      Config
	sessions map[string]*session
	closed   bool
	loops    sync.WaitGroup
}

// session is one caller's context: the chunks it has fetched, its
// sub-agent client, and the state of its latest query.
type session struct {
	id string

	mu        sync.Mutex
	chunks    map[string]chunker.Chunk
	client    *subagent.Client
	clientKey clientKey
	running   bool
	cancel    context.CancelFunc
	status    Status
}

type options struct {
	cfg      Config
	sink     ResultSink
	logger   *log.Logger
	progress func(Event)
	aggCfg   aggregator.Config
}

// Option configures an Orchestrator.
type Option func(*options)

// WithConfig sets the initial configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithResultSink persists every finalized result.
func WithResultSink(sink ResultSink) Option {
	return func(o *options) { o.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithProgress registers a callback invoked on every phase transition.
// It runs on the query's goroutine and must not block.
func WithProgress(fn func(Event)) Option {
	return func(o *options) { o.progress = fn }
}

// WithAggregatorConfig tunes convergence.
func WithAggregatorConfig(cfg aggregator.Config) Option {
	return func(o *options) { o.aggCfg = cfg }
}

// New creates an orchestrator over idx that analyzes chunks with runner.
func New(idx index.Index, runner subagent.Runner, opts ...Option) (*Orchestrator, error) {
	o := options{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = log.New(os.Stderr, "[orchestrator] ", log.LstdFlags)
	}

	return &Orchestrator{
		index:    idx,
		runner:   runner,
		sink:     o.sink,
		logger:   o.logger,
		progress: o.progress,
		aggCfg:   o.aggCfg,
		cfg:      o.cfg,
		sessions: make(map[string]*session),
	}, nil
}

// Config returns the configuration future queries will use.
func (o *Orchestrator) Config() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Configure applies p for future queries and returns the effective config.
// Running queries keep the config they started with.
func (o *Orchestrator) Configure(p Partial) (Config, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	next := o.cfg.Apply(p)
	if err := next.Validate(); err != nil {
		return o.cfg, err
	}
	o.cfg = next
	return next, nil
}

// Status returns a snapshot of the session's latest query.
func (o *Orchestrator) Status(sessionID string) (Status, error) {
	s, ok := o.lookup(sessionID)
	if !ok {
		return Status{}, ErrUnknownSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.ChunksHeld = len(s.chunks)
	if s.client != nil {
		st.InFlight = s.client.InFlight()
		st.Queued = s.client.Queued()
	}
	return st, nil
}

// Sessions returns the ids of every known session, sorted.
func (o *Orchestrator) Sessions() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cancel stops the session's running query before its next iteration.
// Calls already dispatched finish. Cancelling an idle session does nothing.
func (o *Orchestrator) Cancel(sessionID string) error {
	s, ok := o.lookup(sessionID)
	if !ok {
		return ErrUnknownSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Shutdown rejects new queries, cancels running ones, drains every session's
// sub-agent client, and waits for in-flight calls and loops to finish or ctx
// to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	sessions := make([]*session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.mu.Unlock()

	var clients []*subagent.Client
	for _, s := range sessions {
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		if s.client != nil {
			s.client.Drain()
			clients = append(clients, s.client)
		}
		s.mu.Unlock()
	}

	for _, c := range clients {
		if err := c.Wait(ctx); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		o.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) lookup(sessionID string) (*session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	return s, ok
}

// begin claims the session for one query and returns its client and a
// cancellable context.
func (o *Orchestrator) begin(ctx context.Context, sessionID, query string, cfg Config) (*session, *subagent.Client, context.Context, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, nil, nil, ErrShutdown
	}
	s, ok := o.sessions[sessionID]
	if !ok {
		s = &session{id: sessionID, chunks: make(map[string]chunker.Chunk)}
		o.sessions[sessionID] = s
	}
	o.loops.Add(1)
	o.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		o.loops.Done()
		return nil, nil, nil, ErrSessionBusy
	}

	if s.client == nil || s.clientKey != cfg.clientKey() {
		// The previous client is idle: no query is running on this session.
		s.client = o.newClient(cfg)
		s.clientKey = cfg.clientKey()
	} else {
		s.client.PurgeCache()
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.status = Status{SessionID: sessionID, Phase: PhaseIdle, Query: query}
	return s, s.client, runCtx, nil
}

func (o *Orchestrator) end(s *session) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.running = false
	s.mu.Unlock()
	o.loops.Done()
}

func (o *Orchestrator) newClient(cfg Config) *subagent.Client {
	opts := []subagent.Option{
		subagent.WithMaxConcurrent(cfg.MaxConcurrent),
		subagent.WithTimeout(cfg.Timeout),
		subagent.WithCacheTTL(cfg.CacheTTL),
		subagent.WithRetries(cfg.Retries),
		subagent.WithLogger(log.New(o.logger.Writer(), "[subagent] ", o.logger.Flags())),
	}
	if cfg.RequestsPerSecond > 0 {
		opts = append(opts, subagent.WithRateLimit(cfg.RequestsPerSecond, 1))
	}
	return subagent.NewClient(o.runner, opts...)
}

// setPhase records a transition and emits a progress event.
func (o *Orchestrator) setPhase(s *session, phase Phase, iteration int, query string, chunks, findings int, msg string) {
	s.mu.Lock()
	s.status.Phase = phase
	s.status.Iteration = iteration
	s.status.Query = query
	s.status.FindingsSoFar = findings
	s.mu.Unlock()

	if o.progress != nil {
		o.progress(Event{
			SessionID: s.id,
			Phase:     phase,
			Iteration: iteration,
			Query:     query,
			Chunks:    chunks,
			Findings:  findings,
			Message:   msg,
			Time:      time.Now(),
		})
	}
}
