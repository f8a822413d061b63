// Package subagent dispatches one-shot model invocations over document
// chunks, bounded by a semaphore and backed by a per-client reply cache.
//
// Information Hiding:
// - Prompt wording and reply parsing
// - Cache keying, TTL eviction, and hit accounting
// - Permit handling around each invocation
// - Retry backoff
package subagent

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/richinex/clew/chunker"
	"github.com/richinex/clew/model"
	"github.com/richinex/clew/semaphore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Defaults for a new client.
const (
	DefaultMaxConcurrent = 3
	DefaultTimeout       = 60 * time.Second
)

// Analysis is the parsed outcome of analyzing one chunk.
type Analysis struct {
	ChunkID  string
	Findings []model.Finding
	Cached   bool
}

// ChunkResult is one entry of a batch. Err is set when the chunk failed;
// such a chunk contributes no findings.
type ChunkResult struct {
	Chunk    chunker.Chunk
	Findings []model.Finding
	Cached   bool
	Err      error
}

// Client invokes a Runner for analysis and synthesis. Each client owns its
// semaphore and cache; neither is shared with other clients.
type Client struct {
	runner  Runner
	sem     *semaphore.Semaphore
	cache   *responseCache
	limiter *rate.Limiter
	timeout time.Duration
	retries int
	logger  *log.Logger
	metrics *Metrics
}

type clientOptions struct {
	maxConcurrent int
	timeout       time.Duration
	cacheTTL      time.Duration
	retries       int
	rps           float64
	burst         int
	logger        *log.Logger
	now           func() time.Time
}

// Option configures a Client.
type Option func(*clientOptions)

// WithMaxConcurrent bounds simultaneous invocations.
func WithMaxConcurrent(n int) Option {
	return func(o *clientOptions) { o.maxConcurrent = n }
}

// WithTimeout sets the per-invocation deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithCacheTTL sets how long replies are reused. Zero disables caching.
func WithCacheTTL(d time.Duration) Option {
	return func(o *clientOptions) { o.cacheTTL = d }
}

// WithRetries retries failed invocations with exponential backoff.
func WithRetries(n int) Option {
	return func(o *clientOptions) { o.retries = n }
}

// WithRateLimit paces invocations to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *clientOptions) {
		o.rps = rps
		o.burst = burst
	}
}

// WithLogger sets the logger for per-chunk failures.
func WithLogger(l *log.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithClock replaces time.Now for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) { o.now = now }
}

// NewClient creates a client around runner.
func NewClient(runner Runner, opts ...Option) *Client {
	o := clientOptions{
		maxConcurrent: DefaultMaxConcurrent,
		timeout:       DefaultTimeout,
		cacheTTL:      DefaultCacheTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	if o.logger == nil {
		o.logger = log.New(os.Stderr, "[subagent] ", log.LstdFlags)
	}

	c := &Client{
		runner:  runner,
		sem:     semaphore.New(o.maxConcurrent),
		cache:   newResponseCache(o.cacheTTL, o.now),
		timeout: o.timeout,
		retries: o.retries,
		logger:  o.logger,
		metrics: &Metrics{},
	}
	if o.rps > 0 {
		burst := o.burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(o.rps), burst)
	}
	return c
}

// Analyze extracts findings relevant to question from one chunk.
func (c *Client) Analyze(ctx context.Context, chunk chunker.Chunk, question, modelName string) (Analysis, error) {
	key := cacheKey(chunk.Content, question, modelName)
	if reply, ok := c.cache.get(key); ok {
		if findings, err := parseFindings(reply, chunk); err == nil {
			c.metrics.CacheHits.Add(1)
			return Analysis{ChunkID: chunk.ID, Findings: findings, Cached: true}, nil
		}
	}

	reply, err := c.invoke(ctx, "analyze", chunk.ID, Request{
		System: analysisSystem,
		Prompt: analysisPrompt(chunk, question),
		Model:  modelName,
	})
	if err != nil {
		return Analysis{ChunkID: chunk.ID}, err
	}

	findings, err := parseFindings(reply, chunk)
	if err != nil {
		c.metrics.Failures.Add(1)
		return Analysis{ChunkID: chunk.ID}, &Error{
			Kind:    KindParse,
			Op:      "analyze",
			ChunkID: chunk.ID,
			Err:     err,
		}
	}

	c.cache.put(key, reply)
	c.metrics.Findings.Add(int64(len(findings)))
	return Analysis{ChunkID: chunk.ID, Findings: findings}, nil
}

// Synthesize builds the final answer from ranked findings.
func (c *Client) Synthesize(ctx context.Context, findings []model.Finding, question, modelName string) (model.Synthesis, error) {
	reply, err := c.invoke(ctx, "synthesize", "", Request{
		System: synthesisSystem,
		Prompt: synthesisPrompt(findings, question),
		Model:  modelName,
	})
	if err != nil {
		return model.Synthesis{}, err
	}

	synthesis, err := parseSynthesis(reply)
	if err != nil {
		c.metrics.Failures.Add(1)
		return model.Synthesis{}, &Error{Kind: KindParse, Op: "synthesize", Err: err, Detail: truncate(reply, 200)}
	}
	return synthesis, nil
}

// QueryBatch analyzes every chunk concurrently and waits for all of them.
// Results keep the order of chunks. Failures are reported per chunk.
func (c *Client) QueryBatch(ctx context.Context, chunks []chunker.Chunk, question, modelName string) []ChunkResult {
	results := make([]ChunkResult, len(chunks))

	var g errgroup.Group
	for i, chunk := range chunks {
		g.Go(func() error {
			analysis, err := c.Analyze(ctx, chunk, question, modelName)
			results[i] = ChunkResult{Chunk: chunk, Findings: analysis.Findings, Cached: analysis.Cached, Err: err}
			if err != nil {
				c.logger.Printf("chunk %s: %v", chunk.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// invoke runs one call under a permit. Queued acquisition honours ctx; once
// the permit is held the call runs to completion or timeout regardless.
func (c *Client) invoke(ctx context.Context, op, chunkID string, req Request) (string, error) {
	permit, err := c.sem.Acquire(ctx)
	if err != nil {
		kind := KindCanceled
		if errors.Is(err, semaphore.ErrDrained) {
			kind = KindDrained
		}
		return "", &Error{Kind: kind, Op: op, ChunkID: chunkID, Err: err}
	}
	defer c.sem.Release(permit)

	detached := context.WithoutCancel(ctx)
	start := time.Now()
	defer func() { c.metrics.TotalDuration.Add(int64(time.Since(start))) }()

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff(attempt))
		}
		reply, err := c.attempt(detached, req)
		if err == nil {
			return reply, nil
		}
		lastErr = c.classify(err, op, chunkID)
		if !retryable(lastErr) {
			break
		}
	}

	c.metrics.Failures.Add(1)
	var se *Error
	if errors.As(lastErr, &se) && se.Kind == KindTimeout {
		c.metrics.Timeouts.Add(1)
	}
	return "", lastErr
}

func (c *Client) attempt(ctx context.Context, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(callCtx); err != nil {
			return "", &Error{Kind: KindTimeout, Err: err}
		}
	}

	c.metrics.Calls.Add(1)
	reply, err := c.runner.Run(callCtx, req)
	if err != nil && callCtx.Err() == context.DeadlineExceeded {
		return "", &Error{Kind: KindTimeout, Err: context.DeadlineExceeded}
	}
	return reply, err
}

// classify fills in call identity and turns untyped runner errors into exit failures.
func (c *Client) classify(err error, op, chunkID string) error {
	var se *Error
	if errors.As(err, &se) {
		out := *se
		out.Op = op
		out.ChunkID = chunkID
		return &out
	}
	return &Error{Kind: KindExit, Op: op, ChunkID: chunkID, Err: err}
}

func retryable(err error) bool {
	var se *Error
	if !errors.As(err, &se) {
		return true
	}
	return se.Kind == KindExit || se.Kind == KindTimeout
}

// backoff returns the delay before the given retry attempt.
func backoff(attempt int) time.Duration {
	const (
		baseDelay = 100 * time.Millisecond
		maxDelay  = 5 * time.Second
	)
	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// Drain rejects queued and future invocations. In-flight calls finish.
func (c *Client) Drain() {
	c.sem.Drain()
}

// Wait blocks until no invocation is in flight or ctx is done.
func (c *Client) Wait(ctx context.Context) error {
	return c.sem.Wait(ctx)
}

// InFlight returns the number of invocations holding a permit.
func (c *Client) InFlight() int {
	return c.sem.InUse()
}

// Queued returns the number of invocations waiting for a permit.
func (c *Client) Queued() int {
	return c.sem.Waiting()
}

// PurgeCache drops expired replies and returns how many remain.
func (c *Client) PurgeCache() int {
	return c.cache.purge()
}

// Metrics returns the client's counters.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}
