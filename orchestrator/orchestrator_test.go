package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/richinex/clew/aggregator"
	"github.com/richinex/clew/chunker"
	"github.com/richinex/clew/index"
	"github.com/richinex/clew/model"
	"github.com/richinex/clew/subagent"
)

func TestMain(m *testing.M) {
	// The genai SDK starts an opencensus stats worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

var quiet = log.New(io.Discard, "", 0)

// fakeIndex serves fixed chunks. match, when set, picks chunk indexes per query.
type fakeIndex struct {
	mu       sync.Mutex
	chunks   []chunker.Chunk
	match    func(query string) []int
	queries  []string
	fetches  map[string]int
	queryErr error
	getErr   error
}

func newFakeIndex(n int) *fakeIndex {
	idx := &fakeIndex{fetches: make(map[string]int)}
	for i := 0; i < n; i++ {
		idx.chunks = append(idx.chunks, chunker.Chunk{
			ID:        chunker.ChunkID(i),
			Index:     i,
			Content:   fmt.Sprintf("content of chunk %d", i),
			LineStart: i*10 + 1,
			LineEnd:   i*10 + 10,
		})
	}
	return idx
}

func (f *fakeIndex) Query(ctx context.Context, text string, limit int) ([]index.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, text)
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	picked := make([]int, len(f.chunks))
	for i := range picked {
		picked[i] = i
	}
	if f.match != nil {
		picked = f.match(text)
	}
	var out []index.Match
	for _, i := range picked {
		if len(out) == limit {
			break
		}
		out = append(out, index.Match{ChunkID: f.chunks[i].ID, Index: i, Score: 1})
	}
	return out, nil
}

func (f *fakeIndex) GetChunk(ctx context.Context, id string) (chunker.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[id]++
	if f.getErr != nil {
		return chunker.Chunk{}, f.getErr
	}
	for _, c := range f.chunks {
		if c.ID == id {
			return c, nil
		}
	}
	return chunker.Chunk{}, index.ErrChunkNotFound
}

func (f *fakeIndex) queryLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type recordingSink struct {
	mu      sync.Mutex
	results []model.QueryResult
}

func (s *recordingSink) Save(ctx context.Context, r model.QueryResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

var excerptID = regexp.MustCompile(`Excerpt (chunk_\d+)`)

// scriptedRunner answers analysis prompts with analyze(chunkID) and
// synthesis prompts with synthesize().
type scriptedRunner struct {
	analyze    func(chunkID string) (string, error)
	synthesize func() (string, error)
	synthCalls atomic.Int32
}

func (r *scriptedRunner) Run(ctx context.Context, req subagent.Request) (string, error) {
	if m := excerptID.FindStringSubmatch(req.Prompt); m != nil {
		return r.analyze(m[1])
	}
	r.synthCalls.Add(1)
	if r.synthesize == nil {
		return `{"answer":"synthesized","key_points":["k"],"confidence":"high"}`, nil
	}
	return r.synthesize()
}

// findings builds a reply with n distinct points for chunkID.
func findings(chunkID string, n int, followup string) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"point":"fact %d from %s","confidence":"medium","suggested_followup":%q}`, i, chunkID, followup)
	}
	return `{"findings":[` + strings.Join(items, ",") + `]}`
}

func newOrchestrator(t *testing.T, idx index.Index, runner subagent.Runner, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(idx, runner, append([]Option{WithLogger(quiet)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

func intPtr(n int) *int { return &n }

func TestConvergesWhenSecondIterationAddsNothing(t *testing.T) {
	idx := newFakeIndex(2)
	runner := &scriptedRunner{analyze: func(id string) (string, error) { return findings(id, 4, ""), nil }}
	sink := &recordingSink{}
	o := newOrchestrator(t, idx, runner, WithResultSink(sink))

	result, err := o.ExecuteQuery(context.Background(), "s1", "what is it?", nil)
	require.NoError(t, err)

	assert.Equal(t, model.StatusComplete, result.Status)
	assert.Equal(t, 2, result.Iterations, "8 then 0 converges at iteration 2")
	assert.Len(t, result.Evidence, 8)
	assert.Equal(t, 2, result.ChunksAnalyzed)
	assert.Zero(t, result.ChunksFailed)
	require.NotNil(t, result.Synthesis)
	assert.Equal(t, "synthesized", result.Synthesis.Answer)
	assert.Equal(t, model.ConfidenceMedium, result.Confidence)
	assert.Len(t, idx.queryLog(), 2)
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "s1", result.SessionID)

	require.Len(t, sink.results, 1)
	assert.Equal(t, result.ID, sink.results[0].ID)
}

func TestStopsWhenEvidenceCapReached(t *testing.T) {
	idx := newFakeIndex(6)
	runner := &scriptedRunner{analyze: func(id string) (string, error) { return findings(id, 4, "more"), nil }}
	cfg := DefaultConfig()
	cfg.ChunksPerIteration = 2
	o := newOrchestrator(t, idx, runner, WithConfig(cfg), WithAggregatorConfig(aggregator.Config{MaxFindings: 5}))

	result, err := o.ExecuteQuery(context.Background(), "", "what is it?", nil)
	require.NoError(t, err)

	assert.Equal(t, model.StatusComplete, result.Status)
	assert.Equal(t, 1, result.Iterations)
	assert.Len(t, result.Evidence, 5)
	assert.Len(t, idx.queryLog(), 1, "a full aggregator ends the loop")
}

// notebookIndex records the notes written to it.
type notebookIndex struct {
	*fakeIndex
	labels []string
	notes  []string
	err    error
}

func (n *notebookIndex) AddBuffer(ctx context.Context, content, label string) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return 0, n.err
	}
	n.labels = append(n.labels, label)
	n.notes = append(n.notes, content)
	return len(n.notes) - 1, nil
}

func TestWritesIterationNotes(t *testing.T) {
	idx := &notebookIndex{fakeIndex: newFakeIndex(2)}
	runner := &scriptedRunner{analyze: func(id string) (string, error) { return findings(id, 2, ""), nil }}
	o := newOrchestrator(t, idx, runner)

	result, err := o.ExecuteQuery(context.Background(), "s1", "what is it?", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Iterations)

	require.Equal(t, []string{"s1/iteration-1"}, idx.labels, "an iteration adding nothing writes no note")
	assert.Contains(t, idx.notes[0], "[chunk_000] fact 0 from chunk_000")
	assert.Contains(t, idx.notes[0], "[chunk_001] fact 1 from chunk_001")
}

func TestNoteFailureDoesNotFailQuery(t *testing.T) {
	idx := &notebookIndex{fakeIndex: newFakeIndex(1), err: errors.New("repl gone")}
	runner := &scriptedRunner{analyze: func(id string) (string, error) { return findings(id, 1, ""), nil }}
	o := newOrchestrator(t, idx, runner)

	result, err := o.ExecuteQuery(context.Background(), "s1", "what is it?", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusComplete, result.Status)
	assert.Len(t, result.Evidence, 1)
}

func TestSessionsListsKnownSessions(t *testing.T) {
	runner := &scriptedRunner{analyze: func(id string) (string, error) { return findings(id, 1, ""), nil }}
	o := newOrchestrator(t, newFakeIndex(1), runner)

	for _, id := range []string{"beta", "alpha"} {
		_, err := o.ExecuteQuery(context.Background(), id, "q", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"alpha", "beta"}, o.Sessions())
}

func TestRefinesQueryFromFollowups(t *testing.T) {
	idx := newFakeIndex(5)
	idx.match = func(q string) []int {
		if strings.Contains(q, "budget") {
			return []int{0, 1, 2, 3, 4}
		}
		return []int{0, 1}
	}
	runner := &scriptedRunner{analyze: func(id string) (string, error) {
		return findings(id, 5, "budget details"), nil
	}}
	o := newOrchestrator(t, idx, runner, WithConfig(func() Config {
		cfg := DefaultConfig()
		cfg.MaxIterations = 5
		return cfg
	}()))

	result, err := o.ExecuteQuery(context.Background(), "", "q", nil)
	require.NoError(t, err)

	// 10, 15, then 0 new findings: not converged at 2 (60%), converged at 3.
	assert.Equal(t, 3, result.Iterations)
	assert.Len(t, result.Evidence, 25)
	queries := idx.queryLog()
	require.Len(t, queries, 3)
	assert.Equal(t, "q", queries[0])
	assert.Equal(t, "q budget details", queries[1])
	assert.NotEmpty(t, result.SessionID)
}

func TestNoEvidenceSkipsSynthesis(t *testing.T) {
	idx := newFakeIndex(3)
	runner := &scriptedRunner{analyze: func(id string) (string, error) { return `{"findings":[]}`, nil }}
	o := newOrchestrator(t, idx, runner)

	result, err := o.ExecuteQuery(context.Background(), "s1", "anything?", nil)
	require.NoError(t, err)

	assert.Equal(t, model.StatusComplete, result.Status)
	assert.Empty(t, result.Evidence)
	require.NotNil(t, result.Synthesis)
	assert.Equal(t, noEvidenceAnswer, result.Synthesis.Answer)
	assert.Equal(t, model.ConfidenceLow, result.Confidence)
	assert.Zero(t, runner.synthCalls.Load())
}

func TestChunkFailuresAreAbsorbed(t *testing.T) {
	idx := newFakeIndex(3)
	runner := &scriptedRunner{analyze: func(id string) (string, error) {
		if id == "chunk_001" {
			return "", errors.New("model unavailable")
		}
		return findings(id, 2, ""), nil
	}}
	o := newOrchestrator(t, idx, runner)

	result, err := o.ExecuteQuery(context.Background(), "s1", "q", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusComplete, result.Status)
	assert.Equal(t, 2, result.ChunksAnalyzed)
	assert.Equal(t, 1, result.ChunksFailed)
	assert.Len(t, result.Evidence, 4)
	require.NotNil(t, result.Synthesis)
}

func TestAllChunksFailingYieldsLowConfidence(t *testing.T) {
	idx := newFakeIndex(2)
	runner := &scriptedRunner{analyze: func(id string) (string, error) { return "not json at all", nil }}
	o := newOrchestrator(t, idx, runner)

	result, err := o.ExecuteQuery(context.Background(), "s1", "q", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ChunksFailed)
	assert.Empty(t, result.Evidence)
	assert.Equal(t, model.ConfidenceLow, result.Confidence)
}

func TestSynthesisFailureIsPartial(t *testing.T) {
	idx := newFakeIndex(2)
	runner := &scriptedRunner{
		analyze:    func(id string) (string, error) { return findings(id, 1, ""), nil },
		synthesize: func() (string, error) { return "", errors.New("synthesis backend down") },
	}
	o := newOrchestrator(t, idx, runner)

	result, err := o.ExecuteQuery(context.Background(), "s1", "q", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartial, result.Status)
	assert.Nil(t, result.Synthesis)
	assert.Len(t, result.Evidence, 2)
	assert.Contains(t, result.Error, "synthesis failed")
}

func TestIndexQueryFailureIsFatal(t *testing.T) {
	idx := newFakeIndex(2)
	idx.queryErr = errors.New("index offline")
	runner := &scriptedRunner{analyze: func(id string) (string, error) { return findings(id, 1, ""), nil }}
	sink := &recordingSink{}
	o := newOrchestrator(t, idx, runner, WithResultSink(sink))

	result, err := o.ExecuteQuery(context.Background(), "s1", "q", nil)
	var ie *IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "query", ie.Op)
	assert.Equal(t, model.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "index offline")

	st, err := o.Status("s1")
	require.NoError(t, err)
	assert.Equal(t, PhaseError, st.Phase)
	require.Len(t, sink.results, 1)
	assert.Equal(t, model.StatusFailed, sink.results[0].Status)
}

func TestIndexFetchFailureIsFatal(t *testing.T) {
	idx := newFakeIndex(2)
	idx.getErr = errors.New("disk error")
	runner := &scriptedRunner{analyze: func(id string) (string, error) { return findings(id, 1, ""), nil }}
	o := newOrchestrator(t, idx, runner)

	_, err := o.ExecuteQuery(context.Background(), "s1", "q", nil)
	var ie *IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "get_chunk", ie.Op)
	assert.Equal(t, "chunk_000", ie.ChunkID)
}

func TestChunksAreFetchedOncePerSession(t *testing.T) {
	idx := newFakeIndex(3)
	runner := &scriptedRunner{analyze: func(id string) (string, error) { return findings(id, 1, ""), nil }}
	o := newOrchestrator(t, idx, runner)
	ctx := context.Background()

	_, err := o.ExecuteQuery(ctx, "s1", "first question", nil)
	require.NoError(t, err)
	_, err = o.ExecuteQuery(ctx, "s1", "second question", nil)
	require.NoError(t, err)

	for id, n := range idx.fetches {
		assert.Equal(t, 1, n, "chunk %s fetched more than once", id)
	}

	st, err := o.Status("s1")
	require.NoError(t, err)
	assert.Equal(t, 3, st.ChunksHeld)
	assert.Equal(t, PhaseDone, st.Phase)
	assert.Equal(t, "second question", st.Query)
}

func TestCancelStopsBeforeNextIteration(t *testing.T) {
	idx := newFakeIndex(4)
	idx.match = func(q string) []int {
		if strings.Contains(q, "more") {
			return []int{2, 3}
		}
		return []int{0, 1}
	}
	runner := &scriptedRunner{analyze: func(id string) (string, error) { return findings(id, 2, "more"), nil }}

	var o *Orchestrator
	o = newOrchestrator(t, idx, runner, WithProgress(func(e Event) {
		if e.Phase == PhaseAggregating && e.Iteration == 1 {
			require.NoError(t, o.Cancel(e.SessionID))
		}
	}))

	result, err := o.ExecuteQuery(context.Background(), "s1", "q", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, result.Status)
	assert.Nil(t, result.Synthesis)
	assert.Equal(t, 1, result.Iterations)
	assert.Len(t, result.Evidence, 4, "the finished batch is kept")
	assert.Len(t, idx.queryLog(), 1)
	assert.Zero(t, runner.synthCalls.Load())

	st, err := o.Status("s1")
	require.NoError(t, err)
	assert.Equal(t, PhaseCancelled, st.Phase)
}

func TestConfigSnapshotIsolatesRunningQuery(t *testing.T) {
	idx := newFakeIndex(2)
	runner := &scriptedRunner{analyze: func(id string) (string, error) { return findings(id, 4, ""), nil }}

	var o *Orchestrator
	o = newOrchestrator(t, idx, runner, WithProgress(func(e Event) {
		if e.Phase == PhaseSearching && e.Iteration == 1 {
			_, err := o.Configure(Partial{MaxIterations: intPtr(1)})
			require.NoError(t, err)
		}
	}))

	result, err := o.ExecuteQuery(context.Background(), "s1", "q", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, 1, o.Config().MaxIterations)
}

func TestConfigureValidates(t *testing.T) {
	o := newOrchestrator(t, newFakeIndex(1), &scriptedRunner{})

	name := "sonnet"
	cfg, err := o.Configure(Partial{Model: &name, ChunksPerIteration: intPtr(20)})
	require.NoError(t, err)
	assert.Equal(t, "sonnet", cfg.Model)
	assert.Equal(t, 20, cfg.ChunksPerIteration)

	cfg, err = o.Configure(Partial{MaxConcurrent: intPtr(0)})
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "max_concurrent", ce.Field)
	assert.Equal(t, DefaultMaxConcurrent, cfg.MaxConcurrent, "rejected changes are not applied")
	assert.Equal(t, "sonnet", o.Config().Model)
}

func TestInvalidOverrideRunsNothing(t *testing.T) {
	idx := newFakeIndex(1)
	var calls atomic.Int32
	runner := subagent.RunnerFunc(func(ctx context.Context, req subagent.Request) (string, error) {
		calls.Add(1)
		return "", nil
	})
	o := newOrchestrator(t, idx, runner)

	result, err := o.ExecuteQuery(context.Background(), "s1", "q", &Partial{MaxIterations: intPtr(0)})
	assert.True(t, IsConfigError(err))
	assert.Equal(t, model.StatusFailed, result.Status)

	_, err = o.ExecuteQuery(context.Background(), "s1", "   ", nil)
	assert.True(t, IsConfigError(err))

	assert.Zero(t, calls.Load())
	assert.Empty(t, idx.queryLog())
}

func TestConcurrencyIsBounded(t *testing.T) {
	idx := newFakeIndex(8)
	var current, peak atomic.Int32
	runner := &scriptedRunner{analyze: func(id string) (string, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return findings(id, 1, ""), nil
	}}
	o := newOrchestrator(t, idx, runner)

	two := 2
	result, err := o.ExecuteQuery(context.Background(), "s1", "q", &Partial{MaxConcurrent: &two})
	require.NoError(t, err)
	assert.Equal(t, 8, result.ChunksAnalyzed)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestSessionBusy(t *testing.T) {
	idx := newFakeIndex(1)
	started := make(chan struct{})
	release := make(chan struct{})
	runner := &scriptedRunner{analyze: func(id string) (string, error) {
		close(started)
		<-release
		return findings(id, 1, ""), nil
	}}
	o := newOrchestrator(t, idx, runner)

	done := make(chan error, 1)
	go func() {
		_, err := o.ExecuteQuery(context.Background(), "s1", "q", nil)
		done <- err
	}()
	<-started

	_, err := o.ExecuteQuery(context.Background(), "s1", "q", nil)
	assert.ErrorIs(t, err, ErrSessionBusy)

	st, err := o.Status("s1")
	require.NoError(t, err)
	assert.Equal(t, PhaseAnalyzing, st.Phase)
	assert.Equal(t, 1, st.InFlight)

	close(release)
	require.NoError(t, <-done)
}

func TestShutdownRejectsNewQueries(t *testing.T) {
	idx := newFakeIndex(1)
	runner := &scriptedRunner{analyze: func(id string) (string, error) { return findings(id, 1, ""), nil }}
	o := newOrchestrator(t, idx, runner)

	_, err := o.ExecuteQuery(context.Background(), "s1", "q", nil)
	require.NoError(t, err)

	require.NoError(t, o.Shutdown(context.Background()))
	_, err = o.ExecuteQuery(context.Background(), "s1", "q", nil)
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestShutdownWaitsForRunningQuery(t *testing.T) {
	idx := newFakeIndex(1)
	started := make(chan struct{})
	release := make(chan struct{})
	runner := &scriptedRunner{analyze: func(id string) (string, error) {
		close(started)
		<-release
		return findings(id, 1, ""), nil
	}}
	o := newOrchestrator(t, idx, runner)

	done := make(chan model.QueryResult, 1)
	go func() {
		result, _ := o.ExecuteQuery(context.Background(), "s1", "q", nil)
		done <- result
	}()
	<-started

	shut := make(chan error, 1)
	go func() { shut <- o.Shutdown(context.Background()) }()

	select {
	case <-shut:
		t.Fatal("Shutdown returned while a call was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-shut)
	result := <-done
	assert.Equal(t, model.StatusCancelled, result.Status)
	assert.Len(t, result.Evidence, 1, "the dispatched call completed")
}

func TestStatusUnknownSession(t *testing.T) {
	o := newOrchestrator(t, newFakeIndex(1), &scriptedRunner{})
	_, err := o.Status("nope")
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.ErrorIs(t, o.Cancel("nope"), ErrUnknownSession)
}

func TestProgressEvents(t *testing.T) {
	idx := newFakeIndex(1)
	runner := &scriptedRunner{analyze: func(id string) (string, error) { return findings(id, 1, ""), nil }}

	var phases []Phase
	o := newOrchestrator(t, idx, runner, WithProgress(func(e Event) { phases = append(phases, e.Phase) }))

	_, err := o.ExecuteQuery(context.Background(), "s1", "q", nil)
	require.NoError(t, err)
	assert.Equal(t, []Phase{
		PhaseSearching, PhaseFetching, PhaseAnalyzing, PhaseAggregating,
		PhaseSearching, PhaseFetching, PhaseAnalyzing, PhaseAggregating,
		PhaseSynthesizing, PhaseDone,
	}, phases)
}

func TestRefine(t *testing.T) {
	assert.Equal(t, "q", refine("q", nil))
	assert.Equal(t, "q a b c", refine("q", []string{"a", "b", "c", "d", "e"}))
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "synthesizing", PhaseSynthesizing.String())
	assert.True(t, PhaseCancelled.Terminal())
	assert.False(t, PhaseAnalyzing.Terminal())
}
