package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richinex/clew/aggregator"
	"github.com/richinex/clew/chunker"
	"github.com/richinex/clew/model"
	"github.com/richinex/clew/subagent"
)

// noEvidenceAnswer is the synthesis for a query that produced no findings.
const noEvidenceAnswer = "No relevant information was found in the document for this query."

// refinementFollowups is how many follow-up suggestions extend the next query.
const refinementFollowups = 3

// run holds the state of one query.
type run struct {
	session   *session
	client    *subagent.Client
	cfg       Config
	query     string
	current   string
	agg       *aggregator.Aggregator
	analyzed  map[string]bool
	result    model.QueryResult
	iteration int
}

// ExecuteQuery answers query against the index within sessionID. An empty
// sessionID starts a new session. override, when non-nil, adjusts the
// config for this query only.
//
// Config and index failures return an error together with a failed result.
// Per-chunk failures, synthesis failures, and cancellation are reported in
// the result's Status and Error and do not return an error.
func (o *Orchestrator) ExecuteQuery(ctx context.Context, sessionID, query string, override *Partial) (model.QueryResult, error) {
	start := time.Now()
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	query = strings.TrimSpace(query)

	result := model.QueryResult{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Query:     query,
		Evidence:  []model.Finding{},
		Status:    model.StatusFailed,
		CreatedAt: start,
	}

	cfg := o.Config()
	if override != nil {
		cfg = cfg.Apply(*override)
	}
	if err := cfg.Validate(); err != nil {
		result.Error = err.Error()
		return result, err
	}
	if query == "" {
		err := &ConfigError{Field: "query", Reason: "must not be empty"}
		result.Error = err.Error()
		return result, err
	}

	s, client, runCtx, err := o.begin(ctx, sessionID, query, cfg)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	defer o.end(s)

	r := &run{
		session:  s,
		client:   client,
		cfg:      cfg,
		query:    query,
		current:  query,
		agg:      aggregator.New(o.aggCfg),
		analyzed: make(map[string]bool),
		result:   result,
	}

	err = o.loop(runCtx, r)
	r.result.Evidence = r.agg.Ranked()
	r.result.Iterations = r.agg.Iterations()
	r.result.Confidence = r.agg.Confidence()

	switch {
	case err != nil:
		r.result.Status = model.StatusFailed
		r.result.Error = err.Error()
		o.setPhase(s, PhaseError, r.iteration, r.current, 0, r.agg.Total(), err.Error())
	case runCtx.Err() != nil:
		r.result.Status = model.StatusCancelled
		r.result.Error = "query cancelled"
		o.setPhase(s, PhaseCancelled, r.iteration, r.current, 0, r.agg.Total(), "")
	default:
		o.synthesize(runCtx, r)
		o.setPhase(s, PhaseDone, r.iteration, r.current, 0, r.agg.Total(), r.result.Status.String())
	}

	r.result.ExecutionTimeMs = time.Since(start).Milliseconds()
	o.persist(ctx, r.result)
	return r.result, err
}

// loop runs iterations until convergence, the iteration limit, or
// cancellation. It returns an *IndexError when the index fails.
func (o *Orchestrator) loop(ctx context.Context, r *run) error {
	for r.iteration < r.cfg.MaxIterations {
		if ctx.Err() != nil {
			return nil
		}
		r.iteration++

		chunks, err := o.gather(ctx, r)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		o.setPhase(r.session, PhaseAnalyzing, r.iteration, r.current, len(chunks), r.agg.Total(), "")
		var findings []model.Finding
		for _, res := range r.client.QueryBatch(ctx, chunks, r.query, r.cfg.Model) {
			r.analyzed[res.Chunk.ID] = true
			if res.Err != nil {
				r.result.ChunksFailed++
				continue
			}
			r.result.ChunksAnalyzed++
			findings = append(findings, res.Findings...)
		}

		o.setPhase(r.session, PhaseAggregating, r.iteration, r.current, len(chunks), r.agg.Total(), "")
		if r.agg.AddFindings(r.iteration, findings) > 0 {
			o.note(ctx, r, findings)
		}

		if r.agg.Converged() || r.agg.Full() || r.iteration >= r.cfg.MaxIterations {
			return nil
		}
		r.current = refine(r.query, r.agg.Followups())
	}
	return nil
}

// gather searches for the current query, fetches chunks the session does
// not hold yet, and returns the matched chunks this query has not analyzed.
func (o *Orchestrator) gather(ctx context.Context, r *run) ([]chunker.Chunk, error) {
	o.setPhase(r.session, PhaseSearching, r.iteration, r.current, 0, r.agg.Total(), "")
	matches, err := o.index.Query(ctx, r.current, r.cfg.ChunksPerIteration)
	if err != nil {
		return nil, &IndexError{Op: "query", Err: err}
	}

	o.setPhase(r.session, PhaseFetching, r.iteration, r.current, len(matches), r.agg.Total(), "")
	var chunks []chunker.Chunk
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if seen[m.ChunkID] || r.analyzed[m.ChunkID] {
			continue
		}
		seen[m.ChunkID] = true

		c, err := o.fetch(ctx, r.session, m.ChunkID)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// note writes an iteration's findings to the index when it is a Notebook.
// Failures are logged only.
func (o *Orchestrator) note(ctx context.Context, r *run, findings []model.Finding) {
	nb, ok := o.index.(Notebook)
	if !ok {
		return
	}
	var b strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&b, "[%s] %s\n", f.ChunkID, f.Point)
	}
	label := fmt.Sprintf("%s/iteration-%d", r.session.id, r.iteration)
	if _, err := nb.AddBuffer(ctx, b.String(), label); err != nil {
		o.logger.Printf("session %s: failed to record notes: %v", r.session.id, err)
	}
}

// fetch returns the session's copy of a chunk, loading it on first use.
func (o *Orchestrator) fetch(ctx context.Context, s *session, id string) (chunker.Chunk, error) {
	s.mu.Lock()
	c, ok := s.chunks[id]
	s.mu.Unlock()
	if ok {
		return c, nil
	}

	c, err := o.index.GetChunk(ctx, id)
	if err != nil {
		return chunker.Chunk{}, &IndexError{Op: "get_chunk", ChunkID: id, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.chunks[id]; ok {
		return held, nil
	}
	s.chunks[id] = c
	return c, nil
}

// synthesize fills in the final answer. A failure leaves the evidence in
// place and marks the result partial.
func (o *Orchestrator) synthesize(ctx context.Context, r *run) {
	o.setPhase(r.session, PhaseSynthesizing, r.iteration, r.current, 0, r.agg.Total(), "")

	if len(r.result.Evidence) == 0 {
		r.result.Synthesis = &model.Synthesis{
			Answer:     noEvidenceAnswer,
			KeyPoints:  []string{},
			Confidence: model.ConfidenceLow,
		}
		r.result.Confidence = model.ConfidenceLow
		r.result.Status = model.StatusComplete
		return
	}

	synthesis, err := r.client.Synthesize(ctx, r.result.Evidence, r.query, r.cfg.Model)
	if err != nil {
		serr := &SynthesisError{Err: err}
		o.logger.Printf("session %s: %v", r.session.id, serr)
		r.result.Status = model.StatusPartial
		r.result.Error = serr.Error()
		return
	}
	r.result.Synthesis = &synthesis
	r.result.Status = model.StatusComplete
}

// persist hands the result to the sink. Failures are logged only.
func (o *Orchestrator) persist(ctx context.Context, result model.QueryResult) {
	if o.sink == nil {
		return
	}
	if err := o.sink.Save(context.WithoutCancel(ctx), result); err != nil {
		o.logger.Printf("failed to persist result %s: %v", result.ID, err)
	}
}

// refine appends the leading follow-up suggestions to the original query.
func refine(query string, followups []string) string {
	if len(followups) > refinementFollowups {
		followups = followups[:refinementFollowups]
	}
	if len(followups) == 0 {
		return query
	}
	return query + " " + strings.Join(followups, " ")
}

// IsConfigError reports whether err is a *ConfigError from this package or the chunker.
func IsConfigError(err error) bool {
	var oc *ConfigError
	var cc *chunker.ConfigError
	return errors.As(err, &oc) || errors.As(err, &cc)
}
