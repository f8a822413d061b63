package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/richinex/clew/aggregator"
	"github.com/richinex/clew/model"
	"github.com/richinex/clew/orchestrator"
)

// ExecuteQueryInput is the input schema for execute_query.
type ExecuteQueryInput struct {
	Query              string `json:"query" jsonschema:"the question to answer from the loaded document"`
	SessionID          string `json:"session_id,omitempty" jsonschema:"session to run in; chunks fetched earlier in the session are reused. Empty starts a new session"`
	MaxIterations      int    `json:"max_iterations,omitempty" jsonschema:"override the iteration limit for this query only (1-10)"`
	ChunksPerIteration int    `json:"chunks_per_iteration,omitempty" jsonschema:"override how many chunks each search returns (1-100)"`
	Model              string `json:"model,omitempty" jsonschema:"override the sub-agent model for this query only"`
	MaxConcurrent      int    `json:"max_concurrent,omitempty" jsonschema:"override the number of concurrent sub-agent calls (1-32)"`
	TimeoutSeconds     int    `json:"timeout_seconds,omitempty" jsonschema:"override the per-call sub-agent timeout in seconds"`
}

// FindingOutput is one piece of evidence.
type FindingOutput struct {
	ChunkID           string `json:"chunk_id"`
	Point             string `json:"point"`
	Excerpt           string `json:"excerpt,omitempty"`
	Confidence        string `json:"confidence"`
	LineStart         int    `json:"line_start"`
	LineEnd           int    `json:"line_end"`
	SuggestedFollowup string `json:"suggested_followup,omitempty"`
}

// GroupOutput is evidence sharing a key term.
type GroupOutput struct {
	Key      string          `json:"key"`
	Findings []FindingOutput `json:"findings"`
}

// ExecuteQueryOutput is the output schema for execute_query.
type ExecuteQueryOutput struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	Query           string          `json:"query"`
	Status          string          `json:"status"`
	Answer          string          `json:"answer"`
	KeyPoints       []string        `json:"key_points"`
	Confidence      string          `json:"confidence"`
	Evidence        []FindingOutput `json:"evidence"`
	Groups          []GroupOutput   `json:"groups"`
	ChunksAnalyzed  int             `json:"chunks_analyzed"`
	ChunksFailed    int             `json:"chunks_failed"`
	Iterations      int             `json:"iterations"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	Error           string          `json:"error,omitempty"`
}

// StatusInput is the input schema for orchestrator_status.
type StatusInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"the session to report on. Empty lists the known sessions instead"`
}

// StatusOutput is the output schema for orchestrator_status.
type StatusOutput struct {
	SessionID     string `json:"session_id"`
	Phase         string `json:"phase"`
	Iteration     int    `json:"iteration"`
	FindingsSoFar int    `json:"findings_so_far"`
	Query         string `json:"query"`
	ChunksHeld    int    `json:"chunks_held"`
	InFlight      int    `json:"in_flight"`
	Queued        int    `json:"queued"`

	Sessions []string `json:"sessions,omitempty"`
}

// ConfigureInput is the input schema for configure_orchestrator.
// Zero values leave the setting unchanged.
type ConfigureInput struct {
	MaxIterations      int    `json:"max_iterations,omitempty" jsonschema:"iteration limit for future queries (1-10)"`
	ChunksPerIteration int    `json:"chunks_per_iteration,omitempty" jsonschema:"chunks returned by each search (1-100)"`
	Model              string `json:"model,omitempty" jsonschema:"sub-agent model for future queries"`
	MaxConcurrent      int    `json:"max_concurrent,omitempty" jsonschema:"concurrent sub-agent calls (1-32)"`
	TimeoutSeconds     int    `json:"timeout_seconds,omitempty" jsonschema:"per-call sub-agent timeout in seconds"`
}

// ConfigOutput is the effective configuration.
type ConfigOutput struct {
	MaxIterations      int    `json:"max_iterations"`
	ChunksPerIteration int    `json:"chunks_per_iteration"`
	Model              string `json:"model"`
	MaxConcurrent      int    `json:"max_concurrent"`
	TimeoutSeconds     int    `json:"timeout_seconds"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "execute_query",
		Description: "Answer a question about the loaded document by searching it, analyzing relevant chunks with sub-agents, and synthesizing the evidence",
	}, s.handleExecuteQuery)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "orchestrator_status",
		Description: "Report the phase and progress of a session's latest query, or list sessions when no session_id is given",
	}, s.handleStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "configure_orchestrator",
		Description: "Change iteration, batch, model, concurrency or timeout settings for future queries",
	}, s.handleConfigure)
}

func (s *Server) handleExecuteQuery(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ExecuteQueryInput,
) (*mcp.CallToolResult, ExecuteQueryOutput, error) {
	override := partial(input.MaxIterations, input.ChunksPerIteration, input.Model, input.MaxConcurrent, input.TimeoutSeconds)

	var p *orchestrator.Partial
	if !override.Empty() {
		p = &override
	}

	result, err := s.engine.ExecuteQuery(ctx, input.SessionID, input.Query, p)
	if err != nil {
		if orchestrator.IsConfigError(err) {
			return nil, ExecuteQueryOutput{}, fmt.Errorf("invalid arguments: %w", err)
		}
		s.logger.Printf("execute_query failed: %v", err)
		return nil, ExecuteQueryOutput{}, err
	}
	return nil, queryOutput(result), nil
}

func (s *Server) handleStatus(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	if input.SessionID == "" {
		return nil, StatusOutput{Sessions: s.engine.Sessions()}, nil
	}
	st, err := s.engine.Status(input.SessionID)
	if err != nil {
		return nil, StatusOutput{}, fmt.Errorf("session %q: %w", input.SessionID, err)
	}
	return nil, StatusOutput{
		SessionID:     st.SessionID,
		Phase:         st.Phase.String(),
		Iteration:     st.Iteration,
		FindingsSoFar: st.FindingsSoFar,
		Query:         st.Query,
		ChunksHeld:    st.ChunksHeld,
		InFlight:      st.InFlight,
		Queued:        st.Queued,
	}, nil
}

func (s *Server) handleConfigure(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ConfigureInput,
) (*mcp.CallToolResult, ConfigOutput, error) {
	cfg, err := s.engine.Configure(partial(input.MaxIterations, input.ChunksPerIteration, input.Model, input.MaxConcurrent, input.TimeoutSeconds))
	if err != nil {
		return nil, ConfigOutput{}, err
	}
	s.logger.Printf("configured: iterations=%d chunks=%d model=%s concurrent=%d timeout=%s",
		cfg.MaxIterations, cfg.ChunksPerIteration, cfg.Model, cfg.MaxConcurrent, cfg.Timeout)
	return nil, ConfigOutput{
		MaxIterations:      cfg.MaxIterations,
		ChunksPerIteration: cfg.ChunksPerIteration,
		Model:              cfg.Model,
		MaxConcurrent:      cfg.MaxConcurrent,
		TimeoutSeconds:     int(cfg.Timeout / time.Second),
	}, nil
}

// partial maps non-zero tool arguments onto an orchestrator.Partial.
func partial(iterations, chunks int, name string, concurrent, timeoutSeconds int) orchestrator.Partial {
	var p orchestrator.Partial
	if iterations != 0 {
		p.MaxIterations = &iterations
	}
	if chunks != 0 {
		p.ChunksPerIteration = &chunks
	}
	if name != "" {
		p.Model = &name
	}
	if concurrent != 0 {
		p.MaxConcurrent = &concurrent
	}
	if timeoutSeconds != 0 {
		d := time.Duration(timeoutSeconds) * time.Second
		p.Timeout = &d
	}
	return p
}

func queryOutput(r model.QueryResult) ExecuteQueryOutput {
	out := ExecuteQueryOutput{
		ID:              r.ID,
		SessionID:       r.SessionID,
		Query:           r.Query,
		Status:          r.Status.String(),
		Answer:          r.Answer(),
		KeyPoints:       []string{},
		Confidence:      r.Confidence.String(),
		Evidence:        make([]FindingOutput, len(r.Evidence)),
		ChunksAnalyzed:  r.ChunksAnalyzed,
		ChunksFailed:    r.ChunksFailed,
		Iterations:      r.Iterations,
		ExecutionTimeMs: r.ExecutionTimeMs,
		Error:           r.Error,
	}
	if r.Synthesis != nil {
		out.KeyPoints = append(out.KeyPoints, r.Synthesis.KeyPoints...)
		out.Confidence = r.Synthesis.Confidence.String()
	}
	for i, f := range r.Evidence {
		out.Evidence[i] = findingOutput(f)
	}
	groups := aggregator.GroupFindings(r.Evidence)
	out.Groups = make([]GroupOutput, len(groups))
	for i, g := range groups {
		out.Groups[i] = GroupOutput{Key: g.Key, Findings: make([]FindingOutput, len(g.Findings))}
		for j, f := range g.Findings {
			out.Groups[i].Findings[j] = findingOutput(f)
		}
	}
	return out
}

func findingOutput(f model.Finding) FindingOutput {
	return FindingOutput{
		ChunkID:           f.ChunkID,
		Point:             f.Point,
		Excerpt:           f.Excerpt,
		Confidence:        f.Confidence.String(),
		LineStart:         f.LineRange.Start,
		LineEnd:           f.LineRange.End,
		SuggestedFollowup: f.SuggestedFollowup,
	}
}
