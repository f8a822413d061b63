package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/richinex/clew/aggregator"
	"github.com/richinex/clew/chunker"
	"github.com/richinex/clew/index"
	"github.com/richinex/clew/model"
	"github.com/richinex/clew/orchestrator"
)

const (
	maxPointLen = 200
	maxQueryLen = 80
)

// progressPrinter reports phase transitions as one line each.
func progressPrinter(w io.Writer) func(orchestrator.Event) {
	return func(e orchestrator.Event) {
		switch e.Phase {
		case orchestrator.PhaseSearching:
			fmt.Fprintf(w, "[%d] searching: %s\n", e.Iteration, truncateString(e.Query, maxQueryLen))
		case orchestrator.PhaseFetching:
			fmt.Fprintf(w, "[%d] fetching %d matches\n", e.Iteration, e.Chunks)
		case orchestrator.PhaseAnalyzing:
			fmt.Fprintf(w, "[%d] analyzing %d chunks\n", e.Iteration, e.Chunks)
		case orchestrator.PhaseAggregating:
			fmt.Fprintf(w, "[%d] %d findings so far\n", e.Iteration, e.Findings)
		case orchestrator.PhaseSynthesizing:
			fmt.Fprintf(w, "synthesizing %d findings\n", e.Findings)
		case orchestrator.PhaseError:
			fmt.Fprintf(w, "error: %s\n", e.Message)
		case orchestrator.PhaseCancelled:
			fmt.Fprintln(w, "cancelled")
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, r model.QueryResult) {
	if answer := r.Answer(); answer != "" {
		fmt.Fprintf(w, "%s\n\n", answer)
	}
	if r.Synthesis != nil && len(r.Synthesis.KeyPoints) > 0 {
		fmt.Fprintln(w, "Key points:")
		for _, p := range r.Synthesis.KeyPoints {
			fmt.Fprintf(w, "  - %s\n", p)
		}
		fmt.Fprintln(w)
	}
	if len(r.Evidence) > 0 {
		fmt.Fprintln(w, "--- Evidence ---")
		for _, g := range aggregator.GroupFindings(r.Evidence) {
			fmt.Fprintf(w, "%s:\n", g.Key)
			for _, f := range g.Findings {
				fmt.Fprintf(w, "  [%s lines %d-%d, %s] %s\n",
					f.ChunkID, f.LineRange.Start, f.LineRange.End, f.Confidence, truncateString(f.Point, maxPointLen))
			}
		}
		fmt.Fprintln(w, "----------------")
		fmt.Fprintln(w)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", r.Error)
	}
	fmt.Fprintf(w, "(%s, confidence %s, %d iterations, %d chunks analyzed, %d failed, %s)\n",
		r.Status, r.Confidence, r.Iterations, r.ChunksAnalyzed, r.ChunksFailed,
		time.Duration(r.ExecutionTimeMs)*time.Millisecond)
	fmt.Fprintf(w, "session: %s\n", r.SessionID)
}

func printChunks(w io.Writer, stats index.Stats, chunks []chunker.Chunk) {
	fmt.Fprintf(w, "%d chunks, %d lines, %d bytes\n", stats.ChunkCount, stats.LineCount, stats.ContentLength)
	for _, c := range chunks {
		fmt.Fprintf(w, "%s  [%d, %d)  lines %d-%d  %d bytes\n", c.ID, c.Start, c.End, c.LineStart, c.LineEnd, c.Length)
	}
}

func printSpan(w io.Writer, s index.Span) {
	fmt.Fprintf(w, "[%d, %d) lines %d-%d\n", s.Start, s.End, s.LineStart, s.LineEnd)
	fmt.Fprintln(w, s.Content)
}

func printGrep(w io.Writer, g index.GrepResult) {
	for _, m := range g.Matches {
		fmt.Fprintf(w, "--- line %d: %q ---\n", m.Line, m.Match)
		for i, line := range strings.Split(m.Context, "\n") {
			n := m.ContextLineStart + i
			marker := " "
			if n == m.Line {
				marker = ">"
			}
			fmt.Fprintf(w, "%s %5d  %s\n", marker, n, line)
		}
	}
	fmt.Fprintf(w, "%d matches for %q", len(g.Matches), g.Pattern)
	if g.Truncated {
		fmt.Fprint(w, " (truncated)")
	}
	fmt.Fprintln(w)
}

func printHistory(w io.Writer, results []model.QueryResult) {
	for _, r := range results {
		fmt.Fprintf(w, "%s  %-9s  %s\n", r.CreatedAt.Format(time.DateTime), r.Status, truncateString(r.Query, maxQueryLen))
		if answer := r.Answer(); answer != "" {
			fmt.Fprintf(w, "    %s\n", truncateString(strings.ReplaceAll(answer, "\n", " "), maxPointLen))
		}
	}
}

// truncateString truncates a string to maxLen runes, preserving UTF-8 boundaries.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
