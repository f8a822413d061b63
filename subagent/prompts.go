package subagent

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/richinex/clew/chunker"
	"github.com/richinex/clew/internal/json"
	"github.com/richinex/clew/model"
)

const analysisSystem = `You extract evidence from one excerpt of a larger document.
Reply with a single JSON object and nothing else:
{"findings":[{"point":"...","excerpt":"...","confidence":"high|medium|low","line_start":0,"line_end":0,"suggested_followup":"..."}]}
Only report what the excerpt states. If it has nothing relevant, reply {"findings":[]}.
Use the absolute line numbers shown in the excerpt header. suggested_followup is optional.`

const synthesisSystem = `You combine evidence gathered from a document into a final answer.
Reply with a single JSON object and nothing else:
{"answer":"...","key_points":["..."],"confidence":"high|medium|low"}
Base the answer only on the evidence given and cite chunk ids where useful.`

func analysisPrompt(c chunker.Chunk, question string) string {
	return fmt.Sprintf("Question: %s\n\nExcerpt %s (lines %d-%d):\n<<<\n%s\n>>>",
		question, c.ID, c.LineStart, c.LineEnd, c.Content)
}

func synthesisPrompt(findings []model.Finding, question string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nEvidence (%d findings, strongest first):\n", question, len(findings))
	for i, f := range findings {
		fmt.Fprintf(&b, "%d. [%s, lines %s, %s] %s\n", i+1, f.ChunkID, f.LineRange, f.Confidence, f.Point)
		if f.Excerpt != "" {
			fmt.Fprintf(&b, "   excerpt: %q\n", f.Excerpt)
		}
	}
	return b.String()
}

type rawFinding struct {
	Point             string `json:"point"`
	Excerpt           string `json:"excerpt"`
	Confidence        string `json:"confidence"`
	LineStart         int    `json:"line_start"`
	LineEnd           int    `json:"line_end"`
	SuggestedFollowup string `json:"suggested_followup"`
}

type rawAnalysis struct {
	Findings *[]rawFinding `json:"findings"`
}

type rawSynthesis struct {
	Answer     string   `json:"answer"`
	KeyPoints  []string `json:"key_points"`
	Confidence string   `json:"confidence"`
}

// parseFindings reads an analysis reply for chunk c. It accepts either the
// requested object or a bare array of findings, taking the first JSON value
// in the reply that has one of those shapes. A missing confidence is low,
// findings without a point are dropped, and line numbers outside the chunk
// fall back to the chunk's own range.
func parseFindings(reply string, c chunker.Chunk) ([]model.Finding, error) {
	items, err := findingItems(reply)
	if err != nil {
		return nil, err
	}

	findings := make([]model.Finding, 0, len(items))
	for _, it := range items {
		point := strings.TrimSpace(it.Point)
		if point == "" {
			continue
		}
		findings = append(findings, model.Finding{
			ChunkID:           c.ID,
			ChunkIndex:        c.Index,
			Point:             point,
			Excerpt:           strings.TrimSpace(it.Excerpt),
			Confidence:        model.ParseConfidence(it.Confidence),
			LineRange:         clampLines(it.LineStart, it.LineEnd, c),
			SuggestedFollowup: strings.TrimSpace(it.SuggestedFollowup),
		})
	}
	return findings, nil
}

func findingItems(reply string) ([]rawFinding, error) {
	candidates := json.Candidates(reply)
	if len(candidates) == 0 {
		_, err := json.Extract(reply)
		return nil, err
	}

	var firstErr error
	for _, raw := range candidates {
		if strings.HasPrefix(raw, "[") {
			items, err := json.Decode[[]rawFinding](raw)
			if err == nil {
				return items, nil
			}
			firstErr = cmp.Or(firstErr, err)
			continue
		}
		parsed, err := json.Decode[rawAnalysis](raw)
		if err == nil && parsed.Findings != nil {
			return *parsed.Findings, nil
		}
		if err == nil {
			err = fmt.Errorf("reply object has no findings")
		}
		firstErr = cmp.Or(firstErr, err)
	}
	return nil, firstErr
}

func clampLines(start, end int, c chunker.Chunk) model.LineRange {
	if start < c.LineStart || start > c.LineEnd {
		return model.LineRange{Start: c.LineStart, End: c.LineEnd}
	}
	if end < start || end > c.LineEnd {
		end = start
	}
	return model.LineRange{Start: start, End: end}
}

func parseSynthesis(reply string) (model.Synthesis, error) {
	parsed, err := json.Decode[rawSynthesis](reply)
	if err != nil {
		return model.Synthesis{}, err
	}
	answer := strings.TrimSpace(parsed.Answer)
	if answer == "" {
		return model.Synthesis{}, fmt.Errorf("synthesis reply has no answer")
	}
	points := make([]string, 0, len(parsed.KeyPoints))
	for _, p := range parsed.KeyPoints {
		if p = strings.TrimSpace(p); p != "" {
			points = append(points, p)
		}
	}
	return model.Synthesis{
		Answer:     answer,
		KeyPoints:  points,
		Confidence: model.ParseConfidence(parsed.Confidence),
	}, nil
}
