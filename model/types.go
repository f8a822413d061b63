// Package model provides domain types shared across packages.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Confidence is the certainty attached to a finding or an answer.
// Values order by strength so they can be compared directly.
type Confidence int

const (
	ConfidenceLow Confidence = iota + 1
	ConfidenceMedium
	ConfidenceHigh
)

// String returns the lowercase confidence name.
func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseConfidence parses a confidence name. Unknown or empty values are low.
func ParseConfidence(s string) Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return ConfidenceHigh
	case "medium", "med", "moderate":
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// MarshalJSON encodes the confidence as its name.
func (c Confidence) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts a confidence name.
func (c *Confidence) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("confidence must be a string: %w", err)
	}
	*c = ParseConfidence(s)
	return nil
}

// LineRange is an inclusive, 1-indexed range of document lines.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// String formats the range as "start-end".
func (r LineRange) String() string {
	if r.Start == r.End {
		return fmt.Sprintf("%d", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Finding is one extracted claim from one chunk.
type Finding struct {
	ChunkID           string     `json:"chunk_id"`
	ChunkIndex        int        `json:"chunk_index"`
	Point             string     `json:"point"`
	Excerpt           string     `json:"excerpt,omitempty"`
	Confidence        Confidence `json:"confidence"`
	LineRange         LineRange  `json:"line_range"`
	SuggestedFollowup string     `json:"suggested_followup,omitempty"`
}

// Synthesis is the final answer built from accumulated findings.
type Synthesis struct {
	Answer     string     `json:"answer"`
	KeyPoints  []string   `json:"key_points"`
	Confidence Confidence `json:"confidence"`
}

// Status is the terminal state of a query run.
type Status int

const (
	StatusComplete Status = iota
	StatusPartial
	StatusFailed
	StatusCancelled
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusPartial:
		return "partial"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseStatus parses a status name.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "complete":
		return StatusComplete, nil
	case "partial":
		return StatusPartial, nil
	case "failed":
		return StatusFailed, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return StatusFailed, fmt.Errorf("unknown status: %s", s)
	}
}

// MarshalJSON encodes the status as its name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts a status name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// QueryResult is the finalized outcome of one query run.
type QueryResult struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	Query           string     `json:"query"`
	Evidence        []Finding  `json:"evidence"`
	Synthesis       *Synthesis `json:"synthesis,omitempty"`
	ChunksAnalyzed  int        `json:"chunks_analyzed"`
	ChunksFailed    int        `json:"chunks_failed"`
	Iterations      int        `json:"iterations"`
	ExecutionTimeMs int64      `json:"execution_time_ms"`
	Status          Status     `json:"status"`
	Error           string     `json:"error,omitempty"`
	Confidence      Confidence `json:"confidence"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Answer returns the synthesized answer, or an empty string when synthesis
// did not produce one.
func (r QueryResult) Answer() string {
	if r.Synthesis == nil {
		return ""
	}
	return r.Synthesis.Answer
}
