package orchestrator

import (
	"encoding/json"
	"time"
)

// Phase is a state of the query loop.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSearching
	PhaseFetching
	PhaseAnalyzing
	PhaseAggregating
	PhaseSynthesizing
	PhaseDone
	PhaseError
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSearching:
		return "searching"
	case PhaseFetching:
		return "fetching"
	case PhaseAnalyzing:
		return "analyzing"
	case PhaseAggregating:
		return "aggregating"
	case PhaseSynthesizing:
		return "synthesizing"
	case PhaseDone:
		return "done"
	case PhaseError:
		return "error"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the loop has stopped.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseError || p == PhaseCancelled
}

// MarshalJSON encodes the phase as its name.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// Event is emitted on every phase transition.
type Event struct {
	SessionID string
	Phase     Phase
	Iteration int
	Query     string // current, possibly refined, query
	Chunks    int    // chunks involved in this phase
	Findings  int    // findings accumulated so far
	Message   string
	Time      time.Time
}

// Status is a snapshot of a session's most recent query.
type Status struct {
	SessionID     string `json:"session_id"`
	Phase         Phase  `json:"phase"`
	Iteration     int    `json:"iteration"`
	FindingsSoFar int    `json:"findings_so_far"`
	Query         string `json:"query"`
	ChunksHeld    int    `json:"chunks_held"`
	InFlight      int    `json:"in_flight"`
	Queued        int    `json:"queued"`
}
