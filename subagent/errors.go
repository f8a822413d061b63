package subagent

import (
	"fmt"
)

// ErrorKind classifies sub-agent failures.
type ErrorKind int

const (
	// KindSpawn means the backend could not be started at all.
	KindSpawn ErrorKind = iota
	// KindExit means the backend ran and reported failure.
	KindExit
	// KindTimeout means the per-invocation deadline passed.
	KindTimeout
	// KindParse means the reply could not be read as the expected JSON.
	KindParse
	// KindDrained means the client was shut down while the call was queued.
	KindDrained
	// KindCanceled means the caller gave up while the call was queued.
	KindCanceled
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindSpawn:
		return "spawn"
	case KindExit:
		return "exit"
	case KindTimeout:
		return "timeout"
	case KindParse:
		return "parse"
	case KindDrained:
		return "drained"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a failed sub-agent call. It never aborts a batch; the chunk it
// belongs to simply contributes no findings.
type Error struct {
	Kind    ErrorKind
	Op      string // "analyze" or "synthesize"
	ChunkID string // empty for synthesis
	Detail  string // stderr tail or offending reply excerpt
	Err     error
}

func (e *Error) Error() string {
	target := e.Op
	if e.ChunkID != "" {
		target = e.Op + " " + e.ChunkID
	}
	msg := fmt.Sprintf("sub-agent %s failed (%s)", target, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
