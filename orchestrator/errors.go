package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSession is returned for session ids with no recorded query.
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionBusy is returned when a session already has a query running.
	ErrSessionBusy = errors.New("session already has a query running")
	// ErrShutdown is returned once Shutdown has been called.
	ErrShutdown = errors.New("orchestrator is shut down")
)

// ConfigError reports an invalid parameter. No sub-agent runs when it is returned.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IndexError reports a failed search or fetch. It is fatal to the query.
type IndexError struct {
	Op      string // "query" or "get_chunk"
	ChunkID string
	Err     error
}

func (e *IndexError) Error() string {
	if e.ChunkID != "" {
		return fmt.Sprintf("index %s %s failed: %v", e.Op, e.ChunkID, e.Err)
	}
	return fmt.Sprintf("index %s failed: %v", e.Op, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// SynthesisError reports a failed final synthesis. The query still returns
// its evidence with status partial.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}
