package subagent

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Metrics tracks sub-agent activity for one client.
type Metrics struct {
	Calls         atomic.Int64 // Runner invocations, retries included
	CacheHits     atomic.Int64
	Failures      atomic.Int64
	Timeouts      atomic.Int64
	Findings      atomic.Int64 // Findings parsed from fresh replies
	TotalDuration atomic.Int64 // Time holding permits (nanoseconds)
}

// String returns a human-readable summary.
func (m *Metrics) String() string {
	return fmt.Sprintf(
		"Calls: %d | Cache hits: %d | Failures: %d | Timeouts: %d | Findings: %d | Busy: %s",
		m.Calls.Load(),
		m.CacheHits.Load(),
		m.Failures.Load(),
		m.Timeouts.Load(),
		m.Findings.Load(),
		time.Duration(m.TotalDuration.Load()).Round(time.Millisecond),
	)
}
