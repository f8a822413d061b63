// Package aggregator accumulates findings across iterations, removes
// duplicates, ranks evidence, and decides when a query has converged.
//
// Information Hiding:
// - Point normalization and hashing used for duplicate detection
// - Per-iteration bookkeeping behind the convergence ratio
// - Follow-up suggestion de-duplication
package aggregator

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/richinex/clew/model"
)

// Defaults for convergence and capacity.
const (
	DefaultThreshold     = 0.20
	DefaultMinIterations = 2
	DefaultMaxIterations = 5
	DefaultMaxFindings   = 50
	DefaultMaxFollowups  = 5

	normalizedPrefix = 100
	otherGroup       = "other"
)

// Config tunes convergence. Zero values fall back to defaults.
type Config struct {
	Threshold     float64
	MinIterations int
	MaxIterations int
	MaxFindings   int
	MaxFollowups  int
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.MinIterations <= 0 {
		c.MinIterations = DefaultMinIterations
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxFindings <= 0 {
		c.MaxFindings = DefaultMaxFindings
	}
	if c.MaxFollowups <= 0 {
		c.MaxFollowups = DefaultMaxFollowups
	}
	return c
}

// iterationResult records how many new findings one loop pass contributed.
type iterationResult struct {
	Iteration int
	Added     int
}

// Group is a bucket of findings sharing a key term.
type Group struct {
	Key      string          `json:"key"`
	Findings []model.Finding `json:"findings"`
}

type entry struct {
	finding model.Finding
	seq     int
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	cfg Config

	mu           sync.RWMutex
	entries      []entry
	seen         map[uint64]struct{}
	history      []iterationResult
	followups    []string
	followupSeen map[string]struct{}
}

// New creates an empty aggregator.
func New(cfg Config) *Aggregator {
	return &Aggregator{
		cfg:          cfg.withDefaults(),
		seen:         make(map[uint64]struct{}),
		followupSeen: make(map[string]struct{}),
	}
}

// AddFindings ingests one batch and returns how many were actually added.
// Duplicates (including duplicates within the batch) and findings beyond the
// cap are dropped. Calling it records the iteration even when nothing is added;
// repeated calls with the same iteration number accumulate into one record.
func (a *Aggregator) AddFindings(iteration int, findings []model.Finding) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	added := 0
	for _, f := range findings {
		if strings.TrimSpace(f.Point) == "" {
			continue
		}
		if len(a.entries) >= a.cfg.MaxFindings {
			break
		}
		key := pointHash(f.Point)
		if _, dup := a.seen[key]; dup {
			continue
		}
		a.seen[key] = struct{}{}
		a.entries = append(a.entries, entry{finding: f, seq: len(a.entries)})
		a.addFollowupLocked(f.SuggestedFollowup)
		added++
	}

	if n := len(a.history); n > 0 && a.history[n-1].Iteration == iteration {
		a.history[n-1].Added += added
	} else {
		a.history = append(a.history, iterationResult{Iteration: iteration, Added: added})
	}
	return added
}

func (a *Aggregator) addFollowupLocked(s string) {
	s = strings.TrimSpace(s)
	if s == "" || len(a.followups) >= a.cfg.MaxFollowups {
		return
	}
	key := strings.ToLower(s)
	if _, ok := a.followupSeen[key]; ok {
		return
	}
	a.followupSeen[key] = struct{}{}
	a.followups = append(a.followups, s)
}

// Converged reports whether the loop should stop. It is forced once
// MaxIterations passes are recorded; otherwise it needs at least MinIterations
// and a last-pass contribution below Threshold of the total.
func (a *Aggregator) Converged() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := len(a.history)
	if n >= a.cfg.MaxIterations {
		return true
	}
	if n < a.cfg.MinIterations {
		return false
	}
	total := len(a.entries)
	if total == 0 {
		return true
	}
	return float64(a.history[n-1].Added)/float64(total) < a.cfg.Threshold
}

// Full reports whether the finding cap has been reached.
func (a *Aggregator) Full() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries) >= a.cfg.MaxFindings
}

// Ranked returns findings ordered by confidence (high first), then chunk
// index, then arrival order.
func (a *Aggregator) Ranked() []model.Finding {
	a.mu.RLock()
	sorted := make([]entry, len(a.entries))
	copy(sorted, a.entries)
	a.mu.RUnlock()

	sort.SliceStable(sorted, func(i, j int) bool {
		x, y := sorted[i], sorted[j]
		if x.finding.Confidence != y.finding.Confidence {
			return x.finding.Confidence > y.finding.Confidence
		}
		if x.finding.ChunkIndex != y.finding.ChunkIndex {
			return x.finding.ChunkIndex < y.finding.ChunkIndex
		}
		return x.seq < y.seq
	})

	out := make([]model.Finding, len(sorted))
	for i, e := range sorted {
		out[i] = e.finding
	}
	return out
}

// GroupFindings buckets ranked findings by key term, keeping their order within
// each bucket. Groups appear in the order their best-ranked finding does.
func GroupFindings(ranked []model.Finding) []Group {
	groups := []Group{}
	index := make(map[string]int)
	for _, f := range ranked {
		key := KeyTerm(f.Point)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Findings = append(groups[i].Findings, f)
	}
	return groups
}

// Followups returns unique follow-up suggestions in first-seen order.
func (a *Aggregator) Followups() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.followups))
	copy(out, a.followups)
	return out
}

// Total returns the number of unique findings held.
func (a *Aggregator) Total() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Iterations returns the number of recorded passes.
func (a *Aggregator) Iterations() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.history)
}

// Confidence summarizes evidence strength: high when at least half the
// findings are high, medium when any are medium or better, low otherwise.
func (a *Aggregator) Confidence() model.Confidence {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.entries) == 0 {
		return model.ConfidenceLow
	}
	high, medium := 0, 0
	for _, e := range a.entries {
		switch e.finding.Confidence {
		case model.ConfidenceHigh:
			high++
		case model.ConfidenceMedium:
			medium++
		}
	}
	switch {
	case high*2 >= len(a.entries):
		return model.ConfidenceHigh
	case high+medium > 0:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// NormalizePoint lowercases s, drops everything but letters and digits,
// and keeps the first 100 runes.
func NormalizePoint(s string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.ToLower(s) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		b.WriteRune(r)
		n++
		if n == normalizedPrefix {
			break
		}
	}
	return b.String()
}

func pointHash(point string) uint64 {
	return xxhash.Sum64String(NormalizePoint(point))
}

// KeyTerm returns the first word longer than three letters, lowercased,
// or "other" when there is none.
func KeyTerm(point string) string {
	words := strings.FieldsFunc(strings.ToLower(point), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len([]rune(w)) > 3 {
			return w
		}
	}
	return otherGroup
}
