package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/richinex/clew/subagent"
)

// Defaults for a new orchestrator.
const (
	DefaultMaxIterations      = 3
	DefaultChunksPerIteration = 10
	DefaultModel              = "haiku"
	DefaultMaxConcurrent      = subagent.DefaultMaxConcurrent
	DefaultTimeout            = subagent.DefaultTimeout

	maxIterationsLimit      = 10
	chunksPerIterationLimit = 100
	maxConcurrentLimit      = 32
)

// Config controls one query run. Each query snapshots the config when it
// starts; later changes apply to later queries only.
type Config struct {
	MaxIterations      int           `json:"max_iterations"`
	ChunksPerIteration int           `json:"chunks_per_iteration"`
	Model              string        `json:"model"`
	MaxConcurrent      int           `json:"max_concurrent"`
	Timeout            time.Duration `json:"timeout"`

	// Sub-agent client settings fixed at construction.
	CacheTTL          time.Duration `json:"cache_ttl"`
	Retries           int           `json:"retries"`
	RequestsPerSecond float64       `json:"requests_per_second"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:      DefaultMaxIterations,
		ChunksPerIteration: DefaultChunksPerIteration,
		Model:              DefaultModel,
		MaxConcurrent:      DefaultMaxConcurrent,
		Timeout:            DefaultTimeout,
		CacheTTL:           subagent.DefaultCacheTTL,
	}
}

// Partial holds optional overrides. Nil fields keep the current value.
type Partial struct {
	MaxIterations      *int           `json:"max_iterations,omitempty"`
	ChunksPerIteration *int           `json:"chunks_per_iteration,omitempty"`
	Model              *string        `json:"model,omitempty"`
	MaxConcurrent      *int           `json:"max_concurrent,omitempty"`
	Timeout            *time.Duration `json:"timeout,omitempty"`
}

// Empty reports whether p overrides nothing.
func (p Partial) Empty() bool {
	return p.MaxIterations == nil && p.ChunksPerIteration == nil && p.Model == nil &&
		p.MaxConcurrent == nil && p.Timeout == nil
}

// Apply returns c with p's overrides.
func (c Config) Apply(p Partial) Config {
	if p.MaxIterations != nil {
		c.MaxIterations = *p.MaxIterations
	}
	if p.ChunksPerIteration != nil {
		c.ChunksPerIteration = *p.ChunksPerIteration
	}
	if p.Model != nil {
		c.Model = strings.TrimSpace(*p.Model)
	}
	if p.MaxConcurrent != nil {
		c.MaxConcurrent = *p.MaxConcurrent
	}
	if p.Timeout != nil {
		c.Timeout = *p.Timeout
	}
	return c
}

// Validate checks every field and returns the first problem as a *ConfigError.
func (c Config) Validate() error {
	switch {
	case c.MaxIterations < 1 || c.MaxIterations > maxIterationsLimit:
		return &ConfigError{Field: "max_iterations", Reason: fmt.Sprintf("must be between 1 and %d, got %d", maxIterationsLimit, c.MaxIterations)}
	case c.ChunksPerIteration < 1 || c.ChunksPerIteration > chunksPerIterationLimit:
		return &ConfigError{Field: "chunks_per_iteration", Reason: fmt.Sprintf("must be between 1 and %d, got %d", chunksPerIterationLimit, c.ChunksPerIteration)}
	case c.Model == "":
		return &ConfigError{Field: "model", Reason: "must not be empty"}
	case c.MaxConcurrent < 1 || c.MaxConcurrent > maxConcurrentLimit:
		return &ConfigError{Field: "max_concurrent", Reason: fmt.Sprintf("must be between 1 and %d, got %d", maxConcurrentLimit, c.MaxConcurrent)}
	case c.Timeout <= 0:
		return &ConfigError{Field: "timeout", Reason: fmt.Sprintf("must be positive, got %s", c.Timeout)}
	case c.CacheTTL < 0:
		return &ConfigError{Field: "cache_ttl", Reason: "must not be negative"}
	case c.Retries < 0:
		return &ConfigError{Field: "retries", Reason: "must not be negative"}
	case c.RequestsPerSecond < 0:
		return &ConfigError{Field: "requests_per_second", Reason: "must not be negative"}
	}
	return nil
}

// clientKey identifies the sub-agent settings a session's client was built with.
type clientKey struct {
	maxConcurrent int
	timeout       time.Duration
}

func (c Config) clientKey() clientKey {
	return clientKey{maxConcurrent: c.MaxConcurrent, timeout: c.Timeout}
}
