// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/richinex/clew/aggregator"
	"github.com/richinex/clew/chunker"
	"github.com/richinex/clew/llm"
	"github.com/richinex/clew/orchestrator"
)

// Settings holds all application configuration.
type Settings struct {
	LLM          LLMConfig
	Chunking     ChunkingConfig
	Orchestrator OrchestratorConfig
	Index        IndexConfig
	Storage      StorageConfig
	Runner       RunnerConfig
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   uint32  `env:"LLM_MAX_TOKENS" envDefault:"4096"`
	Temperature float32 `env:"LLM_TEMPERATURE" envDefault:"0.2"`
}

// ChunkingConfig controls how documents are split.
type ChunkingConfig struct {
	Size         int    `env:"CHUNK_SIZE" envDefault:"4000"`
	Overlap      int    `env:"CHUNK_OVERLAP" envDefault:"200"`
	Strategy     string `env:"CHUNK_STRATEGY" envDefault:"character"`
	OverlapLines int    `env:"CHUNK_OVERLAP_LINES" envDefault:"5"`
}

// OrchestratorConfig controls the query loop and sub-agent dispatch.
type OrchestratorConfig struct {
	MaxIterations      int           `env:"RLM_MAX_ITERATIONS" envDefault:"3"`
	ChunksPerIteration int           `env:"RLM_CHUNKS_PER_ITERATION" envDefault:"10"`
	Model              string        `env:"RLM_MODEL" envDefault:"haiku"`
	MaxConcurrent      int           `env:"RLM_MAX_CONCURRENT" envDefault:"3"`
	Timeout            time.Duration `env:"RLM_TIMEOUT" envDefault:"60s"`
	CacheTTL           time.Duration `env:"RLM_CACHE_TTL" envDefault:"1h"`
	RequestsPerSecond  float64       `env:"RLM_REQUESTS_PER_SECOND" envDefault:"0"`
	Retries            int           `env:"RLM_RETRIES" envDefault:"0"`

	// Convergence tuning for the evidence aggregator.
	ConvergenceThreshold float64 `env:"RLM_CONVERGENCE_THRESHOLD" envDefault:"0.2"`
	MinIterations        int     `env:"RLM_MIN_ITERATIONS" envDefault:"2"`
	MaxFindings          int     `env:"RLM_MAX_FINDINGS" envDefault:"50"`
}

// IndexConfig selects and configures the document index.
type IndexConfig struct {
	Backend           string `env:"INDEX_BACKEND" envDefault:"keyword"`
	EmbeddingProvider string `env:"EMBEDDING_PROVIDER" envDefault:"ollama"`
	EmbeddingModel    string `env:"EMBEDDING_MODEL"`
	OllamaURL         string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	RPCCommand        string `env:"INDEX_RPC_COMMAND" envDefault:"python3 rlm_repl.py"`
}

// StorageConfig locates the result database.
type StorageConfig struct {
	DBPath string `env:"DB_PATH" envDefault:".clew/clew.db"`
}

// RunnerConfig selects how sub-agents are invoked.
type RunnerConfig struct {
	// Backend is "process" (one CLI process per call) or "provider"
	// (an HTTP call through the configured LLM provider).
	Backend string `env:"SUBAGENT_BACKEND" envDefault:"process"`
	Command string `env:"SUBAGENT_COMMAND" envDefault:"claude"`
}

// Index backends.
const (
	BackendKeyword = "keyword"
	BackendVector  = "vector"
	BackendRPC     = "rpc"
)

// Runner backends.
const (
	RunnerProcess  = "process"
	RunnerProvider = "provider"
)

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv  string
	apiKeyEnv string
	kind      llm.ProviderType
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "OPENAI_API_KEY", llm.ProviderOpenAI},
	"anthropic": {"ANTHROPIC_MODEL", "ANTHROPIC_API_KEY", llm.ProviderAnthropic},
	"deepseek":  {"DEEPSEEK_MODEL", "DEEPSEEK_API_KEY", llm.ProviderDeepSeek},
	"gemini":    {"GEMINI_MODEL", "GEMINI_API_KEY", llm.ProviderGemini},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// DefaultProvider is used when neither the caller nor LLM_PROVIDER names one.
const DefaultProvider = "anthropic"

// New creates settings for the specified provider, loading values from environment variables.
// An empty provider falls back to LLM_PROVIDER, then DefaultProvider.
// Returns an error if the provider is unknown or environment variables contain invalid values.
func New(provider string) (Settings, error) {
	if provider == "" {
		provider = os.Getenv("LLM_PROVIDER")
	}
	if provider == "" {
		provider = DefaultProvider
	}
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("invalid environment: %w", err)
	}

	s.LLM.Provider = provider
	s.LLM.Model = os.Getenv(info.modelEnv)
	if s.LLM.Model == "" {
		s.LLM.Model = info.kind.DefaultModel()
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// Validate checks values that env parsing cannot.
func (s Settings) Validate() error {
	if _, err := s.ChunkOptions(); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	if err := s.OrchestratorSettings().Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if t := s.Orchestrator.ConvergenceThreshold; t <= 0 || t >= 1 {
		return fmt.Errorf("RLM_CONVERGENCE_THRESHOLD must be between 0 and 1, got %v", t)
	}
	if s.Orchestrator.MinIterations < 1 {
		return fmt.Errorf("RLM_MIN_ITERATIONS must be at least 1, got %d", s.Orchestrator.MinIterations)
	}
	if s.Orchestrator.MaxFindings < 1 {
		return fmt.Errorf("RLM_MAX_FINDINGS must be at least 1, got %d", s.Orchestrator.MaxFindings)
	}
	switch s.Index.Backend {
	case BackendKeyword, BackendVector, BackendRPC:
	default:
		return fmt.Errorf("unknown INDEX_BACKEND %q (supported: keyword, vector, rpc)", s.Index.Backend)
	}
	switch s.Runner.Backend {
	case RunnerProcess, RunnerProvider:
	default:
		return fmt.Errorf("unknown SUBAGENT_BACKEND %q (supported: process, provider)", s.Runner.Backend)
	}
	return nil
}

// ChunkOptions converts the chunking settings.
func (s Settings) ChunkOptions() (chunker.Options, error) {
	strategy, err := chunker.ParseStrategy(s.Chunking.Strategy)
	if err != nil {
		return chunker.Options{}, err
	}
	opts := chunker.Options{
		Size:         s.Chunking.Size,
		Overlap:      s.Chunking.Overlap,
		Strategy:     strategy,
		OverlapLines: s.Chunking.OverlapLines,
	}
	if err := opts.Validate(); err != nil {
		return chunker.Options{}, err
	}
	return opts, nil
}

// OrchestratorSettings converts the orchestrator settings.
func (s Settings) OrchestratorSettings() orchestrator.Config {
	return orchestrator.Config{
		MaxIterations:      s.Orchestrator.MaxIterations,
		ChunksPerIteration: s.Orchestrator.ChunksPerIteration,
		Model:              s.Orchestrator.Model,
		MaxConcurrent:      s.Orchestrator.MaxConcurrent,
		Timeout:            s.Orchestrator.Timeout,
		CacheTTL:           s.Orchestrator.CacheTTL,
		Retries:            s.Orchestrator.Retries,
		RequestsPerSecond:  s.Orchestrator.RequestsPerSecond,
	}
}

// AggregatorSettings converts the convergence settings.
func (s Settings) AggregatorSettings() aggregator.Config {
	return aggregator.Config{
		Threshold:     s.Orchestrator.ConvergenceThreshold,
		MinIterations: s.Orchestrator.MinIterations,
		MaxFindings:   s.Orchestrator.MaxFindings,
	}
}

// ProviderType returns the llm provider for s.LLM.Provider.
func (s Settings) ProviderType() llm.ProviderType {
	return providers[s.LLM.Provider].kind
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(info.modelEnv); val != "" {
		return val, nil
	}
	return info.kind.DefaultModel(), nil
}

// SupportedProviders returns the supported provider names, sorted.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}
