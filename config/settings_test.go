package config

import (
	"os"
	"testing"
	"time"

	"github.com/richinex/clew/aggregator"
	"github.com/richinex/clew/chunker"
	"github.com/richinex/clew/llm"
)

func TestNewValidProvider(t *testing.T) {
	settings, err := New("openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.LLM.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", settings.LLM.Provider)
	}
	if settings.ProviderType() != llm.ProviderOpenAI {
		t.Errorf("expected ProviderOpenAI, got %v", settings.ProviderType())
	}
}

func TestNewWithAlias(t *testing.T) {
	settings, err := New("claude")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.LLM.Provider != "anthropic" {
		t.Errorf("expected provider 'anthropic' (normalized from 'claude'), got %q", settings.LLM.Provider)
	}
}

func TestNewProviderFromEnv(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "google")

	settings, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.LLM.Provider != "gemini" {
		t.Errorf("expected provider 'gemini', got %q", settings.LLM.Provider)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New("unknown_provider")
	if err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNewDefaults(t *testing.T) {
	for _, name := range []string{
		"CHUNK_SIZE", "CHUNK_OVERLAP", "CHUNK_STRATEGY", "CHUNK_OVERLAP_LINES",
		"RLM_MAX_ITERATIONS", "RLM_CHUNKS_PER_ITERATION", "RLM_MODEL", "RLM_MAX_CONCURRENT",
		"RLM_TIMEOUT", "RLM_CACHE_TTL", "RLM_REQUESTS_PER_SECOND", "RLM_RETRIES",
		"RLM_CONVERGENCE_THRESHOLD", "RLM_MIN_ITERATIONS", "RLM_MAX_FINDINGS",
		"INDEX_BACKEND", "DB_PATH", "SUBAGENT_BACKEND", "SUBAGENT_COMMAND", "ANTHROPIC_MODEL",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}

	s, err := New("anthropic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	opts, err := s.ChunkOptions()
	if err != nil {
		t.Fatalf("ChunkOptions: %v", err)
	}
	want := chunker.Options{Size: 4000, Overlap: 200, Strategy: chunker.Character, OverlapLines: 5}
	if opts != want {
		t.Errorf("expected %+v, got %+v", want, opts)
	}

	cfg := s.OrchestratorSettings()
	if cfg.MaxIterations != 3 || cfg.ChunksPerIteration != 10 || cfg.MaxConcurrent != 3 {
		t.Errorf("unexpected loop defaults: %+v", cfg)
	}
	if cfg.Model != "haiku" {
		t.Errorf("expected model 'haiku', got %q", cfg.Model)
	}
	if cfg.Timeout != 60*time.Second || cfg.CacheTTL != time.Hour {
		t.Errorf("unexpected durations: timeout=%v ttl=%v", cfg.Timeout, cfg.CacheTTL)
	}
	if agg := s.AggregatorSettings(); agg != (aggregator.Config{Threshold: 0.2, MinIterations: 2, MaxFindings: 50}) {
		t.Errorf("unexpected convergence defaults: %+v", agg)
	}
	if s.Index.Backend != BackendKeyword {
		t.Errorf("expected keyword backend, got %q", s.Index.Backend)
	}
	if s.Storage.DBPath != ".clew/clew.db" {
		t.Errorf("unexpected DB path %q", s.Storage.DBPath)
	}
	if s.Runner.Backend != RunnerProcess || s.Runner.Command != "claude" {
		t.Errorf("unexpected runner %+v", s.Runner)
	}
	if s.LLM.Model != llm.ProviderAnthropic.DefaultModel() {
		t.Errorf("expected default model %q, got %q", llm.ProviderAnthropic.DefaultModel(), s.LLM.Model)
	}
}

func TestNewOverrides(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "800")
	t.Setenv("CHUNK_OVERLAP", "0")
	t.Setenv("CHUNK_STRATEGY", "line")
	t.Setenv("RLM_TIMEOUT", "5s")
	t.Setenv("RLM_MAX_CONCURRENT", "8")
	t.Setenv("INDEX_BACKEND", "vector")
	t.Setenv("OPENAI_MODEL", "gpt-custom")
	t.Setenv("RLM_CONVERGENCE_THRESHOLD", "0.5")
	t.Setenv("RLM_MAX_FINDINGS", "12")

	s, err := New("openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	opts, err := s.ChunkOptions()
	if err != nil {
		t.Fatalf("ChunkOptions: %v", err)
	}
	if opts.Size != 800 || opts.Overlap != 0 || opts.Strategy != chunker.Line {
		t.Errorf("unexpected options %+v", opts)
	}
	cfg := s.OrchestratorSettings()
	if cfg.Timeout != 5*time.Second || cfg.MaxConcurrent != 8 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if agg := s.AggregatorSettings(); agg.Threshold != 0.5 || agg.MaxFindings != 12 || agg.MinIterations != 2 {
		t.Errorf("unexpected convergence settings %+v", agg)
	}
	if s.Index.Backend != BackendVector {
		t.Errorf("expected vector backend, got %q", s.Index.Backend)
	}
	if s.LLM.Model != "gpt-custom" {
		t.Errorf("expected 'gpt-custom', got %q", s.LLM.Model)
	}
}

func TestNewRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"max tokens not a number", "LLM_MAX_TOKENS", "not-a-number"},
		{"bad duration", "RLM_TIMEOUT", "soon"},
		{"overlap exceeds size", "CHUNK_OVERLAP", "5000"},
		{"unknown strategy", "CHUNK_STRATEGY", "paragraph"},
		{"iterations out of range", "RLM_MAX_ITERATIONS", "0"},
		{"threshold out of range", "RLM_CONVERGENCE_THRESHOLD", "1.5"},
		{"no findings allowed", "RLM_MAX_FINDINGS", "0"},
		{"unknown index backend", "INDEX_BACKEND", "bm25"},
		{"unknown runner backend", "SUBAGENT_BACKEND", "grpc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := New("openai"); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestAPIKeyForValidProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	key, err := APIKeyFor("gpt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "test-key" {
		t.Errorf("expected 'test-key', got %q", key)
	}
}

func TestAPIKeyForMissing(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := APIKeyFor("openai")
	if err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestAPIKeyForUnknownProvider(t *testing.T) {
	_, err := APIKeyFor("unknown")
	if err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestModelFor(t *testing.T) {
	t.Setenv("DEEPSEEK_MODEL", "")

	model, err := ModelFor("deepseek")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != llm.ProviderDeepSeek.DefaultModel() {
		t.Errorf("expected %q, got %q", llm.ProviderDeepSeek.DefaultModel(), model)
	}
}

func TestMustNewPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for unknown provider")
		}
	}()
	MustNew("unknown_provider")
}

func TestSupportedProviders(t *testing.T) {
	providers := SupportedProviders()
	want := []string{"anthropic", "deepseek", "gemini", "openai"}
	if len(providers) != len(want) {
		t.Fatalf("expected %v, got %v", want, providers)
	}
	for i := range want {
		if providers[i] != want[i] {
			t.Errorf("expected %v, got %v", want, providers)
		}
	}
}
