// LLM Provider Factory - builder-first API for creating sub-agent backends.
//
// Quick Start:
//
//	// Defaults, API key from environment
//	claude, err := llm.ProviderAnthropic.FromEnv()
//
//	// Cheaper model, lower temperature for extraction
//	extractor, err := llm.ProviderAnthropic.
//	    Model(llm.ModelAnthropicClaudeHaiku45).
//	    Temperature(0.2).
//	    FromEnv()
//
//	// OpenAI-compatible gateway
//	gw, err := llm.ProviderOpenAI.BaseURL("http://localhost:8080/v1").APIKey("sk-...")

package llm

import (
	"fmt"
	"os"
	"strings"
)

// ProviderType represents supported LLM providers.
type ProviderType int

const (
	// ProviderOpenAI is the OpenAI provider (GPT models).
	ProviderOpenAI ProviderType = iota
	// ProviderAnthropic is the Anthropic provider (Claude models).
	ProviderAnthropic
	// ProviderDeepSeek is the DeepSeek provider.
	ProviderDeepSeek
	// ProviderGemini is the Google Gemini provider.
	ProviderGemini
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	switch p {
	case ProviderOpenAI:
		return "openai"
	case ProviderAnthropic:
		return "anthropic"
	case ProviderDeepSeek:
		return "deepseek"
	case ProviderGemini:
		return "gemini"
	default:
		return "unknown"
	}
}

// EnvVar returns the environment variable name for this provider's API key.
func (p ProviderType) EnvVar() string {
	switch p {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderDeepSeek:
		return "DEEPSEEK_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// DefaultModel returns the default model for this provider.
func (p ProviderType) DefaultModel() string {
	switch p {
	case ProviderOpenAI:
		return ModelOpenAIGPT4oMini
	case ProviderAnthropic:
		return ModelAnthropicClaudeHaiku45
	case ProviderDeepSeek:
		return ModelDeepSeekV32
	case ProviderGemini:
		return ModelGeminiFlash3
	default:
		return ""
	}
}

// ParseProviderType parses a provider from string (case-insensitive).
func ParseProviderType(s string) (ProviderType, error) {
	switch strings.ToLower(s) {
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "deepseek":
		return ProviderDeepSeek, nil
	case "gemini", "google":
		return ProviderGemini, nil
	default:
		return 0, fmt.Errorf("unknown provider: %s", s)
	}
}

// FromEnv creates a provider with defaults, reading API key from environment.
func (p ProviderType) FromEnv() (Provider, error) {
	return NewProviderBuilder(p).FromEnv()
}

// Model starts configuring this provider with a specific model.
func (p ProviderType) Model(model string) *ProviderBuilder {
	return NewProviderBuilder(p).Model(model)
}

// BaseURL starts configuring this provider against a non-default endpoint.
func (p ProviderType) BaseURL(url string) *ProviderBuilder {
	return NewProviderBuilder(p).BaseURL(url)
}

// APIKey creates a provider with an explicit API key (uses defaults for everything else).
func (p ProviderType) APIKey(key string) (Provider, error) {
	return NewProviderBuilder(p).APIKey(key)
}

// ResolveModel maps the short aliases accepted by the claude CLI (haiku,
// sonnet, opus) to API model identifiers. Aliases given to a non-Anthropic
// provider resolve to that provider's default. Other names pass through.
func (p ProviderType) ResolveModel(model string) string {
	full, isAlias := anthropicAliases[strings.ToLower(model)]
	switch {
	case model == "":
		return p.DefaultModel()
	case !isAlias:
		return model
	case p == ProviderAnthropic:
		return full
	default:
		return p.DefaultModel()
	}
}

var anthropicAliases = map[string]string{
	"haiku":  ModelAnthropicClaudeHaiku45,
	"sonnet": ModelAnthropicClaudeSonnet45,
	"opus":   ModelAnthropicClaudeOpus45,
}

// ProviderBuilder is a builder for configuring LLM providers.
type ProviderBuilder struct {
	providerType ProviderType
	model        string
	baseURL      string
	maxTokens    uint32
	temperature  *float32
}

// NewProviderBuilder creates a new builder for the given provider.
func NewProviderBuilder(providerType ProviderType) *ProviderBuilder {
	return &ProviderBuilder{
		providerType: providerType,
	}
}

// Model sets the model to use.
func (b *ProviderBuilder) Model(model string) *ProviderBuilder {
	b.model = model
	return b
}

// BaseURL points the provider at a non-default endpoint.
func (b *ProviderBuilder) BaseURL(url string) *ProviderBuilder {
	b.baseURL = url
	return b
}

// MaxTokens sets maximum tokens for responses.
func (b *ProviderBuilder) MaxTokens(tokens uint32) *ProviderBuilder {
	b.maxTokens = tokens
	return b
}

// Temperature sets temperature (0.0 = deterministic, 1.0 = creative).
func (b *ProviderBuilder) Temperature(temp float32) *ProviderBuilder {
	b.temperature = &temp
	return b
}

// FromEnv builds the provider, reading API key from environment.
func (b *ProviderBuilder) FromEnv() (Provider, error) {
	envVar := b.providerType.EnvVar()
	apiKey := os.Getenv(envVar)
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %s environment variable not set", b.providerType, envVar)
	}
	return b.build(apiKey)
}

// APIKey builds the provider with an explicit API key.
func (b *ProviderBuilder) APIKey(key string) (Provider, error) {
	return b.build(key)
}

func (b *ProviderBuilder) build(apiKey string) (Provider, error) {
	model := b.model
	if model == "" {
		model = b.providerType.DefaultModel()
	}

	maxTokens := b.maxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	temperature := float32(0.2) // default
	if b.temperature != nil {
		temperature = *b.temperature
	}

	cfg := ProviderConfig{
		APIKey:      apiKey,
		Model:       b.providerType.ResolveModel(model),
		BaseURL:     b.baseURL,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	switch b.providerType {
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg), nil
	case ProviderDeepSeek:
		return NewDeepSeekProvider(cfg), nil
	case ProviderGemini:
		return NewGeminiProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %v", b.providerType)
	}
}

// Model identifiers.
const (
	ModelOpenAIGPT52     = "gpt-5.2"
	ModelOpenAIGPT5      = "gpt-5"
	ModelOpenAIGPT4oMini = "gpt-4o-mini"

	ModelAnthropicClaudeOpus45   = "claude-opus-4-5-20251101"
	ModelAnthropicClaudeSonnet45 = "claude-sonnet-4-5-20250929"
	ModelAnthropicClaudeHaiku45  = "claude-haiku-4-5-20251001"

	ModelDeepSeekV32 = "deepseek-v3.2"
	ModelDeepSeekR1  = "deepseek-r1"

	ModelGeminiPro3   = "gemini-3-pro"
	ModelGeminiFlash3 = "gemini-3-flash"
)
