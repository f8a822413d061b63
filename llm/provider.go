// Package llm provides one-shot completion providers used as sub-agent backends.
//
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Provider-specific error handling
package llm

import (
	"context"
)

// Provider answers a single prompt. Providers keep no conversation state, so
// one instance may serve concurrent calls.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the default model used when a request does not name one.
	Model() string

	// Complete sends one system+user exchange and returns the reply text.
	Complete(ctx context.Context, req Request) (Response, error)
}

// Request is a single completion request.
type Request struct {
	System    string
	Prompt    string
	Model     string // overrides the provider default when set
	MaxTokens int    // overrides the provider default when positive
	JSON      bool   // ask for a JSON object where the API supports it
}

// Response is the text reply and its token usage.
type Response struct {
	Content string
	Model   string
	Usage   *TokenUsage
}

// TokenUsage contains token usage statistics.
type TokenUsage struct {
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
}

// ProviderConfig holds the settings shared by all providers.
type ProviderConfig struct {
	APIKey      string
	Model       string
	BaseURL     string // empty uses the provider's public endpoint
	MaxTokens   uint32
	Temperature float32
}

func (c ProviderConfig) model(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.Model
}

func (c ProviderConfig) maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return int(c.MaxTokens)
}
