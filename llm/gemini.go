// Google Gemini Provider implementation using official google.golang.org/genai SDK.
//
// Information Hiding:
// - API authentication and client creation
// - System instruction handling via config

package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider implements the Provider interface for Google Gemini.
type GeminiProvider struct {
	client  *genai.Client
	cfg     ProviderConfig
	initErr error // returned on first use so the constructor cannot fail
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(cfg ProviderConfig) *GeminiProvider {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return &GeminiProvider{cfg: cfg, initErr: fmt.Errorf("failed to initialize Gemini client: %w", err)}
	}
	return &GeminiProvider{client: client, cfg: cfg}
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Model returns the default model.
func (p *GeminiProvider) Model() string {
	return p.cfg.Model
}

// Complete sends a single GenerateContent request.
func (p *GeminiProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if p.initErr != nil {
		return Response{}, p.initErr
	}

	model := p.cfg.model(req)
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(p.cfg.Temperature),
		MaxOutputTokens: int32(p.cfg.maxTokens(req)),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	response, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return Response{}, fmt.Errorf("gemini completion failed: %w", err)
	}

	content := response.Text()
	if content == "" {
		return Response{}, fmt.Errorf("empty response from Gemini")
	}

	var usage *TokenUsage
	if response.UsageMetadata != nil {
		usage = &TokenUsage{
			PromptTokens:     uint32(response.UsageMetadata.PromptTokenCount),
			CompletionTokens: uint32(response.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      uint32(response.UsageMetadata.TotalTokenCount),
		}
	}

	return Response{Content: content, Model: model, Usage: usage}, nil
}

var _ Provider = (*GeminiProvider)(nil)
