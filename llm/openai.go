// OpenAI-compatible Provider implementation using go-openai library.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for the Chat Completions API
// - DeepSeek served through the same wire format with a different base URL

package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// OpenAIProvider implements the Provider interface for OpenAI and
// OpenAI-compatible endpoints.
type OpenAIProvider struct {
	name   string
	client *openai.Client
	cfg    ProviderConfig
}

// NewOpenAIProvider creates a provider for the OpenAI API.
func NewOpenAIProvider(cfg ProviderConfig) *OpenAIProvider {
	return newOpenAICompatible("openai", cfg)
}

// NewDeepSeekProvider creates a provider for DeepSeek's OpenAI-compatible API.
func NewDeepSeekProvider(cfg ProviderConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = deepseekBaseURL
	}
	return newOpenAICompatible("deepseek", cfg)
}

func newOpenAICompatible(name string, cfg ProviderConfig) *OpenAIProvider {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		name:   name,
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Model returns the default model.
func (p *OpenAIProvider) Model() string {
	return p.cfg.Model
}

// Complete sends a single chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (Response, error) {
	model := p.cfg.model(req)

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   p.cfg.maxTokens(req),
		Temperature: p.cfg.Temperature,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Response{}, fmt.Errorf("%s completion failed: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("%s returned no choices", p.name)
	}

	return Response{
		Content: resp.Choices[0].Message.Content,
		Model:   model,
		Usage: &TokenUsage{
			PromptTokens:     uint32(resp.Usage.PromptTokens),
			CompletionTokens: uint32(resp.Usage.CompletionTokens),
			TotalTokens:      uint32(resp.Usage.TotalTokens),
		},
	}, nil
}

var _ Provider = (*OpenAIProvider)(nil)
