// OpenAI-compatible Provider implementation using go-openai library.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for the Chat Completions API
// - Compatible vendors (DeepSeek, local gateways) differ only by base URL

package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// OpenAIProvider implements Provider for OpenAI and compatible APIs.
type OpenAIProvider struct {
	client      *openai.Client
	name        string
	model       string
	maxTokens   int
	temperature float32
	// legacyMaxTokens sends max_tokens instead of max_completion_tokens,
	// which older compatible servers still expect.
	legacyMaxTokens bool
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	return &OpenAIProvider{
		client:      openai.NewClient(apiKey),
		name:        "openai",
		model:       model,
		maxTokens:   int(maxTokens),
		temperature: temperature,
	}
}

// NewCompatibleProvider creates a provider for an OpenAI-compatible API at baseURL.
func NewCompatibleProvider(name, baseURL, apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL

	return &OpenAIProvider{
		client:          openai.NewClientWithConfig(config),
		name:            name,
		model:           model,
		maxTokens:       int(maxTokens),
		temperature:     temperature,
		legacyMaxTokens: true,
	}
}

// NewDeepSeekProvider creates a DeepSeek provider.
func NewDeepSeekProvider(apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	return NewCompatibleProvider("deepseek", deepseekBaseURL, apiKey, model, maxTokens, temperature)
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Model returns the current model.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Chat sends a chat completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []ChatMessage) (Response, error) {
	return p.ChatWithFormat(ctx, messages, nil)
}

// ChatWithFormat sends a chat completion request with optional response format.
func (p *OpenAIProvider) ChatWithFormat(ctx context.Context, messages []ChatMessage, format *ResponseFormat) (Response, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    convertToOpenAIMessages(messages),
		Temperature: p.temperature,
	}
	if p.legacyMaxTokens {
		req.MaxTokens = p.maxTokens
	} else {
		req.MaxCompletionTokens = p.maxTokens
	}

	if format != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatType(format.Type),
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("chat completion failed: %w", err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	usage := &TokenUsage{
		PromptTokens:     uint32(resp.Usage.PromptTokens),
		CompletionTokens: uint32(resp.Usage.CompletionTokens),
		TotalTokens:      uint32(resp.Usage.TotalTokens),
	}

	return Response{Content: content, Usage: usage}, nil
}

// convertToOpenAIMessages converts our ChatMessage to openai.ChatCompletionMessage
func convertToOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		result[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return result
}

var _ Provider = (*OpenAIProvider)(nil)
