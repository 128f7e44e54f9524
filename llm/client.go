// Client - thin wrapper around a Provider that tracks token usage.

package llm

import (
	"context"
	"sync"
)

// Client wraps a Provider and accumulates token usage across calls.
// It is safe for concurrent use.
type Client struct {
	provider Provider

	mu    sync.Mutex
	usage TokenUsage
	calls int
}

// NewClient creates a new LLM client from a provider.
func NewClient(provider Provider) *Client {
	return &Client{provider: provider}
}

// Chat sends a chat completion request and returns just the content.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	content, _, err := c.ChatWithUsage(ctx, messages)
	return content, err
}

// ChatWithUsage sends a chat completion request and returns content with token usage.
func (c *Client) ChatWithUsage(ctx context.Context, messages []ChatMessage) (string, *TokenUsage, error) {
	response, err := c.provider.Chat(ctx, messages)
	if err != nil {
		return "", nil, err
	}
	c.record(response.Usage)
	return response.Content, response.Usage, nil
}

// ChatWithFormat sends a chat completion request with response format
// and returns just the content.
func (c *Client) ChatWithFormat(ctx context.Context, messages []ChatMessage, format *ResponseFormat) (string, error) {
	response, err := c.provider.ChatWithFormat(ctx, messages, format)
	if err != nil {
		return "", err
	}
	c.record(response.Usage)
	return response.Content, nil
}

// Provider returns the underlying provider.
func (c *Client) Provider() Provider {
	return c.provider
}

// Usage returns the accumulated token usage and the number of successful calls.
func (c *Client) Usage() (TokenUsage, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage, c.calls
}

func (c *Client) record(u *TokenUsage) {
	c.mu.Lock()
	c.usage.Add(u)
	c.calls++
	c.mu.Unlock()
}
