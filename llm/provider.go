// Package llm provides LLM provider abstractions.
//
// The research collaborators only need single-shot chat completions, so a
// Provider exposes plain and format-constrained chat. Each implementation
// hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Provider-specific error handling

package llm

import (
	"context"
)

// Provider defines the abstract interface for LLM providers.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the current model being used.
	Model() string

	// Chat sends a chat completion request.
	Chat(ctx context.Context, messages []ChatMessage) (Response, error)

	// ChatWithFormat sends a chat completion request with response format.
	// Providers without native JSON mode approximate it with instructions.
	ChatWithFormat(ctx context.Context, messages []ChatMessage, format *ResponseFormat) (Response, error)
}
