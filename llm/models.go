package llm

// ChatMessage represents a chat message with role and content.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage creates a system message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: content}
}

// Response represents a response from an LLM provider.
type Response struct {
	Content string
	Usage   *TokenUsage
}

// TokenUsage contains token usage statistics.
type TokenUsage struct {
	PromptTokens     uint32 `json:"prompt_tokens"`
	CompletionTokens uint32 `json:"completion_tokens"`
	TotalTokens      uint32 `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ResponseFormatType defines the type of response format.
type ResponseFormatType string

const (
	ResponseFormatText       ResponseFormatType = "text"
	ResponseFormatJSONObject ResponseFormatType = "json_object"
)

// ResponseFormat specifies how the LLM should format its response.
type ResponseFormat struct {
	Type ResponseFormatType `json:"type"`
}

// JSON reports whether a JSON object was requested.
func (f *ResponseFormat) JSON() bool {
	return f != nil && f.Type == ResponseFormatJSONObject
}

// NewTextFormat creates a text response format.
func NewTextFormat() *ResponseFormat {
	return &ResponseFormat{Type: ResponseFormatText}
}

// NewJSONObjectFormat creates a JSON object response format.
func NewJSONObjectFormat() *ResponseFormat {
	return &ResponseFormat{Type: ResponseFormatJSONObject}
}

// jsonInstruction is appended to the system prompt by providers that have
// no native JSON mode.
const jsonInstruction = "Respond with a single valid JSON object and nothing else."
