// Package llm defines the Provider interface for the text-chat backends.
//
// A provider wraps a remote or local model API (OpenAI, Gemini, Anthropic,
// a local Ollama instance) and exposes one blocking completion call plus
// static model metadata, so the chat service never couples to a specific SDK.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	// Content is the text of the turn.
	Content string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is injected before the history. Providers without a
	// dedicated field prepend it as a [RoleSystem] message.
	SystemPrompt string

	// Messages is the ordered conversation history; the last entry is
	// normally the user's new message.
	Messages []Message

	// Temperature in [0.0, 2.0]. Zero means the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means the provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	Content string

	// FinishReason is the backend's stop reason, e.g. "stop" or "length".
	FinishReason string

	Usage Usage
}

// ModelCapabilities is static metadata about the backing model.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input plus output.
	ContextWindow int

	// MaxOutputTokens is the most the model generates in one completion.
	MaxOutputTokens int
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req and waits for the full reply. It returns promptly
	// when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns metadata about the model. The result is constant
	// for the lifetime of the Provider.
	Capabilities() ModelCapabilities
}
