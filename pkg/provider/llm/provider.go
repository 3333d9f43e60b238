// Package llm defines the Provider interface for Large Language Model backends.
//
// parley uses an LLM for one thing: turning a finished conversation transcript
// into a summary. The interface is therefore a single blocking completion call.
// Implementations wrap a vendor SDK (OpenAI directly, or any-llm-go for the
// other vendors) and must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the backend answers without any choice.
var ErrEmptyResponse = errors.New("llm: response has no choices")

// Role values accepted in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single message in a completion request.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
type CompletionRequest struct {
	// SystemPrompt is sent first as a system-role message when non-empty.
	SystemPrompt string

	// Messages is the ordered conversation following the system prompt.
	Messages []Message

	// Temperature controls output randomness. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero leaves the provider default.
	MaxTokens int
}

// Conversation returns the messages to send, with SystemPrompt (if any) as a
// leading system message.
func (r CompletionRequest) Conversation() []Message {
	if r.SystemPrompt == "" {
		return r.Messages
	}
	out := make([]Message, 0, len(r.Messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: r.SystemPrompt})
	return append(out, r.Messages...)
}

// CompletionResponse is the text of the first returned choice plus usage.
type CompletionResponse struct {
	Content string

	// FinishReason is the backend's stop reason for the choice ("stop",
	// "length", ...). Empty when the backend does not report one.
	FinishReason string

	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Complete must return promptly when ctx is cancelled. A response without
// choices is reported as [ErrEmptyResponse], never as an empty
// CompletionResponse.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
