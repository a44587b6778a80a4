// Package llm provides the provider client abstraction and middleware chaining.
package llm

import (
	"context"
	"fmt"

	"llmgate/pkg/config"
)

// Role identifies the author of a message.
type Role string

const (
	// RoleSystem marks instructions or context for the model.
	RoleSystem Role = "system"
	// RoleUser marks input from the calling application.
	RoleUser Role = "user"
	// RoleAssistant marks a prior model response.
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation payload.
type Message struct {
	Role    Role
	Content string
}

// Request is an outbound payload for a provider client.
type Request struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float32
}

// Response is a provider result. The rate limiting layer treats it as opaque
// and returns it unchanged.
type Response struct {
	Content          string
	StopReason       string
	PromptTokens     int
	CompletionTokens int
}

// Client is the base provider client contract. Implementations make the real
// network call; decorators wrap them without interpreting Response contents.
type Client interface {
	// Request sends the payload to the provider and returns its result.
	Request(ctx context.Context, req Request) (Response, error)

	// Supports reports whether this client can serve the given model.
	Supports(model string) bool

	// Provider returns the id of the provider this client talks to.
	Provider() config.ProviderID
}

// NewRequest creates a request with default generation settings.
func NewRequest(model string, messages []Message) Request {
	return Request{
		Model:       model,
		Messages:    messages,
		MaxTokens:   4096,
		Temperature: 0.3,
	}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Validate rejects requests no provider could serve.
func (r *Request) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("message list cannot be empty")
	}
	if r.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	if r.Temperature < 0.0 || r.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	return nil
}
