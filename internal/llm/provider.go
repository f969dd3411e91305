// Package llm defines the structured content model for conversation turns
// and the provider-agnostic interface over LLM backends.
package llm

import "context"

// Provider is the abstraction over any LLM backend (mock, Ollama, OpenAI).
type Provider interface {
	// Name returns the provider identifier (e.g. "ollama").
	Name() string
	// Normalize converts prior messages plus the new structured input into
	// the backend's wire message list.
	Normalize(history []Message, input *Content) []WireMessage
	// Complete sends the conversation to the backend and returns the reply
	// text. Transport failures surface as errors; the provider never
	// retries and never touches conversation state.
	Complete(ctx context.Context, history []Message, input *Content) (string, error)
}

// WireMessage is one message of a backend request payload. Content is a
// plain string for text-only messages, or a provider-specific slice of
// content parts for multimodal ones.
type WireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}
