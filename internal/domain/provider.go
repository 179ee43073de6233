package domain

import (
	"context"
	"iter"
)

// PromptRequest is what a provider adapter receives for one round trip.
type PromptRequest struct {
	Messages      []Message `json:"messages"`
	SystemMessage string    `json:"system_message,omitempty"`
	MaxTokens     int       `json:"max_tokens,omitempty"`
	Tools         []Tool    `json:"tools,omitempty"`
}

// ProviderAdapter is the non-streaming provider contract.
// The implementation owns transport, auth, retries and prompt formatting.
type ProviderAdapter interface {
	Prompt(ctx context.Context, req PromptRequest) (*PromptResponse, error)
}

// StreamProviderAdapter is the streaming provider contract.
// The returned sequence is finite and may be ranged over only once.
type StreamProviderAdapter interface {
	PromptStream(ctx context.Context, req PromptRequest) iter.Seq2[PromptResponseDelta, error]
}

// ProviderFunc adapts a plain function to ProviderAdapter.
type ProviderFunc func(ctx context.Context, req PromptRequest) (*PromptResponse, error)

// Prompt implements ProviderAdapter.
func (f ProviderFunc) Prompt(ctx context.Context, req PromptRequest) (*PromptResponse, error) {
	return f(ctx, req)
}

// StreamProviderFunc adapts a plain function to StreamProviderAdapter.
type StreamProviderFunc func(ctx context.Context, req PromptRequest) iter.Seq2[PromptResponseDelta, error]

// PromptStream implements StreamProviderAdapter.
func (f StreamProviderFunc) PromptStream(ctx context.Context, req PromptRequest) iter.Seq2[PromptResponseDelta, error] {
	return f(ctx, req)
}

// NamedProvider is implemented by adapters that can be registered by name.
type NamedProvider interface {
	ProviderAdapter
	Name() string
}

// StreamingProvider is a named provider that also streams.
type StreamingProvider interface {
	NamedProvider
	StreamProviderAdapter
}

// ErrorStream returns a sequence that yields err once and stops.
func ErrorStream(err error) iter.Seq2[PromptResponseDelta, error] {
	return func(yield func(PromptResponseDelta, error) bool) {
		yield(PromptResponseDelta{}, err)
	}
}
