package llm

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"steelwool/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockProvider is a scripted domain.StreamingProvider.
type mockProvider struct {
	name       string
	promptFunc func(ctx context.Context, req domain.PromptRequest) (*domain.PromptResponse, error)
	streamFunc func(ctx context.Context, req domain.PromptRequest) iter.Seq2[domain.PromptResponseDelta, error]

	mu    sync.Mutex
	calls int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Prompt(ctx context.Context, req domain.PromptRequest) (*domain.PromptResponse, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.promptFunc != nil {
		return m.promptFunc(ctx, req)
	}
	return &domain.PromptResponse{Message: domain.ModelMessage(m.name), StopReason: domain.StopReasonStop}, nil
}

func (m *mockProvider) PromptStream(ctx context.Context, req domain.PromptRequest) iter.Seq2[domain.PromptResponseDelta, error] {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.streamFunc != nil {
		return m.streamFunc(ctx, req)
	}
	return deltas(domain.PromptResponseDelta{Content: m.name, StopReason: domain.StopReasonStop})
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// promptOnly hides the streaming side of a provider.
type promptOnly struct{ domain.NamedProvider }

// deltas returns a stream that yields ds in order.
func deltas(ds ...domain.PromptResponseDelta) iter.Seq2[domain.PromptResponseDelta, error] {
	return func(yield func(domain.PromptResponseDelta, error) bool) {
		for _, d := range ds {
			if !yield(d, nil) {
				return
			}
		}
	}
}

// failingAfter yields ds and then err.
func failingAfter(err error, ds ...domain.PromptResponseDelta) iter.Seq2[domain.PromptResponseDelta, error] {
	return func(yield func(domain.PromptResponseDelta, error) bool) {
		for _, d := range ds {
			if !yield(d, nil) {
				return
			}
		}
		yield(domain.PromptResponseDelta{}, err)
	}
}

// collect drains a stream, stopping at the first error.
func collect(seq iter.Seq2[domain.PromptResponseDelta, error]) ([]domain.PromptResponseDelta, error) {
	var out []domain.PromptResponseDelta
	for d, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

// sseServer replies to every request with the given data events.
func sseServer(t *testing.T, check func(r *http.Request), events ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func userPrompt(text string) domain.PromptRequest {
	return domain.PromptRequest{Messages: []domain.Message{domain.UserMessage(text)}, MaxTokens: 256}
}
