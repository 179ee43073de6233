package usecase

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"sync"

	"steelwool/internal/domain"
)

// --- Mocks ---

// scriptedProvider returns one queued response per Prompt call and records
// every request it receives.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []domain.PromptResponse
	errs      map[int]error // call index -> error
	requests  []domain.PromptRequest
}

func (m *scriptedProvider) Prompt(_ context.Context, req domain.PromptRequest) (*domain.PromptResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.requests)
	m.requests = append(m.requests, req)
	if err, ok := m.errs[idx]; ok {
		return nil, err
	}
	if idx >= len(m.responses) {
		return &domain.PromptResponse{
			Message:    domain.ModelMessage("fallback"),
			StopReason: domain.StopReasonStop,
		}, nil
	}
	return new(m.responses[idx]), nil
}

func (m *scriptedProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// scriptedStream yields a fixed list of deltas, optionally failing after them.
type scriptedStream struct {
	deltas   []domain.PromptResponseDelta
	err      error
	requests []domain.PromptRequest
}

func (m *scriptedStream) PromptStream(_ context.Context, req domain.PromptRequest) iter.Seq2[domain.PromptResponseDelta, error] {
	m.requests = append(m.requests, req)
	return func(yield func(domain.PromptResponseDelta, error) bool) {
		for _, d := range m.deltas {
			if !yield(d, nil) {
				return
			}
		}
		if m.err != nil {
			yield(domain.PromptResponseDelta{}, m.err)
		}
	}
}

// recordingResolver answers tool calls from a table and records the calls it saw.
type recordingResolver struct {
	results map[string]string
	errs    map[string]error
	calls   []domain.ToolCall
}

func (r *recordingResolver) Resolve(_ context.Context, call domain.ToolCall) (string, error) {
	r.calls = append(r.calls, call)
	if err, ok := r.errs[call.Name]; ok {
		return "", err
	}
	if res, ok := r.results[call.Name]; ok {
		return res, nil
	}
	return fmt.Sprintf("result of %s", call.Name), nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func toolReply(usage int, calls ...domain.ToolCall) domain.PromptResponse {
	return domain.PromptResponse{
		Message:    domain.ModelMessage(""),
		StopReason: domain.StopReasonToolCalls,
		TokenUsage: usage,
		ToolCalls:  calls,
	}
}

func stopReply(content string, usage int) domain.PromptResponse {
	return domain.PromptResponse{
		Message:    domain.ModelMessage(content),
		StopReason: domain.StopReasonStop,
		TokenUsage: usage,
	}
}

func call(id, name string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: name, Arguments: map[string]any{}}
}
