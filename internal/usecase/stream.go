package usecase

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"steelwool/internal/domain"
	"steelwool/internal/infra/tracer"
)

// streamAggregator folds streamed fragments into one PromptResponse.
type streamAggregator struct {
	content    strings.Builder
	stopReason domain.StopReason
	toolCalls  []domain.ToolCall
	tokens     int
	deltas     int
}

func newStreamAggregator() *streamAggregator {
	return &streamAggregator{}
}

// add merges one fragment. The first non-null stop reason wins; later ones are ignored.
func (a *streamAggregator) add(delta domain.PromptResponseDelta) {
	a.deltas++
	a.content.WriteString(delta.Content)

	if a.stopReason.IsNull() && !delta.StopReason.IsNull() {
		a.stopReason = delta.StopReason
	}
	if delta.ToolCall != nil {
		a.toolCalls = append(a.toolCalls, *delta.ToolCall)
	}
	// Usage is cumulative, so the largest value seen is the turn total.
	if delta.CumulativeTokens > a.tokens {
		a.tokens = delta.CumulativeTokens
	}
}

// build returns the aggregated response. Token usage is whatever the provider
// reported on the stream, or zero when it reported nothing.
func (a *streamAggregator) build() domain.PromptResponse {
	return domain.PromptResponse{
		Message:    domain.ModelMessage(a.content.String()),
		StopReason: a.stopReason,
		TokenUsage: a.tokens,
		ToolCalls:  a.toolCalls,
	}
}

// SendStreamingWithCallback consumes the adapter's stream to completion, calling
// onDelta for every fragment in order, and wraps the aggregate in a PendingReply
// exactly as Send would. A stream error aborts aggregation and is returned unchanged.
func (h *History) SendStreamingWithCallback(
	ctx context.Context,
	adapter domain.StreamProviderAdapter,
	systemMessage string,
	maxTokens int,
	tools []domain.Tool,
	onDelta func(domain.PromptResponseDelta),
) (*PendingReply, error) {
	ctx, span := tracer.StartSpan(ctx, "conversation.stream",
		trace.WithAttributes(
			tracer.IntAttr("conversation.messages", len(h.msgs)),
			tracer.IntAttr("conversation.max_tokens", maxTokens),
		),
	)
	defer span.End()

	agg := newStreamAggregator()
	for delta, err := range h.SendStreaming(ctx, adapter, systemMessage, maxTokens, tools) {
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}
		if onDelta != nil {
			onDelta(delta)
		}
		agg.add(delta)
	}

	resp := agg.build()
	span.SetAttributes(
		tracer.IntAttr("conversation.deltas", agg.deltas),
		tracer.StringAttr("conversation.stop_reason", resp.StopReason.String()),
	)
	tracer.SetOK(span)

	h.logger.Debug("provider stream completed",
		"deltas", agg.deltas,
		"stop_reason", resp.StopReason.String(),
		"tool_calls", len(resp.ToolCalls),
		"tokens", resp.TokenUsage,
	)

	return &PendingReply{
		Response:      resp,
		History:       h,
		Tools:         tools,
		SystemMessage: systemMessage,
	}, nil
}
