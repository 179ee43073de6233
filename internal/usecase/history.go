package usecase

import (
	"context"
	"iter"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"steelwool/internal/domain"
	"steelwool/internal/infra/tracer"
)

// History is the ordered message sequence of one conversation.
// It only grows by Append; nothing in this package removes or reorders entries.
//
// History is not safe for concurrent use. Exactly one resolution may be in
// flight against a given history at a time.
type History struct {
	msgs   []domain.Message
	logger *slog.Logger
}

// NewHistory creates a history seeded with msgs.
func NewHistory(msgs ...domain.Message) *History {
	h := &History{
		msgs:   make([]domain.Message, 0, len(msgs)),
		logger: slog.New(slog.DiscardHandler),
	}
	h.msgs = append(h.msgs, msgs...)
	return h
}

// WithLogger sets the logger used by sends and resolutions and returns h.
func (h *History) WithLogger(logger *slog.Logger) *History {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// Append adds msg to the end of the history and returns the same history.
func (h *History) Append(msg domain.Message) *History {
	h.msgs = append(h.msgs, msg)
	return h
}

// Transform applies fn to the history and returns its result.
func (h *History) Transform(fn func(*History) *History) *History {
	if fn == nil {
		return h
	}
	return fn(h)
}

// Messages returns a copy of the message sequence.
func (h *History) Messages() []domain.Message {
	cp := make([]domain.Message, len(h.msgs))
	copy(cp, h.msgs)
	return cp
}

// Len returns the number of messages.
func (h *History) Len() int { return len(h.msgs) }

// Last returns the most recent message.
func (h *History) Last() (domain.Message, bool) {
	if len(h.msgs) == 0 {
		return domain.Message{}, false
	}
	return h.msgs[len(h.msgs)-1], true
}

func (h *History) request(systemMessage string, maxTokens int, tools []domain.Tool) domain.PromptRequest {
	return domain.PromptRequest{
		Messages:      h.Messages(),
		SystemMessage: systemMessage,
		MaxTokens:     maxTokens,
		Tools:         tools,
	}
}

// Send hands the whole history to adapter and wraps the reply in a PendingReply.
// It does not append the reply; that is the resolver's job.
// Adapter errors are returned unchanged.
func (h *History) Send(ctx context.Context, adapter domain.ProviderAdapter, systemMessage string, maxTokens int, tools []domain.Tool) (*PendingReply, error) {
	ctx, span := tracer.StartSpan(ctx, "conversation.send",
		trace.WithAttributes(
			tracer.IntAttr("conversation.messages", len(h.msgs)),
			tracer.IntAttr("conversation.max_tokens", maxTokens),
			tracer.IntAttr("conversation.tools", len(tools)),
		),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	resp, err := adapter.Prompt(ctx, h.request(systemMessage, maxTokens, tools))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if resp == nil {
		err := domain.NewDomainError("History.Send", domain.ErrProviderError, "adapter returned no response")
		tracer.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(
		tracer.StringAttr("conversation.stop_reason", resp.StopReason.String()),
		tracer.IntAttr("conversation.token_usage", resp.TokenUsage),
	)
	tracer.SetOK(span)

	h.logger.Debug("provider replied",
		"stop_reason", resp.StopReason.String(),
		"tool_calls", len(resp.ToolCalls),
		"tokens", resp.TokenUsage,
	)

	return &PendingReply{
		Response:      *resp,
		History:       h,
		Tools:         tools,
		SystemMessage: systemMessage,
	}, nil
}

// SendStreaming returns the adapter's raw fragment sequence for the whole history.
// The sequence is lazy and may be consumed only once.
func (h *History) SendStreaming(ctx context.Context, adapter domain.StreamProviderAdapter, systemMessage string, maxTokens int, tools []domain.Tool) iter.Seq2[domain.PromptResponseDelta, error] {
	if err := ctx.Err(); err != nil {
		return domain.ErrorStream(err)
	}
	return adapter.PromptStream(ctx, h.request(systemMessage, maxTokens, tools))
}
