package usecase

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"steelwool/internal/domain"
	"steelwool/internal/infra/tracer"
)

// Conversation bundles what one user turn needs: the provider, the tool
// resolver and the per-turn limits. The CLI and the chat UI both drive
// turns through it.
type Conversation struct {
	Provider      domain.ProviderAdapter
	Resolver      domain.ToolResolver
	Tools         []domain.Tool
	SystemMessage string
	MaxTokens     int
	MaxDepth      int
	// Stream sends the first request through PromptStream when the provider
	// supports it. Tool round trips always use Prompt.
	Stream bool
	Logger *slog.Logger
}

// Turn appends userText to h, prompts the provider and resolves tool calls
// until the reply is terminal or the limits run out. onDelta, if set,
// receives the streamed fragments of the first reply.
func (c *Conversation) Turn(ctx context.Context, h *History, userText string, onDelta func(domain.PromptResponseDelta)) (*History, error) {
	ctx, span := tracer.StartSpan(ctx, "conversation.turn",
		trace.WithAttributes(
			tracer.BoolAttr("conversation.stream", c.Stream),
			tracer.IntAttr("conversation.tools", len(c.Tools)),
		),
	)
	defer span.End()

	if c.Logger != nil {
		h.WithLogger(c.Logger)
	}
	h.Append(domain.UserMessage(userText))

	pending, err := c.send(ctx, h, onDelta)
	if err != nil {
		tracer.RecordError(span, err)
		return h, err
	}

	out, err := pending.ResolveToolCallsRecursively(ctx, c.Resolver, c.MaxDepth, c.Provider, c.MaxTokens)
	if err != nil {
		tracer.RecordError(span, err)
		return h, err
	}
	tracer.SetOK(span)
	return out, nil
}

func (c *Conversation) send(ctx context.Context, h *History, onDelta func(domain.PromptResponseDelta)) (*PendingReply, error) {
	if c.Stream {
		if sp, ok := c.Provider.(domain.StreamProviderAdapter); ok {
			return h.SendStreamingWithCallback(ctx, sp, c.SystemMessage, c.MaxTokens, c.Tools, onDelta)
		}
	}
	return h.Send(ctx, c.Provider, c.SystemMessage, c.MaxTokens, c.Tools)
}
