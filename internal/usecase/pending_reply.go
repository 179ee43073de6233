package usecase

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"steelwool/internal/domain"
	"steelwool/internal/infra/tracer"
)

// PendingReply holds one provider reply that has not yet been folded into its
// history. It shares the History pointer with whatever produced it and must not
// be reused once a Resolve method has returned.
type PendingReply struct {
	Response      domain.PromptResponse
	History       *History
	Tools         []domain.Tool
	SystemMessage string
}

// AsyncResolver is a caller-supplied resolution strategy that may block.
type AsyncResolver func(ctx context.Context, p *PendingReply) (*History, error)

// SyncResolver is a caller-supplied resolution strategy that does not block.
type SyncResolver func(p *PendingReply) *History

// ResolveWithout appends only the provider message.
func (p *PendingReply) ResolveWithout() *History {
	return p.History.Append(p.Response.Message)
}

// ResolveWith delegates resolution entirely to fn.
func (p *PendingReply) ResolveWith(ctx context.Context, fn AsyncResolver) (*History, error) {
	return fn(ctx, p)
}

// ResolveWithSync delegates resolution entirely to fn.
func (p *PendingReply) ResolveWithSync(fn SyncResolver) *History {
	return fn(p)
}

// Transform applies fn to the pending reply before it is resolved, for example
// to filter tool calls awaiting approval.
func (p *PendingReply) Transform(fn func(*PendingReply) *PendingReply) *PendingReply {
	if fn == nil {
		return p
	}
	return fn(p)
}

// ResolveToolCalls resolves a single batch without re-prompting. It appends the
// provider message and, when the reply stops for tool calls, one tool message
// holding every non-empty result. Other stop reasons append only the provider
// message.
//
// Results are collected before anything is appended, so a resolver error
// leaves the history untouched. A cancelled ctx also leaves it untouched and is
// not reported as an error.
func (p *PendingReply) ResolveToolCalls(ctx context.Context, resolver domain.ToolResolver) (*History, error) {
	h := p.History
	resp := p.Response

	if resp.StopReason != domain.StopReasonToolCalls {
		return h.Append(resp.Message), nil
	}

	results, err := resolveBatch(ctx, resolver, resp.ToolCalls)
	if err != nil {
		if cancelled(ctx, err) {
			h.logger.Debug("tool resolution cancelled", "pending_calls", len(resp.ToolCalls))
			return h, nil
		}
		return nil, err
	}

	return h.Append(resp.Message).Append(domain.ToolMessage(results)), nil
}

// ResolveToolCallsRecursively drives the resolve/re-prompt loop. Each round
// resolves every tool call of the current reply into one tool message, sends
// exactly one re-prompt with the remaining budget as max tokens, and continues
// with maxDepth-1 and the budget reduced by the resolved reply's token usage.
//
// The loop ends successfully when the depth or budget is exhausted, the reply
// carries a terminal stop reason, the reply asks for tools without naming any,
// or ctx is cancelled. A null stop reason returns domain.ErrNullStopReason
// without touching the history. Resolver and adapter errors are returned
// unchanged.
func (p *PendingReply) ResolveToolCallsRecursively(
	ctx context.Context,
	resolver domain.ToolResolver,
	maxDepth int,
	adapter domain.ProviderAdapter,
	maxTokens int,
) (*History, error) {
	ctx, span := tracer.StartSpan(ctx, "conversation.resolve",
		trace.WithAttributes(
			tracer.IntAttr("conversation.max_depth", maxDepth),
			tracer.IntAttr("conversation.max_tokens", maxTokens),
		),
	)
	defer span.End()

	h := p.History
	current := p
	depth, budget := maxDepth, maxTokens
	roundTrips := 0

	for {
		resp := current.Response
		h.logger.Debug("resolving reply",
			"depth", depth,
			"budget", budget,
			"stop_reason", resp.StopReason.String(),
			"tool_calls", len(resp.ToolCalls),
		)

		switch {
		case depth <= 0 || budget <= 0:
			h.Append(resp.Message)
			return finishResolve(span, h, roundTrips, "budget exhausted"), nil

		case resp.StopReason.IsTerminal():
			h.Append(resp.Message)
			return finishResolve(span, h, roundTrips, resp.StopReason.String()), nil

		case resp.StopReason == domain.StopReasonToolCalls:
			if !resp.HasToolCalls() {
				return finishResolve(span, h, roundTrips, "no tool calls"), nil
			}

			results, err := resolveBatch(ctx, resolver, resp.ToolCalls)
			if err != nil {
				if cancelled(ctx, err) {
					return finishResolve(span, h, roundTrips, "cancelled"), nil
				}
				tracer.RecordError(span, err)
				return nil, err
			}
			h.Append(resp.Message).Append(domain.ToolMessage(results))

			next, err := h.Send(ctx, adapter, current.SystemMessage, budget, current.Tools)
			if err != nil {
				if cancelled(ctx, err) {
					return finishResolve(span, h, roundTrips, "cancelled"), nil
				}
				tracer.RecordError(span, err)
				return nil, err
			}
			roundTrips++
			depth--
			budget -= resp.TokenUsage
			current = next

		case resp.StopReason.IsNull():
			err := domain.NewDomainError("PendingReply.ResolveToolCallsRecursively", domain.ErrNullStopReason, "")
			tracer.RecordError(span, err)
			return nil, err

		default:
			err := domain.NewDomainError("PendingReply.ResolveToolCallsRecursively", domain.ErrInvalidInput,
				"unknown stop reason "+string(resp.StopReason))
			tracer.RecordError(span, err)
			return nil, err
		}
	}
}

func finishResolve(span trace.Span, h *History, roundTrips int, outcome string) *History {
	span.SetAttributes(
		tracer.IntAttr("conversation.round_trips", roundTrips),
		tracer.StringAttr("conversation.outcome", outcome),
	)
	tracer.SetOK(span)
	h.logger.Debug("resolution finished", "outcome", outcome, "round_trips", roundTrips, "messages", h.Len())
	return h
}

// resolveBatch runs every call in order and joins the non-empty results, each
// followed by a newline. The first resolver error aborts the batch.
func resolveBatch(ctx context.Context, resolver domain.ToolResolver, calls []domain.ToolCall) (string, error) {
	var sb strings.Builder
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		result, err := resolveOne(ctx, resolver, call)
		if err != nil {
			return "", err
		}
		if result != "" {
			sb.WriteString(result)
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

func resolveOne(ctx context.Context, resolver domain.ToolResolver, call domain.ToolCall) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "conversation.tool_call",
		trace.WithAttributes(
			tracer.StringAttr("tool.name", call.Name),
			tracer.StringAttr("tool.call_id", call.ID),
		),
	)
	defer span.End()

	result, err := resolver.Resolve(ctx, call)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	tracer.SetOK(span)
	return result, nil
}

// cancelled reports whether err stems from ctx being done.
func cancelled(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ctx.Err())
}
