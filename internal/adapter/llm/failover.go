package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"steelwool/internal/domain"
)

var _ domain.StreamingProvider = (*FailoverProvider)(nil)

// FailoverProvider wraps a primary provider with fallback providers.
// If the primary fails, it tries each fallback in order.
type FailoverProvider struct {
	primary   domain.NamedProvider
	fallbacks []domain.NamedProvider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover-capable provider.
func NewFailoverProvider(primary domain.NamedProvider, fallbacks []domain.NamedProvider, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{
		primary:   primary,
		fallbacks: fallbacks,
		logger:    logger,
	}
}

func (f *FailoverProvider) chain() []domain.NamedProvider {
	return append([]domain.NamedProvider{f.primary}, f.fallbacks...)
}

// Prompt tries the primary provider first, then each fallback on failure.
// A cancelled context stops the chain immediately.
func (f *FailoverProvider) Prompt(ctx context.Context, req domain.PromptRequest) (*domain.PromptResponse, error) {
	var allErrors []string
	for i, p := range f.chain() {
		resp, err := p.Prompt(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover succeeded", "provider", p.Name())
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		f.logger.Warn("LLM provider failed, trying next", "provider", p.Name(), "error", err)
		allErrors = append(allErrors, fmt.Sprintf("%s: %v", p.Name(), err))
	}

	return nil, fmt.Errorf("%w: all providers failed: [%s]", domain.ErrProviderUnavailable, strings.Join(allErrors, "; "))
}

// PromptStream streams from the first provider that produces a delta.
// Once a delta has been yielded the stream is committed to that provider
// and later errors are passed through.
func (f *FailoverProvider) PromptStream(ctx context.Context, req domain.PromptRequest) iter.Seq2[domain.PromptResponseDelta, error] {
	return func(yield func(domain.PromptResponseDelta, error) bool) {
		var allErrors []string

		for _, p := range f.chain() {
			sp, ok := p.(domain.StreamProviderAdapter)
			if !ok {
				continue
			}

			committed := false
			var failure error
			for delta, err := range sp.PromptStream(ctx, req) {
				if err != nil && !committed {
					failure = err
					break
				}
				committed = true
				if !yield(delta, err) || err != nil {
					return
				}
			}
			if committed {
				return
			}
			if failure == nil {
				// An empty stream is a valid, if useless, reply.
				return
			}
			if ctx.Err() != nil || errors.Is(failure, context.Canceled) {
				yield(domain.PromptResponseDelta{}, failure)
				return
			}
			f.logger.Warn("streaming LLM provider failed, trying next", "provider", p.Name(), "error", failure)
			allErrors = append(allErrors, fmt.Sprintf("%s: %v", p.Name(), failure))
		}

		if len(allErrors) == 0 {
			yield(domain.PromptResponseDelta{}, domain.NewDomainError("FailoverProvider.PromptStream", domain.ErrStreamingUnsupported, f.Name()))
			return
		}
		yield(domain.PromptResponseDelta{}, fmt.Errorf("%w: all streaming providers failed: [%s]", domain.ErrProviderUnavailable, strings.Join(allErrors, "; ")))
	}
}

// Name returns a composite name.
func (f *FailoverProvider) Name() string {
	return f.primary.Name() + "+failover"
}
