package llm

import (
	"context"
	"iter"
	"log/slog"

	"golang.org/x/time/rate"

	"steelwool/internal/domain"
	"steelwool/internal/infra/config"
)

var _ domain.StreamingProvider = (*RateLimitedProvider)(nil)

// RateLimitedProvider throttles outgoing requests with a token bucket.
// Callers block until a token is available or their context ends.
type RateLimitedProvider struct {
	inner   domain.NamedProvider
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRateLimitedProvider wraps inner with a limiter built from cfg.
func NewRateLimitedProvider(inner domain.NamedProvider, cfg config.RateLimitConfig, logger *slog.Logger) *RateLimitedProvider {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		logger:  logger,
	}
}

func (p *RateLimitedProvider) wait(ctx context.Context) error {
	if p.limiter.Allow() {
		return nil
	}
	p.logger.Debug("rate limiter delaying request", "provider", p.inner.Name())
	return p.limiter.Wait(ctx)
}

// Prompt implements domain.ProviderAdapter.
func (p *RateLimitedProvider) Prompt(ctx context.Context, req domain.PromptRequest) (*domain.PromptResponse, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.Prompt(ctx, req)
}

// PromptStream implements domain.StreamProviderAdapter.
func (p *RateLimitedProvider) PromptStream(ctx context.Context, req domain.PromptRequest) iter.Seq2[domain.PromptResponseDelta, error] {
	sp, ok := p.inner.(domain.StreamProviderAdapter)
	if !ok {
		return domain.ErrorStream(domain.NewDomainError("RateLimitedProvider.PromptStream", domain.ErrStreamingUnsupported, p.inner.Name()))
	}
	return func(yield func(domain.PromptResponseDelta, error) bool) {
		if err := p.wait(ctx); err != nil {
			yield(domain.PromptResponseDelta{}, err)
			return
		}
		for delta, err := range sp.PromptStream(ctx, req) {
			if !yield(delta, err) {
				return
			}
		}
	}
}

// Name implements domain.NamedProvider.
func (p *RateLimitedProvider) Name() string { return p.inner.Name() }
