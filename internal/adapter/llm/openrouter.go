package llm

import (
	"context"
	"iter"
	"log/slog"
	"net/http"

	"steelwool/internal/domain"
	"steelwool/internal/infra/config"
)

var _ domain.StreamingProvider = (*OpenRouterProvider)(nil)

// openrouterTransport injects the attribution headers OpenRouter asks
// clients to send (HTTP-Referer and X-Title).
type openrouterTransport struct {
	base http.RoundTripper
}

func (t *openrouterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid mutating the original.
	clone := req.Clone(req.Context())
	clone.Header.Set("HTTP-Referer", "https://github.com/steelwool/steelwool")
	clone.Header.Set("X-Title", "steelwool")
	return t.base.RoundTrip(clone)
}

// OpenRouterProvider is an OpenAI-compatible provider pointed at OpenRouter.
type OpenRouterProvider struct {
	inner *OpenAIProvider
}

// NewOpenRouterProvider creates an OpenRouter provider that delegates to
// OpenAIProvider through a header-injecting transport.
func NewOpenRouterProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenRouterProvider {
	client := NewHTTPClient(cfg)
	client.Transport = &openrouterTransport{base: client.Transport}

	return &OpenRouterProvider{
		inner: newOpenAIProvider(cfg, "https://openrouter.ai/api/v1", client, logger),
	}
}

// WithEstimator replaces the token estimator used for streams without usage.
func (p *OpenRouterProvider) WithEstimator(e TokenEstimator) *OpenRouterProvider {
	p.inner.WithEstimator(e)
	return p
}

// Prompt implements domain.ProviderAdapter.
func (p *OpenRouterProvider) Prompt(ctx context.Context, req domain.PromptRequest) (*domain.PromptResponse, error) {
	return p.inner.Prompt(ctx, req)
}

// PromptStream implements domain.StreamProviderAdapter.
func (p *OpenRouterProvider) PromptStream(ctx context.Context, req domain.PromptRequest) iter.Seq2[domain.PromptResponseDelta, error] {
	return p.inner.PromptStream(ctx, req)
}

// Name implements domain.NamedProvider.
func (p *OpenRouterProvider) Name() string { return p.inner.Name() }
