package main

import (
	"fmt"
	"log/slog"

	"steelwool/internal/adapter/llm"
	"steelwool/internal/domain"
	"steelwool/internal/infra/config"
)

// LLMComponents holds the provider registry and the provider a turn talks to.
type LLMComponents struct {
	Registry *llm.Registry
	Default  domain.NamedProvider
	// Model is the model name of the default provider, for display.
	Model string
}

// initLLM builds every configured provider, wraps each one with the rate
// limiter and circuit breaker when enabled, and puts the default behind
// failover when fallbacks are configured.
func initLLM(cfg *config.Config, log *slog.Logger) (*LLMComponents, error) {
	registry := llm.NewRegistry()

	rl := cfg.LLM.RateLimit
	cb := cfg.LLM.CircuitBreaker
	for _, pc := range cfg.LLM.Providers {
		provider, err := createLLMProvider(pc, log)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}

		// The limiter sits inside the breaker so throttled waits never count
		// as provider failures.
		if rl.Enabled {
			provider = llm.NewRateLimitedProvider(provider, rl, log)
		}
		if cb.Enabled {
			provider = llm.NewCircuitBreakerProvider(provider, cb, log)
		}

		if err := registry.Register(provider); err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
	}

	if rl.Enabled {
		log.Info("llm rate limit enabled", "rps", rl.RequestsPerSecond, "burst", rl.Burst)
	}
	if cb.Enabled {
		log.Info("llm circuit breaker enabled",
			"max_failures", cb.MaxFailures,
			"timeout", cb.Timeout,
			"interval", cb.Interval,
		)
	}

	def, err := registry.Get(cfg.LLM.DefaultProvider)
	if err != nil {
		return nil, fmt.Errorf("default llm provider: %w", err)
	}

	if cfg.LLM.Failover.Enabled && len(cfg.LLM.Failover.Fallbacks) > 0 {
		var fallbacks []domain.NamedProvider
		for _, name := range cfg.LLM.Failover.Fallbacks {
			if name == cfg.LLM.DefaultProvider {
				continue
			}
			fb, err := registry.Get(name)
			if err != nil {
				return nil, fmt.Errorf("failover provider %s: %w", name, err)
			}
			fallbacks = append(fallbacks, fb)
		}
		if len(fallbacks) > 0 {
			def = llm.NewFailoverProvider(def, fallbacks, log)
			log.Info("model failover enabled", "fallbacks", cfg.LLM.Failover.Fallbacks)
		}
	}

	var model string
	if pc, ok := cfg.Provider(cfg.LLM.DefaultProvider); ok {
		model = pc.Model
	}

	return &LLMComponents{
		Registry: registry,
		Default:  def,
		Model:    model,
	}, nil
}

// createLLMProvider creates a provider based on the type field.
func createLLMProvider(pc config.ProviderConfig, log *slog.Logger) (domain.NamedProvider, error) {
	switch pc.Type {
	case "openai", "":
		return llm.NewOpenAIProvider(pc, log), nil
	case "anthropic":
		return llm.NewAnthropicProvider(pc, log), nil
	case "openrouter":
		return llm.NewOpenRouterProvider(pc, log), nil
	case "ollama":
		return llm.NewOllamaProvider(pc, log), nil
	case "bedrock":
		return createBedrockProvider(pc, log)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", pc.Type)
	}
}
