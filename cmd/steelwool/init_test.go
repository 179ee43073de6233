package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steelwool/internal/adapter/llm"
	"steelwool/internal/adapter/tool"
	"steelwool/internal/infra/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInitLLM(t *testing.T) {
	cfg := config.Defaults()
	cfg.LLM.Providers = append(cfg.LLM.Providers,
		config.ProviderConfig{Name: "cloud", Type: "openai", APIKey: "sk", Model: "gpt-4o"},
	)
	cfg.LLM.RateLimit.Enabled = true
	cfg.LLM.CircuitBreaker.Enabled = true

	comp, err := initLLM(cfg, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"cloud", "ollama"}, comp.Registry.List())
	assert.Equal(t, "llama3.2", comp.Model)

	_, isBreaker := comp.Default.(*llm.CircuitBreakerProvider)
	assert.True(t, isBreaker, "default provider should be wrapped by the circuit breaker")
}

func TestInitLLMFailover(t *testing.T) {
	cfg := config.Defaults()
	cfg.LLM.Providers = append(cfg.LLM.Providers,
		config.ProviderConfig{Name: "cloud", Type: "anthropic", APIKey: "sk", Model: "claude"},
	)
	cfg.LLM.Failover = config.FailoverConfig{Enabled: true, Fallbacks: []string{"ollama", "cloud"}}

	comp, err := initLLM(cfg, discardLogger())
	require.NoError(t, err)
	_, isFailover := comp.Default.(*llm.FailoverProvider)
	assert.True(t, isFailover)
}

func TestInitLLMErrors(t *testing.T) {
	cfg := config.Defaults()
	cfg.LLM.Providers = []config.ProviderConfig{{Name: "x", Type: "carrier-pigeon"}}
	_, err := initLLM(cfg, discardLogger())
	assert.ErrorContains(t, err, "unknown provider type")

	cfg = config.Defaults()
	cfg.LLM.DefaultProvider = "missing"
	_, err = initLLM(cfg, discardLogger())
	assert.ErrorContains(t, err, "default llm provider")
}

func TestInitTools(t *testing.T) {
	reg, cleanup, err := initTools(context.Background(), config.ToolsConfig{
		Builtin: []string{tool.ClockToolName, tool.CalculatorToolName},
	}, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	catalog := reg.Catalog()
	require.Len(t, catalog, 2)
	assert.Equal(t, tool.CalculatorToolName, catalog[0].Name)
	assert.Equal(t, tool.ClockToolName, catalog[1].Name)
}

func TestInitToolsUnknownBuiltin(t *testing.T) {
	_, cleanup, err := initTools(context.Background(), config.ToolsConfig{Builtin: []string{"teleport"}}, discardLogger())
	assert.Error(t, err)
	cleanup()
}
