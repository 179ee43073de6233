package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateConversation(cfg, ve)
	validateLLM(cfg, ve)
	validateTools(cfg, ve)
	validateTranscript(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateConversation(cfg *Config, ve *ValidationError) {
	if cfg.Conversation.MaxTokens <= 0 {
		ve.Add("conversation.max_tokens must be > 0")
	}
	if cfg.Conversation.MaxDepth < 0 {
		ve.Add("conversation.max_depth must be >= 0")
	}
}

// ProviderTypes lists the provider types the CLI knows how to build.
var ProviderTypes = []string{"openai", "openrouter", "ollama", "anthropic", "bedrock"}

func validProviderType(t string) bool {
	for _, known := range ProviderTypes {
		if t == known {
			return true
		}
	}
	return false
}

// keyless provider types authenticate some other way, or not at all.
var keyless = map[string]bool{
	"ollama":  true,
	"bedrock": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}

	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if !validProviderType(p.Type) {
			ve.Add("llm.providers[%d].type %q is invalid (want: %s)", i, p.Type, strings.Join(ProviderTypes, ", "))
		}
		if p.APIKey == "" && !keyless[p.Type] {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via %sLLM_PROVIDER_%s_API_KEY)",
				i, p.Name, EnvPrefix, envName(p.Name))
		}
		if p.Type == "bedrock" && p.Region == "" {
			ve.Add("llm.providers[%d] (%s): region is required for bedrock provider", i, p.Name)
		}
		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				ve.Add("llm.providers[%d] (%s): base_url %q is not an absolute URL", i, p.Name, p.BaseURL)
			}
		}
		if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
			ve.Add("llm.providers[%d] (%s): temperature must be between 0 and 2", i, p.Name)
		}
	}

	if cfg.LLM.DefaultProvider != "" && !seen[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}

	if cfg.LLM.Failover.Enabled {
		if len(cfg.LLM.Failover.Fallbacks) == 0 {
			ve.Add("llm.failover.fallbacks must not be empty when failover is enabled")
		}
		for _, name := range cfg.LLM.Failover.Fallbacks {
			if !seen[name] {
				ve.Add("llm.failover.fallbacks: unknown provider %q", name)
			}
		}
	}

	cb := cfg.LLM.CircuitBreaker
	if cb.Enabled {
		if cb.MaxFailures == 0 {
			ve.Add("llm.circuit_breaker.max_failures must be > 0")
		}
		if cb.Timeout <= 0 {
			ve.Add("llm.circuit_breaker.timeout must be > 0")
		}
	}

	rl := cfg.LLM.RateLimit
	if rl.Enabled {
		if rl.RequestsPerSecond <= 0 {
			ve.Add("llm.rate_limit.requests_per_second must be > 0")
		}
		if rl.Burst <= 0 {
			ve.Add("llm.rate_limit.burst must be > 0")
		}
	}
}

var validBuiltinTools = map[string]bool{
	"clock":      true,
	"calculator": true,
}

func validateTools(cfg *Config, ve *ValidationError) {
	for _, name := range cfg.Tools.Builtin {
		if !validBuiltinTools[name] {
			ve.Add("tools.builtin: unknown tool %q (want: clock, calculator)", name)
		}
	}

	seen := make(map[string]bool)
	for i, s := range cfg.Tools.MCPServers {
		if s.Name == "" {
			ve.Add("tools.mcp_servers[%d].name must not be empty", i)
		} else if seen[s.Name] {
			ve.Add("tools.mcp_servers[%d].name %q is duplicate", i, s.Name)
		}
		seen[s.Name] = true

		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				ve.Add("tools.mcp_servers[%d].command is required for stdio transport", i)
			}
		case "http":
			if s.URL == "" {
				ve.Add("tools.mcp_servers[%d].url is required for http transport", i)
			}
		default:
			ve.Add("tools.mcp_servers[%d].transport %q is invalid (want: stdio, http)", i, s.Transport)
		}
	}
}

func validateTranscript(cfg *Config, ve *ValidationError) {
	if cfg.Transcript.Enabled && cfg.Transcript.Path == "" {
		ve.Add("transcript.path must not be empty when transcripts are enabled")
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "noop", "", "stdout":
	case "file":
		if cfg.Tracer.Output == "" {
			ve.Add("tracer.output is required for the file exporter")
		}
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout, file)", cfg.Tracer.Exporter)
	}
	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be between 0 and 1")
	}
}
