package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"steelwool/internal/adapter/transcript"
	"steelwool/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// doctorClient is used for connectivity probes.
var doctorClient = &http.Client{Timeout: 10 * time.Second}

// runDoctor executes all health checks and writes a report to w.
func runDoctor(flags cliFlags, w io.Writer) error {
	cfgPath := configPath(flags)

	// Some checks work without a loaded config.
	cfg, cfgErr := loadConfig(flags)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "LLM API key", Fn: checkLLMAPIKey},
		{Name: "LLM connectivity", Fn: checkLLMConnectivity},
		{Name: "Transcript store", Fn: checkTranscriptStore},
		{Name: "MCP servers", Fn: checkMCPServers},
	}

	_, fail := runChecks(checks, cfg, w)
	if fail > 0 {
		fmt.Fprintln(w, "\nFix the FAIL issues above to ensure steelwool runs correctly.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

// runChecks runs every check against cfg and prints one line per result.
// It returns the results and the number of failures.
func runChecks(checks []Check, cfg *config.Config, w io.Writer) ([]CheckResult, int) {
	fmt.Fprintln(w, "steelwool doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	results := make([]CheckResult, 0, len(checks))

	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name
		results = append(results, result)

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	if fail == 0 && warn == 0 {
		fmt.Fprintln(w, "\nAll checks passed! steelwool is ready to run.")
	}
	return results, fail
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
}

// checkConfigFile reports whether the config file exists and loaded. A
// missing file is only a warning because defaults plus environment
// variables are enough to run.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Fix %s or the STEELWOOL_* variables it is combined with", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
				Fix:     fmt.Sprintf("Create %s to customize providers and tools", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkLLMAPIKey verifies every provider that needs a key has one.
func checkLLMAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if len(cfg.LLM.Providers) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no LLM providers configured",
			Fix:     "Add at least one provider under llm.providers",
		}
	}

	var withKey, withoutKey, keyless []string
	for _, p := range cfg.LLM.Providers {
		switch {
		case p.Type == "ollama" || p.Type == "bedrock":
			keyless = append(keyless, p.Name)
		case p.APIKey != "":
			withKey = append(withKey, p.Name)
		default:
			withoutKey = append(withoutKey, p.Name)
		}
	}

	if len(withoutKey) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no API key for: %s", strings.Join(withoutKey, ", ")),
			Fix:     "Set STEELWOOL_LLM_PROVIDER_<NAME>_API_KEY or the vendor variable (e.g. OPENAI_API_KEY)",
		}
	}
	if len(withKey) == 0 {
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("no keys needed for: %s", strings.Join(keyless, ", ")),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("API keys configured for: %s", strings.Join(withKey, ", ")),
	}
}

// checkLLMConnectivity tests whether the default provider is reachable.
func checkLLMConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	provider, ok := cfg.Provider(cfg.LLM.DefaultProvider)
	if !ok {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("default provider %q not found in config", cfg.LLM.DefaultProvider),
		}
	}

	endpoint := providerEndpoint(provider)
	if endpoint == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("no known endpoint for provider type %q, skipping connectivity test", provider.Type),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("failed to create request: %v", err),
		}
	}

	resp, err := doctorClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		fix := "Check your internet connection and firewall settings"
		if provider.Type == "ollama" {
			fix = "Start the Ollama server with 'ollama serve'"
		}
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     fix,
		}
	}
	resp.Body.Close()

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", provider.Name, latency.Milliseconds()),
	}
}

// providerEndpoint returns a URL that answers GET for the given provider.
func providerEndpoint(p config.ProviderConfig) string {
	base := strings.TrimRight(p.BaseURL, "/")
	switch p.Type {
	case "openai", "":
		if base != "" {
			return base + "/models"
		}
		return "https://api.openai.com/v1/models"
	case "anthropic":
		if base != "" {
			return base
		}
		return "https://api.anthropic.com/"
	case "openrouter":
		if base != "" {
			return base + "/models"
		}
		return "https://openrouter.ai/api/v1/models"
	case "ollama":
		if base == "" {
			base = "http://localhost:11434"
		}
		return base + "/api/tags"
	default:
		return base
	}
}

// checkTranscriptStore opens the transcript database and pings it.
func checkTranscriptStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if !cfg.Transcript.Enabled {
		return CheckResult{
			Status:  StatusPass,
			Message: "transcripts disabled, conversations are not saved",
		}
	}

	path, _ := filepath.Abs(cfg.Transcript.Path)
	store, err := transcript.NewSQLiteStore(path)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s: %v", path, err),
			Fix:     fmt.Sprintf("Check permissions on %s or set transcript.path", filepath.Dir(path)),
		}
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("database %s not usable: %v", path, err),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("database %s ready", path),
	}
}

// checkMCPServers verifies stdio MCP commands can be found on PATH.
func checkMCPServers(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "cannot check, config not loaded"}
	}
	servers := cfg.Tools.MCPServers
	if len(servers) == 0 {
		return CheckResult{
			Status:  StatusPass,
			Message: "no MCP servers configured",
		}
	}

	var missing []string
	for _, srv := range servers {
		if srv.Transport != "stdio" {
			continue
		}
		if _, err := exec.LookPath(srv.Command); err != nil {
			missing = append(missing, fmt.Sprintf("%s (%s)", srv.Name, srv.Command))
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("commands not found: %s", strings.Join(missing, "; ")),
			Fix:     "Install the missing commands or remove the servers from tools.mcp_servers",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d server(s) configured", len(servers)),
	}
}
