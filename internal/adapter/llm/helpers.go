package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"steelwool/internal/domain"
	"steelwool/internal/infra/tracer"
)

// maxResponseBody is the maximum response body size we read from LLM APIs.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// toolResultsPrefix introduces replayed tool output on APIs that expect
// tool results to reference a call id the message model does not carry.
const toolResultsPrefix = "Tool results:\n"

// doJSONRequest performs a JSON POST request and returns the response body.
// Non-200 responses are mapped to domain errors.
func doJSONRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	return readResponse(client, httpReq)
}

// doGetRequest performs a GET request and returns the response body.
func doGetRequest(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	return readResponse(client, httpReq)
}

func readResponse(client *http.Client, httpReq *http.Request) ([]byte, error) {
	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}
	return respBody, nil
}

// doStreamRequest performs a JSON POST request for a streamed response.
// It returns the open *http.Response (caller must close Body).
func doStreamRequest(ctx context.Context, client *http.Client, url, accept string, body []byte, headers map[string]string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}

	return httpResp, nil
}

// startPromptSpan opens the span every adapter wraps a round trip in.
func startPromptSpan(ctx context.Context, name, provider, model string, req domain.PromptRequest) (context.Context, trace.Span) {
	return tracer.StartSpan(ctx, name,
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", provider),
			tracer.StringAttr("llm.model", model),
			tracer.IntAttr("llm.messages", len(req.Messages)),
			tracer.IntAttr("llm.tools", len(req.Tools)),
			tracer.IntAttr("llm.max_tokens", req.MaxTokens),
		),
	)
}

// logPromptCompleted logs the standard debug message after a successful round trip.
func logPromptCompleted(logger *slog.Logger, providerName, model string, resp *domain.PromptResponse) {
	logger.Debug("llm prompt completed",
		"provider", providerName,
		"model", model,
		"stop_reason", resp.StopReason.String(),
		"tool_calls", len(resp.ToolCalls),
		"tokens", resp.TokenUsage,
	)
}

// setUsageAttrs adds the outcome of a round trip to a trace span.
func setUsageAttrs(span trace.Span, resp *domain.PromptResponse) {
	span.SetAttributes(
		tracer.IntAttr("llm.total_tokens", resp.TokenUsage),
		tracer.StringAttr("llm.stop_reason", resp.StopReason.String()),
	)
}

// mapHTTPError maps an HTTP status code + response body to a domain error so
// that the circuit breaker and failover can classify provider failures.
func mapHTTPError(statusCode int, body []byte) error {
	detail := fmt.Sprintf("API error %d: %s", statusCode, strings.TrimSpace(string(body)))

	switch {
	case statusCode == http.StatusTooManyRequests: // 429
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden: // 401, 403
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case statusCode == http.StatusRequestEntityTooLarge: // 413
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, detail)
	default:
		return fmt.Errorf("%w: %s", domain.ErrProviderError, detail)
	}
}

// chatRole maps a message role onto the user/assistant vocabulary of chat
// APIs. Tool and function output has no call id to reference, so it is
// replayed as user text under toolResultsPrefix.
func chatRole(m domain.Message) (role, content string) {
	switch m.Role {
	case domain.RoleModel:
		return "assistant", m.Content
	case domain.RoleSystem:
		return "system", m.Content
	case domain.RoleTool, domain.RoleFunction:
		return "user", toolResultsPrefix + m.Content
	default:
		return "user", m.Content
	}
}

// blockTurn maps m like chatRole for APIs built from content blocks, which
// reject blank text blocks. A model reply that only called tools carries no
// text and is dropped; ok is false for it and for system messages.
func blockTurn(m domain.Message) (role, content string, ok bool) {
	if m.Role == domain.RoleSystem {
		return "", "", false
	}
	role, content = chatRole(m)
	if strings.TrimSpace(content) == "" {
		return "", "", false
	}
	return role, content, true
}

// systemPrompt joins the request's system message with any system-role
// messages in the history, for APIs that take the system prompt separately.
func systemPrompt(req domain.PromptRequest) string {
	parts := make([]string, 0, 2)
	if req.SystemMessage != "" {
		parts = append(parts, req.SystemMessage)
	}
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem && m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
