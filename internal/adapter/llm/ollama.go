package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"steelwool/internal/domain"
	"steelwool/internal/infra/config"
	"steelwool/internal/infra/tracer"
)

var _ domain.StreamingProvider = (*OllamaProvider)(nil)

// Default Ollama timeouts: short connect (local), long response (model loading).
const (
	ollamaDefaultConnTimeout = 5 * time.Second
	ollamaDefaultRespTimeout = 300 * time.Second
)

// OllamaProvider talks to the native Ollama API. Prompts are rendered to a
// single raw text prompt and sent to /api/generate.
type OllamaProvider struct {
	name        string
	model       string
	baseURL     string
	keepAlive   string
	temperature *float64
	client      *http.Client
	logger      *slog.Logger
}

// OllamaModel describes a locally available Ollama model.
type OllamaModel struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// NewOllamaProvider creates an Ollama provider.
func NewOllamaProvider(cfg config.ProviderConfig, logger *slog.Logger) *OllamaProvider {
	ollamaCfg := cfg
	if ollamaCfg.ConnTimeout == 0 {
		ollamaCfg.ConnTimeout = ollamaDefaultConnTimeout
	}
	if ollamaCfg.RespTimeout == 0 {
		ollamaCfg.RespTimeout = ollamaDefaultRespTimeout
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return &OllamaProvider{
		name:        cfg.Name,
		model:       cfg.Model,
		baseURL:     baseURL,
		keepAlive:   cfg.KeepAlive,
		temperature: cfg.Temperature,
		client:      NewHTTPClient(ollamaCfg),
		logger:      logger,
	}
}

// Name implements domain.NamedProvider.
func (p *OllamaProvider) Name() string { return p.name }

// Prompt implements domain.ProviderAdapter.
func (p *OllamaProvider) Prompt(ctx context.Context, req domain.PromptRequest) (*domain.PromptResponse, error) {
	ctx, span := startPromptSpan(ctx, "llm.prompt", p.name, p.model, req)
	defer span.End()

	body, err := json.Marshal(p.toGenerateRequest(req, false))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/api/generate", body, nil)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var genResp ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := &domain.PromptResponse{
		Message:    domain.ModelMessage(genResp.Response),
		StopReason: mapOllamaDoneReason(genResp.DoneReason),
		TokenUsage: genResp.PromptEvalCount + genResp.EvalCount,
	}
	setUsageAttrs(span, result)
	tracer.SetOK(span)
	logPromptCompleted(p.logger, p.name, p.model, result)

	return result, nil
}

// PromptStream implements domain.StreamProviderAdapter over Ollama's NDJSON stream.
func (p *OllamaProvider) PromptStream(ctx context.Context, req domain.PromptRequest) iter.Seq2[domain.PromptResponseDelta, error] {
	return func(yield func(domain.PromptResponseDelta, error) bool) {
		ctx, span := startPromptSpan(ctx, "llm.stream", p.name, p.model, req)
		defer span.End()

		body, err := json.Marshal(p.toGenerateRequest(req, true))
		if err != nil {
			tracer.RecordError(span, err)
			yield(domain.PromptResponseDelta{}, fmt.Errorf("marshal request: %w", err))
			return
		}

		httpResp, err := doStreamRequest(ctx, p.client, p.baseURL+"/api/generate", "application/x-ndjson", body, nil)
		if err != nil {
			tracer.RecordError(span, err)
			yield(domain.PromptResponseDelta{}, err)
			return
		}

		for line, err := range ndjsonLines(ctx, httpResp.Body) {
			if err != nil {
				tracer.RecordError(span, err)
				yield(domain.PromptResponseDelta{}, err)
				return
			}

			var chunk ollamaGenerateResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				err = fmt.Errorf("%w: decode stream line: %v", domain.ErrProviderError, err)
				tracer.RecordError(span, err)
				yield(domain.PromptResponseDelta{}, err)
				return
			}
			if chunk.Error != "" {
				err := fmt.Errorf("%w: %s", domain.ErrProviderError, chunk.Error)
				tracer.RecordError(span, err)
				yield(domain.PromptResponseDelta{}, err)
				return
			}

			delta := domain.PromptResponseDelta{Content: chunk.Response}
			if chunk.Done {
				delta.StopReason = mapOllamaDoneReason(chunk.DoneReason)
				delta.CumulativeTokens = chunk.PromptEvalCount + chunk.EvalCount
			}
			if delta.Content == "" && !chunk.Done {
				continue
			}
			if !yield(delta, nil) {
				return
			}
			if chunk.Done {
				break
			}
		}
		tracer.SetOK(span)
	}
}

// ListModels returns the locally available Ollama models.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]OllamaModel, error) {
	body, err := doGetRequest(ctx, p.client, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Models []OllamaModel `json:"models"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return resp.Models, nil
}

// IsHealthy checks if the Ollama server is reachable.
func (p *OllamaProvider) IsHealthy(ctx context.Context) bool {
	_, err := doGetRequest(ctx, p.client, p.baseURL+"/", nil)
	return err == nil
}

// Warmup asks Ollama to load the configured model without generating, so
// the first real prompt does not pay the model load latency.
func (p *OllamaProvider) Warmup(ctx context.Context) error {
	if !p.IsHealthy(ctx) {
		return fmt.Errorf("%w: ollama server not reachable at %s", domain.ErrProviderUnavailable, p.baseURL)
	}

	p.logger.Info("warming up Ollama model", "model", p.model, "base_url", p.baseURL)

	body, err := json.Marshal(ollamaGenerateRequest{Model: p.model, KeepAlive: p.keepAliveOrDefault()})
	if err != nil {
		return fmt.Errorf("marshal warmup request: %w", err)
	}
	if _, err := doJSONRequest(ctx, p.client, p.baseURL+"/api/generate", body, nil); err != nil {
		return fmt.Errorf("warmup failed: %w", err)
	}

	p.logger.Info("Ollama model warmed up", "model", p.model)
	return nil
}

func (p *OllamaProvider) keepAliveOrDefault() string {
	if p.keepAlive != "" {
		return p.keepAlive
	}
	return "5m"
}

// --- Ollama API wire types ---

type ollamaGenerateRequest struct {
	Model     string         `json:"model"`
	Prompt    string         `json:"prompt,omitempty"`
	Raw       bool           `json:"raw,omitempty"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

func (p *OllamaProvider) toGenerateRequest(req domain.PromptRequest, stream bool) ollamaGenerateRequest {
	genReq := ollamaGenerateRequest{
		Model:     p.model,
		Prompt:    FormatOllamaPrompt(req),
		Raw:       true,
		Stream:    stream,
		KeepAlive: p.keepAlive,
	}
	if req.MaxTokens > 0 || p.temperature != nil {
		genReq.Options = &ollamaOptions{NumPredict: req.MaxTokens, Temperature: p.temperature}
	}
	return genReq
}

// FormatOllamaPrompt renders a request as the raw role-tagged prompt sent
// to /api/generate, ending with an open assistant turn.
func FormatOllamaPrompt(req domain.PromptRequest) string {
	var b strings.Builder

	if req.SystemMessage != "" {
		b.WriteString("system\n")
		b.WriteString(req.SystemMessage)
		b.WriteString("\n\n")
	}

	if len(req.Tools) > 0 {
		b.WriteString("Available tools:\n")
		for _, t := range req.Tools {
			b.WriteString("Tool name: " + t.Name + "\n")
			b.WriteString("Description: " + t.Description + "\n")
			b.WriteString("Parameters: " + prettySchema(t.SchemaOrDefault()) + "\n")
			b.WriteString("Required: " + strconv.FormatBool(t.Required) + "\n\n")
		}
	}

	for _, m := range req.Messages {
		b.WriteString(ollamaRole(m.Role))
		b.WriteString("\n")
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}

	b.WriteString("assistant\n")
	return b.String()
}

func ollamaRole(r domain.Role) string {
	switch r {
	case domain.RoleModel:
		return "assistant"
	case domain.RoleFunction, domain.RoleTool:
		return "function"
	default:
		return string(r)
	}
}

func prettySchema(schema json.RawMessage) string {
	var v any
	if err := json.Unmarshal(schema, &v); err != nil {
		return string(schema)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(schema)
	}
	return string(out)
}

func mapOllamaDoneReason(reason string) domain.StopReason {
	if reason == "length" {
		return domain.StopReasonLength
	}
	return domain.StopReasonStop
}
