package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"steelwool/internal/domain"
	"steelwool/internal/infra/config"
	"steelwool/internal/infra/tracer"
)

const (
	defaultAnthropicVersion   = "2023-06-01"
	defaultAnthropicMaxTokens = 4096
)

var _ domain.StreamingProvider = (*AnthropicProvider)(nil)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	name        string
	model       string
	apiKey      string
	baseURL     string
	temperature *float64
	client      *http.Client
	logger      *slog.Logger
	version     string
}

// NewAnthropicProvider creates a provider for the Anthropic Messages API.
func NewAnthropicProvider(cfg config.ProviderConfig, logger *slog.Logger) *AnthropicProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	return &AnthropicProvider{
		name:        cfg.Name,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		temperature: cfg.Temperature,
		client:      NewHTTPClient(cfg),
		logger:      logger,
		version:     defaultAnthropicVersion,
	}
}

// Name implements domain.NamedProvider.
func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": p.version,
	}
}

// Prompt implements domain.ProviderAdapter.
func (p *AnthropicProvider) Prompt(ctx context.Context, req domain.PromptRequest) (*domain.PromptResponse, error) {
	ctx, span := startPromptSpan(ctx, "llm.prompt", p.name, p.model, req)
	defer span.End()

	body, err := json.Marshal(p.toAnthropicRequest(req, false))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/v1/messages", body, p.headers())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var antResp anthropicResponse
	if err := json.Unmarshal(respBody, &antResp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := fromAnthropicResponse(antResp)
	setUsageAttrs(span, result)
	tracer.SetOK(span)
	logPromptCompleted(p.logger, p.name, p.model, result)

	return result, nil
}

// PromptStream implements domain.StreamProviderAdapter. A tool_use block is
// emitted as one tool call when its content_block_stop arrives.
func (p *AnthropicProvider) PromptStream(ctx context.Context, req domain.PromptRequest) iter.Seq2[domain.PromptResponseDelta, error] {
	return func(yield func(domain.PromptResponseDelta, error) bool) {
		ctx, span := startPromptSpan(ctx, "llm.stream", p.name, p.model, req)
		defer span.End()

		body, err := json.Marshal(p.toAnthropicRequest(req, true))
		if err != nil {
			tracer.RecordError(span, err)
			yield(domain.PromptResponseDelta{}, fmt.Errorf("marshal request: %w", err))
			return
		}

		httpResp, err := doStreamRequest(ctx, p.client, p.baseURL+"/v1/messages", "text/event-stream", body, p.headers())
		if err != nil {
			tracer.RecordError(span, err)
			yield(domain.PromptResponseDelta{}, err)
			return
		}

		var (
			inputTokens int
			pending     *pendingCall
		)
		for data, err := range sseData(ctx, httpResp.Body) {
			if err != nil {
				tracer.RecordError(span, err)
				yield(domain.PromptResponseDelta{}, err)
				return
			}

			var evt anthropicStreamEvent
			if err := json.Unmarshal(data, &evt); err != nil {
				err = fmt.Errorf("%w: decode stream event: %v", domain.ErrProviderError, err)
				tracer.RecordError(span, err)
				yield(domain.PromptResponseDelta{}, err)
				return
			}

			var delta domain.PromptResponseDelta
			switch evt.Type {
			case "message_start":
				if evt.Message != nil {
					inputTokens = evt.Message.Usage.InputTokens
				}
				continue

			case "content_block_start":
				if evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
					pending = &pendingCall{id: evt.ContentBlock.ID, name: evt.ContentBlock.Name}
				}
				continue

			case "content_block_delta":
				var d anthropicBlockDelta
				if err := json.Unmarshal(evt.Delta, &d); err != nil {
					continue
				}
				switch d.Type {
				case "text_delta":
					delta.Content = d.Text
				case "input_json_delta":
					if pending != nil {
						pending.args.WriteString(d.PartialJSON)
					}
					continue
				default:
					continue
				}

			case "content_block_stop":
				if pending == nil {
					continue
				}
				call := domain.ToolCall{
					ID:        pending.id,
					Name:      pending.name,
					Arguments: domain.ParseToolArguments(pending.args.String()),
				}
				pending = nil
				delta.ToolCall = &call

			case "message_delta":
				var d anthropicMessageDelta
				if len(evt.Delta) > 0 {
					_ = json.Unmarshal(evt.Delta, &d)
				}
				delta.StopReason = mapAnthropicStopReason(d.StopReason, domain.StopReasonNull)
				if evt.Usage != nil {
					delta.CumulativeTokens = inputTokens + evt.Usage.OutputTokens
				}

			case "error":
				msg := "stream error"
				if evt.Error != nil {
					msg = evt.Error.Type + ": " + evt.Error.Message
				}
				err := fmt.Errorf("%w: %s", domain.ErrProviderError, msg)
				tracer.RecordError(span, err)
				yield(domain.PromptResponseDelta{}, err)
				return

			case "message_stop":
				tracer.SetOK(span)
				return

			default:
				continue
			}

			if !yield(delta, nil) {
				return
			}
		}
		tracer.SetOK(span)
	}
}

// --- Anthropic API wire types ---

type anthropicRequest struct {
	Model       string               `json:"model"`
	Messages    []anthropicMessage   `json:"messages"`
	System      string               `json:"system,omitempty"`
	MaxTokens   int                  `json:"max_tokens"`
	Temperature *float64             `json:"temperature,omitempty"`
	Tools       []anthropicTool      `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- Anthropic streaming wire types ---

type anthropicStreamEvent struct {
	Type         string             `json:"type"`
	Message      *anthropicResponse `json:"message,omitempty"`
	ContentBlock *anthropicContent  `json:"content_block,omitempty"`
	Delta        json.RawMessage    `json:"delta,omitempty"`
	Usage        *anthropicUsage    `json:"usage,omitempty"`
	Error        *anthropicError    `json:"error,omitempty"`
}

type anthropicBlockDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	PartialJSON string `json:"partial_json"`
}

type anthropicMessageDelta struct {
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (p *AnthropicProvider) toAnthropicRequest(req domain.PromptRequest, stream bool) anthropicRequest {
	antReq := anthropicRequest{
		Model:       p.model,
		System:      systemPrompt(req),
		MaxTokens:   req.MaxTokens,
		Temperature: p.temperature,
		Stream:      stream,
	}
	if antReq.MaxTokens <= 0 {
		antReq.MaxTokens = defaultAnthropicMaxTokens
	}

	for _, m := range req.Messages {
		role, content, ok := blockTurn(m)
		if !ok {
			continue
		}
		block := anthropicContent{Type: "text", Text: content}

		// The API rejects consecutive turns from the same role.
		if n := len(antReq.Messages); n > 0 && antReq.Messages[n-1].Role == role {
			antReq.Messages[n-1].Content = append(antReq.Messages[n-1].Content, block)
			continue
		}
		antReq.Messages = append(antReq.Messages, anthropicMessage{Role: role, Content: []anthropicContent{block}})
	}

	for _, t := range req.Tools {
		antReq.Tools = append(antReq.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.SchemaOrDefault(),
		})
	}
	if domain.AnyRequired(req.Tools) {
		antReq.ToolChoice = &anthropicToolChoice{Type: "any"}
	}

	return antReq
}

func fromAnthropicResponse(resp anthropicResponse) *domain.PromptResponse {
	result := &domain.PromptResponse{
		StopReason: mapAnthropicStopReason(resp.StopReason, domain.StopReasonStop),
		TokenUsage: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				args = domain.ParseToolArguments(string(block.Input))
			}
			result.ToolCalls = append(result.ToolCalls, domain.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	result.Message = domain.ModelMessage(text.String())
	return result
}

func mapAnthropicStopReason(reason string, missing domain.StopReason) domain.StopReason {
	switch reason {
	case "":
		return missing
	case "end_turn", "stop_sequence":
		return domain.StopReasonStop
	case "max_tokens":
		return domain.StopReasonLength
	case "tool_use":
		return domain.StopReasonToolCalls
	case "refusal":
		return domain.StopReasonContentFilter
	default:
		return domain.StopReason(reason)
	}
}
