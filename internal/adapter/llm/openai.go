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

// Compile-time interface assertions.
var _ domain.StreamingProvider = (*OpenAIProvider)(nil)

// OpenAIProvider talks to any OpenAI-compatible chat completions API.
type OpenAIProvider struct {
	name        string
	model       string
	apiKey      string
	baseURL     string
	temperature *float64
	client      *http.Client
	estimator   TokenEstimator
	logger      *slog.Logger
}

// NewOpenAIProvider creates a provider with configured timeouts.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	return newOpenAIProvider(cfg, "https://api.openai.com/v1", NewHTTPClient(cfg), logger)
}

func newOpenAIProvider(cfg config.ProviderConfig, defaultURL string, client *http.Client, logger *slog.Logger) *OpenAIProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultURL
	}
	return &OpenAIProvider{
		name:        cfg.Name,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		temperature: cfg.Temperature,
		client:      client,
		estimator:   NewTiktokenEstimator(cfg.Model, logger),
		logger:      logger,
	}
}

// WithEstimator replaces the token estimator used for streams without usage.
func (p *OpenAIProvider) WithEstimator(e TokenEstimator) *OpenAIProvider {
	p.estimator = e
	return p
}

// Name implements domain.NamedProvider.
func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) headers() map[string]string {
	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	return headers
}

// Prompt implements domain.ProviderAdapter.
func (p *OpenAIProvider) Prompt(ctx context.Context, req domain.PromptRequest) (*domain.PromptResponse, error) {
	ctx, span := startPromptSpan(ctx, "llm.prompt", p.name, p.model, req)
	defer span.End()

	body, err := json.Marshal(p.toOpenAIRequest(req, false))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/chat/completions", body, p.headers())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var oaiResp openaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result, err := fromOpenAIResponse(oaiResp)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	setUsageAttrs(span, result)
	tracer.SetOK(span)
	logPromptCompleted(p.logger, p.name, p.model, result)

	return result, nil
}

// PromptStream implements domain.StreamProviderAdapter. Tool calls arrive
// as whole calls, one per delta, once their argument fragments are complete.
func (p *OpenAIProvider) PromptStream(ctx context.Context, req domain.PromptRequest) iter.Seq2[domain.PromptResponseDelta, error] {
	return func(yield func(domain.PromptResponseDelta, error) bool) {
		ctx, span := startPromptSpan(ctx, "llm.stream", p.name, p.model, req)
		defer span.End()

		body, err := json.Marshal(p.toOpenAIRequest(req, true))
		if err != nil {
			tracer.RecordError(span, err)
			yield(domain.PromptResponseDelta{}, fmt.Errorf("marshal request: %w", err))
			return
		}

		httpResp, err := doStreamRequest(ctx, p.client, p.baseURL+"/chat/completions", "text/event-stream", body, p.headers())
		if err != nil {
			tracer.RecordError(span, err)
			yield(domain.PromptResponseDelta{}, err)
			return
		}

		var (
			calls     openaiCallAssembler
			generated strings.Builder
			usage     int
		)
		emitCalls := func(done []domain.ToolCall) bool {
			for _, c := range done {
				generated.WriteString(c.Name)
				generated.WriteString(c.ArgumentsJSON())
				if !yield(domain.PromptResponseDelta{ToolCall: &c}, nil) {
					return false
				}
			}
			return true
		}

		for data, err := range sseData(ctx, httpResp.Body) {
			if err != nil {
				tracer.RecordError(span, err)
				yield(domain.PromptResponseDelta{}, err)
				return
			}

			var chunk openaiStreamChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				err = fmt.Errorf("%w: decode stream chunk: %v", domain.ErrProviderError, err)
				tracer.RecordError(span, err)
				yield(domain.PromptResponseDelta{}, err)
				return
			}

			if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
				usage = chunk.Usage.TotalTokens
				if !yield(domain.PromptResponseDelta{CumulativeTokens: usage}, nil) {
					return
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			for _, frag := range choice.Delta.ToolCalls {
				if !emitCalls(calls.add(frag)) {
					return
				}
			}

			reason := domain.StopReasonNull
			if choice.FinishReason != nil {
				reason = mapOpenAIFinishReason(*choice.FinishReason, domain.StopReasonNull)
			}
			if reason == domain.StopReasonToolCalls && !emitCalls(calls.flush()) {
				return
			}
			if choice.Delta.Content == "" && reason.IsNull() {
				continue
			}
			generated.WriteString(choice.Delta.Content)
			if !yield(domain.PromptResponseDelta{Content: choice.Delta.Content, StopReason: reason}, nil) {
				return
			}
		}

		if !emitCalls(calls.flush()) {
			return
		}
		if usage == 0 {
			if est := p.estimator.Estimate(generated.String()); est > 0 {
				span.SetAttributes(tracer.BoolAttr("llm.usage_estimated", true))
				if !yield(domain.PromptResponseDelta{CumulativeTokens: est}, nil) {
					return
				}
			}
		}
		tracer.SetOK(span)
	}
}

// --- OpenAI API wire types ---

type openaiRequest struct {
	Model         string               `json:"model"`
	Messages      []openaiMessage      `json:"messages"`
	Tools         []openaiTool         `json:"tools,omitempty"`
	ToolChoice    string               `json:"tool_choice,omitempty"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openaiStreamOptions `json:"stream_options,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openaiToolCall struct {
	Index    *int                   `json:"index,omitempty"`
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Function openaiToolCallFunction `json:"function"`
}

type openaiToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (p *OpenAIProvider) toOpenAIRequest(req domain.PromptRequest, stream bool) openaiRequest {
	msgs := make([]openaiMessage, 0, len(req.Messages)+1)
	if req.SystemMessage != "" {
		msgs = append(msgs, openaiMessage{Role: "system", Content: req.SystemMessage})
	}
	for _, m := range req.Messages {
		role, content := chatRole(m)
		msgs = append(msgs, openaiMessage{Role: role, Content: content})
	}

	oaiReq := openaiRequest{
		Model:       p.model,
		Messages:    msgs,
		Temperature: p.temperature,
	}
	if req.MaxTokens > 0 {
		oaiReq.MaxTokens = req.MaxTokens
	}
	if stream {
		oaiReq.Stream = true
		oaiReq.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}

	if len(req.Tools) > 0 {
		oaiReq.Tools = make([]openaiTool, len(req.Tools))
		for i, t := range req.Tools {
			oaiReq.Tools[i] = openaiTool{
				Type: "function",
				Function: openaiToolFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.SchemaOrDefault(),
				},
			}
		}
		if domain.AnyRequired(req.Tools) {
			oaiReq.ToolChoice = "required"
		}
	}

	return oaiReq
}

func fromOpenAIResponse(resp openaiResponse) (*domain.PromptResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", domain.ErrProviderError)
	}

	choice := resp.Choices[0]
	result := &domain.PromptResponse{
		Message:    domain.ModelMessage(choice.Message.Content),
		StopReason: mapOpenAIFinishReason(choice.FinishReason, domain.StopReasonStop),
		TokenUsage: resp.Usage.TotalTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: domain.ParseToolArguments(tc.Function.Arguments),
		})
	}
	return result, nil
}

// mapOpenAIFinishReason converts a finish_reason. Unknown values pass through
// unchanged so the conversation layer can reject them.
func mapOpenAIFinishReason(reason string, missing domain.StopReason) domain.StopReason {
	switch reason {
	case "":
		return missing
	case "function_call":
		return domain.StopReasonToolCalls
	default:
		return domain.StopReason(reason)
	}
}

// --- OpenAI streaming wire types ---

type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Content   string           `json:"content,omitempty"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

// openaiCallAssembler buffers streamed tool-call fragments. A fragment that
// names a new call completes the one before it.
type openaiCallAssembler struct {
	pending *pendingCall
}

type pendingCall struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

func (a *openaiCallAssembler) add(frag openaiToolCall) []domain.ToolCall {
	index := -1
	if frag.Index != nil {
		index = *frag.Index
	}

	var done []domain.ToolCall
	if a.pending == nil || a.startsNew(frag, index) {
		done = a.flush()
		a.pending = &pendingCall{index: index}
	}

	if frag.ID != "" {
		a.pending.id = frag.ID
	}
	if frag.Function.Name != "" {
		a.pending.name = frag.Function.Name
	}
	a.pending.args.WriteString(frag.Function.Arguments)
	return done
}

func (a *openaiCallAssembler) startsNew(frag openaiToolCall, index int) bool {
	if frag.Index != nil {
		return index != a.pending.index
	}
	if frag.ID != "" && a.pending.id != "" && frag.ID != a.pending.id {
		return true
	}
	return frag.ID == "" && frag.Function.Name != "" && a.pending.name != ""
}

func (a *openaiCallAssembler) flush() []domain.ToolCall {
	if a.pending == nil {
		return nil
	}
	p := a.pending
	a.pending = nil
	return []domain.ToolCall{{
		ID:        p.id,
		Name:      p.name,
		Arguments: domain.ParseToolArguments(p.args.String()),
	}}
}
