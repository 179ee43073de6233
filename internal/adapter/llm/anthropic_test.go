package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steelwool/internal/domain"
	"steelwool/internal/infra/config"
	"steelwool/internal/usecase"
)

func newTestAnthropic(url string) *AnthropicProvider {
	return NewAnthropicProvider(config.ProviderConfig{
		Name:    "anthropic",
		BaseURL: url,
		APIKey:  "ant-key",
		Model:   "claude-sonnet-4-5",
	}, newTestLogger())
}

func TestAnthropicProviderPrompt(t *testing.T) {
	var got anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ant-key", r.Header.Get("x-api-key"))
		assert.Equal(t, defaultAnthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Write([]byte(`{
			"id": "msg_1",
			"role": "assistant",
			"content": [{"type": "text", "text": "Bonjour"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 20, "output_tokens": 5}
		}`))
	}))
	defer server.Close()

	resp, err := newTestAnthropic(server.URL).Prompt(context.Background(), domain.PromptRequest{
		SystemMessage: "Answer in French.",
		Messages: []domain.Message{
			domain.UserMessage("weather?"),
			domain.ToolMessage("sunny"),
			domain.ModelMessage("It is sunny."),
			domain.UserMessage("thanks"),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ModelMessage("Bonjour"), resp.Message)
	assert.Equal(t, domain.StopReasonStop, resp.StopReason)
	assert.Equal(t, 25, resp.TokenUsage)

	assert.Equal(t, "claude-sonnet-4-5", got.Model)
	assert.Equal(t, "Answer in French.", got.System)
	assert.Equal(t, defaultAnthropicMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, []anthropicContent{
		{Type: "text", Text: "weather?"},
		{Type: "text", Text: "Tool results:\nsunny"},
	}, got.Messages[0].Content)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	assert.Equal(t, "user", got.Messages[2].Role)
	assert.Nil(t, got.ToolChoice)
}

func TestAnthropicProviderPromptToolUse(t *testing.T) {
	var got anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{
			"content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "Paris"}},
				{"type": "tool_use", "id": "toolu_2", "name": "clock", "input": {}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 30, "output_tokens": 12}
		}`))
	}))
	defer server.Close()

	req := userPrompt("weather and time?")
	req.Tools = []domain.Tool{
		{Name: "get_weather", Description: "Weather", Schema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`)},
		{Name: "clock", Description: "Time", Required: true},
	}
	resp, err := newTestAnthropic(server.URL).Prompt(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.StopReasonToolCalls, resp.StopReason)
	assert.Equal(t, "Let me check.", resp.Message.Content)
	assert.Equal(t, []domain.ToolCall{
		{ID: "toolu_1", Name: "get_weather", Arguments: map[string]any{"city": "Paris"}},
		{ID: "toolu_2", Name: "clock", Arguments: map[string]any{}},
	}, resp.ToolCalls)

	assert.Equal(t, 256, got.MaxTokens)
	require.Len(t, got.Tools, 2)
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(got.Tools[1].InputSchema))
	require.NotNil(t, got.ToolChoice)
	assert.Equal(t, "any", got.ToolChoice.Type)
}

func TestAnthropicProviderToolRoundTrip(t *testing.T) {
	var requests []anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests = append(requests, req)

		for _, m := range req.Messages {
			for _, b := range m.Content {
				if b.Type == "text" && b.Text == "" {
					w.WriteHeader(http.StatusBadRequest)
					w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"messages: text content blocks must be non-empty"}}`))
					return
				}
			}
		}

		if len(requests) == 1 {
			w.Write([]byte(`{
				"content": [{"type": "tool_use", "id": "toolu_1", "name": "clock", "input": {}}],
				"stop_reason": "tool_use",
				"usage": {"input_tokens": 10, "output_tokens": 4}
			}`))
			return
		}
		w.Write([]byte(`{
			"content": [{"type": "text", "text": "It is noon."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 20, "output_tokens": 4}
		}`))
	}))
	defer server.Close()

	conv := &usecase.Conversation{
		Provider: newTestAnthropic(server.URL),
		Resolver: domain.ToolResolverFunc(func(context.Context, domain.ToolCall) (string, error) {
			return "12:00", nil
		}),
		Tools:     []domain.Tool{{Name: "clock", Description: "Time"}},
		MaxTokens: 1000,
		MaxDepth:  3,
	}
	h, err := conv.Turn(context.Background(), usecase.NewHistory(), "what time is it?", nil)
	require.NoError(t, err)

	assert.Equal(t, []domain.Message{
		domain.UserMessage("what time is it?"),
		domain.ModelMessage(""),
		domain.ToolMessage("12:00\n"),
		domain.ModelMessage("It is noon."),
	}, h.Messages())

	require.Len(t, requests, 2)
	require.Len(t, requests[1].Messages, 1)
	assert.Equal(t, "user", requests[1].Messages[0].Role)
	assert.Equal(t, []anthropicContent{
		{Type: "text", Text: "what time is it?"},
		{Type: "text", Text: "Tool results:\n12:00\n"},
	}, requests[1].Messages[0].Content)
}

func TestMapAnthropicStopReason(t *testing.T) {
	tests := map[string]domain.StopReason{
		"end_turn":      domain.StopReasonStop,
		"stop_sequence": domain.StopReasonStop,
		"max_tokens":    domain.StopReasonLength,
		"tool_use":      domain.StopReasonToolCalls,
		"refusal":       domain.StopReasonContentFilter,
		"pause_turn":    domain.StopReason("pause_turn"),
	}
	for in, want := range tests {
		assert.Equal(t, want, mapAnthropicStopReason(in, domain.StopReasonStop), in)
	}
	assert.Equal(t, domain.StopReasonNull, mapAnthropicStopReason("", domain.StopReasonNull))
}

func TestAnthropicProviderStream(t *testing.T) {
	body := "event: message_start\n" +
		`data: {"type":"message_start","message":{"id":"msg_1","usage":{"input_tokens":12,"output_tokens":1}}}` + "\n\n" +
		"event: content_block_start\n" +
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}` + "\n\n" +
		"event: ping\n" +
		`data: {"type":"ping"}` + "\n\n" +
		"event: content_block_delta\n" +
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Checking"}}` + "\n\n" +
		`data: {"type":"content_block_stop","index":0}` + "\n\n" +
		`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"clock","input":{}}}` + "\n\n" +
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"zone\":"}}` + "\n\n" +
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"UTC\"}"}}` + "\n\n" +
		`data: {"type":"content_block_stop","index":1}` + "\n\n" +
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":20}}` + "\n\n" +
		`data: {"type":"message_stop"}` + "\n\n"

	var got anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	out, err := collect(newTestAnthropic(server.URL).PromptStream(context.Background(), userPrompt("time?")))
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "Checking", out[0].Content)
	require.NotNil(t, out[1].ToolCall)
	assert.Equal(t, domain.ToolCall{ID: "toolu_1", Name: "clock", Arguments: map[string]any{"zone": "UTC"}}, *out[1].ToolCall)
	assert.Equal(t, domain.PromptResponseDelta{StopReason: domain.StopReasonToolCalls, CumulativeTokens: 32}, out[2])
	assert.True(t, got.Stream)
}

func TestAnthropicProviderStreamErrorEvent(t *testing.T) {
	server := sseServer(t, nil,
		`{"type":"message_start","message":{"usage":{"input_tokens":1}}}`,
		`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
	)

	out, err := collect(newTestAnthropic(server.URL).PromptStream(context.Background(), userPrompt("hi")))
	assert.Empty(t, out)
	require.ErrorIs(t, err, domain.ErrProviderError)
	assert.Contains(t, err.Error(), "Overloaded")
}

func TestAnthropicProviderAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","error":{"type":"authentication_error"}}`))
	}))
	defer server.Close()

	_, err := newTestAnthropic(server.URL).Prompt(context.Background(), userPrompt("hi"))
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
}
