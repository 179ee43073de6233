//go:build bedrock

package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steelwool/internal/domain"
	"steelwool/internal/usecase"
)

type mockBedrockClient struct {
	converseFunc func(ctx context.Context, params *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error)
}

func (m *mockBedrockClient) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	if m.converseFunc != nil {
		return m.converseFunc(ctx, params)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockBedrockClient) ConverseStream(context.Context, *bedrockruntime.ConverseStreamInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, &mockAPIError{code: "ThrottlingException"}
}

type mockAPIError struct{ code string }

func (e *mockAPIError) Error() string                 { return e.code + ": simulated" }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return "simulated" }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

func TestBedrockPrompt(t *testing.T) {
	var received *bedrockruntime.ConverseInput
	mock := &mockBedrockClient{
		converseFunc: func(_ context.Context, params *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
			received = params
			return &bedrockruntime.ConverseOutput{
				Output: &types.ConverseOutputMemberMessage{
					Value: types.Message{
						Role: types.ConversationRoleAssistant,
						Content: []types.ContentBlock{
							&types.ContentBlockMemberText{Value: "Hello from Bedrock!"},
						},
					},
				},
				StopReason: types.StopReasonEndTurn,
				Usage: &types.TokenUsage{
					InputTokens:  aws.Int32(10),
					OutputTokens: aws.Int32(5),
				},
			}, nil
		},
	}

	p := newBedrockProviderWithClient("bedrock", "anthropic.claude-3-5-sonnet", mock, newTestLogger())
	resp, err := p.Prompt(context.Background(), domain.PromptRequest{
		SystemMessage: "You are helpful.",
		Messages: []domain.Message{
			domain.UserMessage("Hello"),
			domain.ToolMessage("42"),
			domain.ModelMessage("The answer is 42."),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ModelMessage("Hello from Bedrock!"), resp.Message)
	assert.Equal(t, domain.StopReasonStop, resp.StopReason)
	assert.Equal(t, 15, resp.TokenUsage)

	require.NotNil(t, received)
	assert.Equal(t, "anthropic.claude-3-5-sonnet", aws.ToString(received.ModelId))
	assert.Equal(t, int32(defaultAnthropicMaxTokens), aws.ToInt32(received.InferenceConfig.MaxTokens))
	require.Len(t, received.System, 1)
	assert.Equal(t, "You are helpful.", received.System[0].(*types.SystemContentBlockMemberText).Value)

	require.Len(t, received.Messages, 2)
	assert.Equal(t, types.ConversationRoleUser, received.Messages[0].Role)
	require.Len(t, received.Messages[0].Content, 2)
	assert.Equal(t, "Tool results:\n42", received.Messages[0].Content[1].(*types.ContentBlockMemberText).Value)
	assert.Equal(t, types.ConversationRoleAssistant, received.Messages[1].Role)
}

func TestBedrockPromptToolUse(t *testing.T) {
	var received *bedrockruntime.ConverseInput
	mock := &mockBedrockClient{
		converseFunc: func(_ context.Context, params *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
			received = params
			return &bedrockruntime.ConverseOutput{
				Output: &types.ConverseOutputMemberMessage{
					Value: types.Message{
						Role: types.ConversationRoleAssistant,
						Content: []types.ContentBlock{
							&types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
								ToolUseId: aws.String("tool_1"),
								Name:      aws.String("get_weather"),
								Input:     document.NewLazyDocument(map[string]any{"city": "Paris"}),
							}},
						},
					},
				},
				StopReason: types.StopReasonToolUse,
			}, nil
		},
	}

	req := userPrompt("weather?")
	req.Tools = []domain.Tool{{Name: "get_weather", Description: "Weather", Required: true}}

	p := newBedrockProviderWithClient("bedrock", "model", mock, newTestLogger())
	resp, err := p.Prompt(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.StopReasonToolCalls, resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "tool_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "Paris", resp.ToolCalls[0].Arguments["city"])

	require.NotNil(t, received.ToolConfig)
	assert.Len(t, received.ToolConfig.Tools, 1)
	assert.IsType(t, &types.ToolChoiceMemberAny{}, received.ToolConfig.ToolChoice)
	assert.Equal(t, int32(256), aws.ToInt32(received.InferenceConfig.MaxTokens))
}

func TestBedrockToolRoundTrip(t *testing.T) {
	var inputs []*bedrockruntime.ConverseInput
	mock := &mockBedrockClient{
		converseFunc: func(_ context.Context, params *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
			inputs = append(inputs, params)
			for _, m := range params.Messages {
				for _, b := range m.Content {
					if text, ok := b.(*types.ContentBlockMemberText); ok && text.Value == "" {
						return nil, &mockAPIError{code: "ValidationException"}
					}
				}
			}

			block := types.ContentBlock(&types.ContentBlockMemberText{Value: "It is noon."})
			stop := types.StopReasonEndTurn
			if len(inputs) == 1 {
				block = &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String("tool_1"),
					Name:      aws.String("clock"),
					Input:     document.NewLazyDocument(map[string]any{}),
				}}
				stop = types.StopReasonToolUse
			}
			return &bedrockruntime.ConverseOutput{
				Output: &types.ConverseOutputMemberMessage{Value: types.Message{
					Role:    types.ConversationRoleAssistant,
					Content: []types.ContentBlock{block},
				}},
				StopReason: stop,
				Usage:      &types.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(4)},
			}, nil
		},
	}

	conv := &usecase.Conversation{
		Provider: newBedrockProviderWithClient("bedrock", "model", mock, newTestLogger()),
		Resolver: domain.ToolResolverFunc(func(context.Context, domain.ToolCall) (string, error) {
			return "12:00", nil
		}),
		Tools:     []domain.Tool{{Name: "clock", Description: "Time"}},
		MaxTokens: 1000,
		MaxDepth:  3,
	}
	h, err := conv.Turn(context.Background(), usecase.NewHistory(), "what time is it?", nil)
	require.NoError(t, err)
	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, domain.ModelMessage("It is noon."), last)

	require.Len(t, inputs, 2)
	require.Len(t, inputs[1].Messages, 1)
	assert.Equal(t, types.ConversationRoleUser, inputs[1].Messages[0].Role)
	require.Len(t, inputs[1].Messages[0].Content, 2)
	assert.Equal(t, "Tool results:\n12:00\n", inputs[1].Messages[0].Content[1].(*types.ContentBlockMemberText).Value)
}

func TestBedrockErrorMapping(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"ThrottlingException", domain.ErrRateLimit},
		{"AccessDeniedException", domain.ErrAuthInvalid},
		{"ServiceUnavailableException", domain.ErrProviderUnavailable},
		{"InternalServerException", domain.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			mock := &mockBedrockClient{
				converseFunc: func(context.Context, *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
					return nil, &mockAPIError{code: tt.code}
				},
			}
			_, err := newBedrockProviderWithClient("b", "m", mock, newTestLogger()).Prompt(context.Background(), userPrompt("hi"))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	plain := errors.New("dial tcp: timeout")
	assert.ErrorIs(t, mapBedrockError(plain), plain)
	assert.Nil(t, mapBedrockError(nil))
}

func TestBedrockStreamConnectError(t *testing.T) {
	p := newBedrockProviderWithClient("b", "m", &mockBedrockClient{}, newTestLogger())
	_, err := collect(p.PromptStream(context.Background(), userPrompt("hi")))
	assert.ErrorIs(t, err, domain.ErrRateLimit)
}

func TestBedrockStreamAssembler(t *testing.T) {
	var asm bedrockStreamAssembler
	events := []types.ConverseStreamOutput{
		&types.ConverseStreamOutputMemberMessageStart{Value: types.MessageStartEvent{Role: types.ConversationRoleAssistant}},
		&types.ConverseStreamOutputMemberContentBlockDelta{Value: types.ContentBlockDeltaEvent{
			Delta: &types.ContentBlockDeltaMemberText{Value: "Checking"},
		}},
		&types.ConverseStreamOutputMemberContentBlockStop{Value: types.ContentBlockStopEvent{}},
		&types.ConverseStreamOutputMemberContentBlockStart{Value: types.ContentBlockStartEvent{
			Start: &types.ContentBlockStartMemberToolUse{Value: types.ToolUseBlockStart{
				ToolUseId: aws.String("tool_1"),
				Name:      aws.String("clock"),
			}},
		}},
		&types.ConverseStreamOutputMemberContentBlockDelta{Value: types.ContentBlockDeltaEvent{
			Delta: &types.ContentBlockDeltaMemberToolUse{Value: types.ToolUseBlockDelta{Input: aws.String(`{"zone":`)}},
		}},
		&types.ConverseStreamOutputMemberContentBlockDelta{Value: types.ContentBlockDeltaEvent{
			Delta: &types.ContentBlockDeltaMemberToolUse{Value: types.ToolUseBlockDelta{Input: aws.String(`"UTC"}`)}},
		}},
		&types.ConverseStreamOutputMemberContentBlockStop{Value: types.ContentBlockStopEvent{}},
		&types.ConverseStreamOutputMemberMessageStop{Value: types.MessageStopEvent{StopReason: types.StopReasonToolUse}},
		&types.ConverseStreamOutputMemberMetadata{Value: types.ConverseStreamMetadataEvent{
			Usage: &types.TokenUsage{InputTokens: aws.Int32(8), OutputTokens: aws.Int32(4)},
		}},
	}

	var out []domain.PromptResponseDelta
	for _, evt := range events {
		if delta, ok := asm.process(evt); ok {
			out = append(out, delta)
		}
	}

	require.Len(t, out, 4)
	assert.Equal(t, "Checking", out[0].Content)
	require.NotNil(t, out[1].ToolCall)
	assert.Equal(t, domain.ToolCall{ID: "tool_1", Name: "clock", Arguments: map[string]any{"zone": "UTC"}}, *out[1].ToolCall)
	assert.Equal(t, domain.StopReasonToolCalls, out[2].StopReason)
	assert.Equal(t, 12, out[3].CumulativeTokens)
}

func TestMapBedrockStopReason(t *testing.T) {
	assert.Equal(t, domain.StopReasonStop, mapBedrockStopReason(types.StopReasonEndTurn))
	assert.Equal(t, domain.StopReasonLength, mapBedrockStopReason(types.StopReasonMaxTokens))
	assert.Equal(t, domain.StopReasonToolCalls, mapBedrockStopReason(types.StopReasonToolUse))
	assert.Equal(t, domain.StopReasonContentFilter, mapBedrockStopReason(types.StopReasonGuardrailIntervened))
	assert.Equal(t, domain.StopReasonNull, mapBedrockStopReason(""))
}
