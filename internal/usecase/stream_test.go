package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steelwool/internal/domain"
)

func TestSendStreamingWithCallback_Aggregates(t *testing.T) {
	stream := &scriptedStream{deltas: []domain.PromptResponseDelta{
		{Content: "Hel"},
		{Content: "lo", StopReason: domain.StopReasonStop},
	}}
	h := NewHistory(domain.UserMessage("greet me"))

	var seen []string
	reply, err := h.SendStreamingWithCallback(context.Background(), stream, "sys", 32, nil,
		func(d domain.PromptResponseDelta) { seen = append(seen, d.Content) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, seen)
	assert.Equal(t, "Hello", reply.Response.Message.Content)
	assert.Equal(t, domain.RoleModel, reply.Response.Message.Role)
	assert.Equal(t, domain.ContentTypeText, reply.Response.Message.ContentType)
	assert.Equal(t, domain.StopReasonStop, reply.Response.StopReason)
	assert.Equal(t, 0, reply.Response.TokenUsage)
	assert.Empty(t, reply.Response.ToolCalls)
	assert.Same(t, h, reply.History)
	assert.Equal(t, 1, h.Len(), "aggregation must not append")
}

func TestSendStreamingWithCallback_FirstStopReasonWins(t *testing.T) {
	stream := &scriptedStream{deltas: []domain.PromptResponseDelta{
		{Content: "x", StopReason: domain.StopReasonToolCalls},
		{StopReason: domain.StopReasonStop},
	}}

	reply, err := NewHistory().SendStreamingWithCallback(context.Background(), stream, "", 32, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StopReasonToolCalls, reply.Response.StopReason)
}

func TestSendStreamingWithCallback_CollectsToolCallsInOrder(t *testing.T) {
	a, b := call("1", "alpha"), call("2", "beta")
	stream := &scriptedStream{deltas: []domain.PromptResponseDelta{
		{ToolCall: &a},
		{Content: "thinking"},
		{ToolCall: &b, StopReason: domain.StopReasonToolCalls},
	}}
	tools := []domain.Tool{{Name: "alpha"}, {Name: "beta"}}

	reply, err := NewHistory().SendStreamingWithCallback(context.Background(), stream, "sys", 32, tools, nil)
	require.NoError(t, err)
	assert.Equal(t, []domain.ToolCall{a, b}, reply.Response.ToolCalls)
	assert.Equal(t, tools, reply.Tools)
	assert.Equal(t, "sys", reply.SystemMessage)
}

func TestSendStreamingWithCallback_ReportedUsage(t *testing.T) {
	stream := &scriptedStream{deltas: []domain.PromptResponseDelta{
		{Content: "a"},
		{Content: "", StopReason: domain.StopReasonStop, CumulativeTokens: 42},
	}}

	reply, err := NewHistory().SendStreamingWithCallback(context.Background(), stream, "", 32, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, reply.Response.TokenUsage)
}

func TestSendStreamingWithCallback_NoStopReasonStaysNull(t *testing.T) {
	stream := &scriptedStream{deltas: []domain.PromptResponseDelta{{Content: "partial"}}}

	reply, err := NewHistory().SendStreamingWithCallback(context.Background(), stream, "", 32, nil, nil)
	require.NoError(t, err)
	assert.True(t, reply.Response.StopReason.IsNull())
}

func TestSendStreamingWithCallback_StreamError(t *testing.T) {
	boom := errors.New("stream broke")
	stream := &scriptedStream{
		deltas: []domain.PromptResponseDelta{{Content: "Hel"}},
		err:    boom,
	}
	calls := 0

	reply, err := NewHistory().SendStreamingWithCallback(context.Background(), stream, "", 32, nil,
		func(domain.PromptResponseDelta) { calls++ })
	assert.Nil(t, reply)
	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestStreamAggregatorKeepsLargestUsage(t *testing.T) {
	agg := newStreamAggregator()
	agg.add(domain.PromptResponseDelta{CumulativeTokens: 10})
	agg.add(domain.PromptResponseDelta{CumulativeTokens: 25})
	agg.add(domain.PromptResponseDelta{})

	assert.Equal(t, 25, agg.build().TokenUsage)
}
