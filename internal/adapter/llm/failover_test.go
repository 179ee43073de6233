package llm

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steelwool/internal/domain"
)

func failingProvider(name string, err error) *mockProvider {
	return &mockProvider{
		name: name,
		promptFunc: func(context.Context, domain.PromptRequest) (*domain.PromptResponse, error) {
			return nil, err
		},
		streamFunc: func(context.Context, domain.PromptRequest) iter.Seq2[domain.PromptResponseDelta, error] {
			return domain.ErrorStream(err)
		},
	}
}

func TestFailoverPrimarySucceeds(t *testing.T) {
	primary := &mockProvider{name: "primary"}
	fallback := &mockProvider{name: "fallback"}
	f := NewFailoverProvider(primary, []domain.NamedProvider{fallback}, newTestLogger())

	resp, err := f.Prompt(context.Background(), userPrompt("hi"))
	require.NoError(t, err)
	assert.Equal(t, "primary", resp.Message.Content)
	assert.Zero(t, fallback.callCount())
	assert.Equal(t, "primary+failover", f.Name())
}

func TestFailoverUsesFallback(t *testing.T) {
	primary := failingProvider("primary", domain.ErrRateLimit)
	fallback := &mockProvider{name: "fallback"}
	f := NewFailoverProvider(primary, []domain.NamedProvider{fallback}, newTestLogger())

	resp, err := f.Prompt(context.Background(), userPrompt("hi"))
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.Message.Content)
	assert.Equal(t, 1, primary.callCount())
}

func TestFailoverAllFail(t *testing.T) {
	f := NewFailoverProvider(
		failingProvider("a", errors.New("boom a")),
		[]domain.NamedProvider{failingProvider("b", errors.New("boom b"))},
		newTestLogger(),
	)

	_, err := f.Prompt(context.Background(), userPrompt("hi"))
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "all providers failed: [a: boom a; b: boom b]")
}

func TestFailoverStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &mockProvider{
		name: "primary",
		promptFunc: func(context.Context, domain.PromptRequest) (*domain.PromptResponse, error) {
			cancel()
			return nil, context.Canceled
		},
	}
	fallback := &mockProvider{name: "fallback"}
	f := NewFailoverProvider(primary, []domain.NamedProvider{fallback}, newTestLogger())

	_, err := f.Prompt(ctx, userPrompt("hi"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fallback.callCount())
}

func TestFailoverStreamFallsBackBeforeFirstDelta(t *testing.T) {
	primary := failingProvider("primary", domain.ErrProviderUnavailable)
	fallback := &mockProvider{name: "fallback"}
	f := NewFailoverProvider(primary, []domain.NamedProvider{fallback}, newTestLogger())

	out, err := collect(f.PromptStream(context.Background(), userPrompt("hi")))
	require.NoError(t, err)
	assert.Equal(t, []domain.PromptResponseDelta{{Content: "fallback", StopReason: domain.StopReasonStop}}, out)
}

func TestFailoverStreamCommitsAfterFirstDelta(t *testing.T) {
	lateErr := errors.New("connection reset")
	primary := &mockProvider{
		name: "primary",
		streamFunc: func(context.Context, domain.PromptRequest) iter.Seq2[domain.PromptResponseDelta, error] {
			return failingAfter(lateErr, domain.PromptResponseDelta{Content: "par"})
		},
	}
	fallback := &mockProvider{name: "fallback"}
	f := NewFailoverProvider(primary, []domain.NamedProvider{fallback}, newTestLogger())

	out, err := collect(f.PromptStream(context.Background(), userPrompt("hi")))
	assert.Same(t, lateErr, err)
	assert.Equal(t, []domain.PromptResponseDelta{{Content: "par"}}, out)
	assert.Zero(t, fallback.callCount())
}

func TestFailoverStreamSkipsNonStreaming(t *testing.T) {
	plain := promptOnly{&mockProvider{name: "plain"}}
	fallback := &mockProvider{name: "fallback"}
	f := NewFailoverProvider(plain, []domain.NamedProvider{fallback}, newTestLogger())

	out, err := collect(f.PromptStream(context.Background(), userPrompt("hi")))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "fallback", out[0].Content)
}

func TestFailoverStreamAllFail(t *testing.T) {
	f := NewFailoverProvider(
		failingProvider("a", errors.New("boom a")),
		[]domain.NamedProvider{failingProvider("b", errors.New("boom b"))},
		newTestLogger(),
	)

	_, err := collect(f.PromptStream(context.Background(), userPrompt("hi")))
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "all streaming providers failed: [a: boom a; b: boom b]")
}

func TestFailoverStreamNoStreamingProviders(t *testing.T) {
	f := NewFailoverProvider(promptOnly{&mockProvider{name: "plain"}}, nil, newTestLogger())

	_, err := collect(f.PromptStream(context.Background(), userPrompt("hi")))
	assert.ErrorIs(t, err, domain.ErrStreamingUnsupported)
}
