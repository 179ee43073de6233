package llm

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steelwool/internal/domain"
	"steelwool/internal/infra/config"
)

func TestCircuitBreakerPassesThrough(t *testing.T) {
	inner := &mockProvider{name: "test"}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, newTestLogger())
	resp, err := cb.Prompt(context.Background(), userPrompt("hi"))

	require.NoError(t, err)
	assert.Equal(t, "test", resp.Message.Content)
	assert.Equal(t, "test", cb.Name())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	inner := &mockProvider{
		name: "flaky",
		promptFunc: func(context.Context, domain.PromptRequest) (*domain.PromptResponse, error) {
			return nil, mapHTTPError(http.StatusBadGateway, nil)
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{
		MaxFailures: 3,
		Timeout:     5 * time.Second,
		Interval:    60 * time.Second,
	}, newTestLogger())

	for range 3 {
		_, err := cb.Prompt(context.Background(), userPrompt("hi"))
		require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	}
	assert.Equal(t, 3, inner.callCount())
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	// Open circuit fails fast without reaching the provider.
	_, err := cb.Prompt(context.Background(), userPrompt("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Contains(t, err.Error(), `provider "flaky" circuit open`)
	assert.Equal(t, 3, inner.callCount())
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	fail := true
	inner := &mockProvider{
		name: "recovering",
		promptFunc: func(context.Context, domain.PromptRequest) (*domain.PromptResponse, error) {
			if fail {
				return nil, errors.New("down")
			}
			return &domain.PromptResponse{StopReason: domain.StopReasonStop}, nil
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 1, Timeout: 20 * time.Millisecond}, newTestLogger())
	_, err := cb.Prompt(context.Background(), userPrompt("hi"))
	require.Error(t, err)
	require.Equal(t, gobreaker.StateOpen, cb.State())

	fail = false
	time.Sleep(40 * time.Millisecond)

	_, err = cb.Prompt(context.Background(), userPrompt("hi"))
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	inner := &mockProvider{
		name: "slow",
		promptFunc: func(ctx context.Context, _ domain.PromptRequest) (*domain.PromptResponse, error) {
			return nil, context.Canceled
		},
	}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 1}, newTestLogger())

	for range 3 {
		_, err := cb.Prompt(context.Background(), userPrompt("hi"))
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerStreamPassesThrough(t *testing.T) {
	inner := &mockProvider{
		name: "streamer",
		streamFunc: func(context.Context, domain.PromptRequest) iter.Seq2[domain.PromptResponseDelta, error] {
			return deltas(
				domain.PromptResponseDelta{Content: "a"},
				domain.PromptResponseDelta{Content: "b", StopReason: domain.StopReasonStop},
			)
		},
	}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, newTestLogger())

	out, err := collect(cb.PromptStream(context.Background(), userPrompt("hi")))
	require.NoError(t, err)
	assert.Equal(t, []domain.PromptResponseDelta{
		{Content: "a"},
		{Content: "b", StopReason: domain.StopReasonStop},
	}, out)
	assert.Equal(t, uint32(1), cb.Counts().TotalSuccesses)
}

func TestCircuitBreakerStreamCountsConnectFailures(t *testing.T) {
	inner := &mockProvider{
		name: "streamer",
		streamFunc: func(context.Context, domain.PromptRequest) iter.Seq2[domain.PromptResponseDelta, error] {
			return domain.ErrorStream(mapHTTPError(http.StatusServiceUnavailable, nil))
		},
	}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 2}, newTestLogger())

	for range 2 {
		_, err := collect(cb.PromptStream(context.Background(), userPrompt("hi")))
		require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := collect(cb.PromptStream(context.Background(), userPrompt("hi")))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, inner.callCount())
}

func TestCircuitBreakerStreamLateErrorDoesNotTrip(t *testing.T) {
	inner := &mockProvider{
		name: "streamer",
		streamFunc: func(context.Context, domain.PromptRequest) iter.Seq2[domain.PromptResponseDelta, error] {
			return failingAfter(errors.New("connection reset"), domain.PromptResponseDelta{Content: "partial"})
		},
	}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 1}, newTestLogger())

	out, err := collect(cb.PromptStream(context.Background(), userPrompt("hi")))
	require.Error(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerStreamUnsupported(t *testing.T) {
	cb := NewCircuitBreakerProvider(promptOnly{&mockProvider{name: "plain"}}, config.CircuitBreakerConfig{}, newTestLogger())

	_, err := collect(cb.PromptStream(context.Background(), userPrompt("hi")))
	assert.ErrorIs(t, err, domain.ErrStreamingUnsupported)
}

func TestNewHTTPClientDefaults(t *testing.T) {
	client := NewHTTPClient(config.ProviderConfig{})
	assert.Equal(t, defaultConnTimeout+defaultRespTimeout, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, defaultMaxIdleConns, transport.MaxIdleConns)
	assert.Equal(t, defaultMaxIdleConnsPerHost, transport.MaxIdleConnsPerHost)
	assert.Equal(t, defaultRespTimeout, transport.ResponseHeaderTimeout)
}

func TestNewHTTPClientCustomPool(t *testing.T) {
	client := NewHTTPClient(config.ProviderConfig{
		ConnTimeout: time.Second,
		RespTimeout: 2 * time.Second,
		Pool:        config.PoolConfig{MaxIdleConns: 3, MaxConnsPerHost: 4, IdleConnTimeout: time.Minute},
	})
	assert.Equal(t, 3*time.Second, client.Timeout)

	transport := client.Transport.(*http.Transport)
	assert.Equal(t, 3, transport.MaxIdleConns)
	assert.Equal(t, 4, transport.MaxConnsPerHost)
	assert.Equal(t, time.Minute, transport.IdleConnTimeout)
}
