package uxerror

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"steelwool/internal/domain"
)

func TestHumanize(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		title string
	}{
		{"null stop reason", domain.NewDomainError("PendingReply.ResolveToolCallsRecursively", domain.ErrNullStopReason, ""), "Provider Broke Protocol"},
		{"wrapped rate limit", fmt.Errorf("openai: %w", domain.ErrRateLimit), "Rate Limited"},
		{"auth", domain.ErrAuthInvalid, "Authentication Failed"},
		{"circuit open", fmt.Errorf("circuit open: %w", domain.ErrProviderUnavailable), "Provider Unavailable"},
		{"overflow", domain.ErrContextOverflow, "Conversation Too Long"},
		{"tool failure", fmt.Errorf("%w: clock: boom", domain.ErrToolFailure), "Tool Failed"},
		{"unknown tool", domain.NewDomainError("Registry.Resolve", domain.ErrToolNotFound, "ghost"), "Unknown Tool"},
		{"transcript", domain.ErrTranscriptNotFound, "Transcript Not Found"},
		{"dial", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), "Connection Failed"},
		{"timeout", errors.New("context deadline exceeded"), "Request Timed Out"},
		{"other", errors.New("something odd"), "Unexpected Error"},
		{"nil", nil, "Unknown Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Humanize(tt.err).Title; got != tt.title {
				t.Errorf("Humanize(%v).Title = %q, want %q", tt.err, got, tt.title)
			}
		})
	}
}

func TestRender(t *testing.T) {
	fe := FriendlyError{Title: "Rate Limited", Message: "slow down", Hints: []string{"wait"}}
	out := fe.Render()
	for _, want := range []string{"Rate Limited", "\n  slow down", "Suggestions:", "wait"} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q in %q", want, out)
		}
	}
	if got := (FriendlyError{Title: "Bare"}).Render(); got != "Bare" {
		t.Errorf("Render() = %q", got)
	}
}
