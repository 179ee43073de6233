// Package uxerror translates raw errors into user-friendly messages with
// recovery hints for the terminal UI and the CLI.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"steelwool/internal/adapter/tui/theme"
	"steelwool/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string   // short heading, e.g. "Connection Failed"
	Message string   // one-liner explanation
	Hints   []string // actionable recovery suggestions
	Raw     string   // original error text
}

// Render formats the FriendlyError for display.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			fmt.Fprintf(&sb, "\n    %s %s", theme.Symbols.Bullet, h)
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

var patterns = []errorPattern{
	// Domain sentinels first so errors.Is works through wrapping.
	{
		match: is(domain.ErrNullStopReason),
		produce: constantError("Provider Broke Protocol",
			"The provider ended a reply without saying why.",
			[]string{"Try again", "Switch to another provider with --provider"}),
	},
	{
		match: is(domain.ErrContextOverflow),
		produce: constantError("Conversation Too Long",
			"The conversation no longer fits in the model's context window.",
			[]string{"Start a new conversation", "Lower conversation.max_tokens in config"}),
	},
	{
		match: is(domain.ErrRateLimit),
		produce: constantError("Rate Limited",
			"Too many requests sent to the API provider.",
			[]string{"Wait a moment before retrying", "Enable llm.rate_limit in config"}),
	},
	{
		match: is(domain.ErrAuthInvalid),
		produce: constantError("Authentication Failed",
			"The API key or credentials were rejected.",
			[]string{"Check the provider's api_key in config", "Run 'steelwool doctor'"}),
	},
	{
		match: is(domain.ErrProviderUnavailable),
		produce: constantError("Provider Unavailable",
			"The provider is down or its circuit breaker is open.",
			[]string{"Try again in a few seconds", "Configure llm.failover fallbacks"}),
	},
	{
		match: is(domain.ErrProviderNotFound),
		produce: constantError("Unknown Provider",
			"No provider with that name is configured.",
			[]string{"Check --provider against llm.providers in config"}),
	},
	{
		match: is(domain.ErrStreamingUnsupported),
		produce: constantError("Streaming Not Supported",
			"This provider cannot stream replies.",
			[]string{"Set conversation.stream to false"}),
	},
	{
		match: is(domain.ErrToolNotFound),
		produce: constantError("Unknown Tool",
			"The model asked for a tool that is not registered.",
			[]string{"Enable tools.report_errors so the model can recover", "Check tools.builtin and tools.mcp_servers"}),
	},
	{
		match: is(domain.ErrInvalidToolArguments),
		produce: constantError("Bad Tool Arguments",
			"The model called a tool with arguments that do not match its schema.",
			[]string{"Enable tools.report_errors so the model can retry"}),
	},
	{
		match: is(domain.ErrToolFailure),
		produce: func(err error) FriendlyError {
			return FriendlyError{
				Title:   "Tool Failed",
				Message: err.Error(),
				Hints:   []string{"Enable tools.report_errors so the model sees the failure"},
				Raw:     err.Error(),
			}
		},
	},
	{
		match: is(domain.ErrTranscriptNotFound),
		produce: constantError("Transcript Not Found",
			"No saved conversation has that id.",
			[]string{"Run 'steelwool transcripts list'"}),
	},

	// Network patterns for errors from outside the domain.
	{
		match: containsAny("connection refused", "dial tcp", "no such host"),
		produce: constantError("Connection Failed",
			"Could not reach the remote service.",
			[]string{"Check your internet connection", "Verify the provider base_url in config", "Make sure Ollama is running if you use it"}),
	},
	{
		match: containsAny("deadline exceeded", "timeout"),
		produce: constantError("Request Timed Out",
			"The request took too long to complete.",
			[]string{"Try a shorter prompt", "Increase resp_timeout in config"}),
	},
	{
		match: containsAny("402", "quota", "billing", "insufficient"),
		produce: constantError("Quota Exceeded",
			"Your API quota or billing limit has been reached.",
			[]string{"Check your API provider billing dashboard"}),
	},
}

// Humanize converts a raw error into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}
	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}
	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with STEELWOOL_LOGGER_LEVEL=debug for more details"},
		Raw:     err.Error(),
	}
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// containsAny matches errors whose text contains any of substrs, ignoring case.
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
