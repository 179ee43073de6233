package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	// ErrNullStopReason is a contract violation: a provider handed back a
	// terminal reply without a stop reason.
	ErrNullStopReason = fmt.Errorf("unexpected null stop reason during tool call resolution")

	ErrProviderNotFound     = fmt.Errorf("llm provider not found")
	ErrStreamingUnsupported = fmt.Errorf("provider does not support streaming")
	ErrToolNotFound         = fmt.Errorf("tool not found")
	ErrInvalidToolArguments = fmt.Errorf("invalid tool arguments")
	ErrToolFailure          = fmt.Errorf("tool execution failed")
	ErrTranscriptNotFound   = fmt.Errorf("transcript not found")
	ErrConfigLoad           = fmt.Errorf("failed to load configuration")
	ErrDecryption           = fmt.Errorf("decryption failed")

	// Provider transport errors.
	ErrContextOverflow     = fmt.Errorf("context window exceeded")
	ErrRateLimit           = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid         = fmt.Errorf("authentication failed")
	ErrProviderUnavailable = fmt.Errorf("%w: provider unavailable", ErrProviderError)
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "PendingReply.ResolveToolCallsRecursively")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient provider error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderUnavailable)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeProviderError       ErrorCode = "PROVIDER_ERROR"
	CodeNullStopReason      ErrorCode = "NULL_STOP_REASON"
	CodeProviderNotFound    ErrorCode = "PROVIDER_NOT_FOUND"
	CodeStreamUnsupported   ErrorCode = "STREAMING_UNSUPPORTED"
	CodeToolNotFound        ErrorCode = "TOOL_NOT_FOUND"
	CodeInvalidToolArgs     ErrorCode = "INVALID_TOOL_ARGUMENTS"
	CodeToolFailure         ErrorCode = "TOOL_FAILURE"
	CodeTranscriptNotFound  ErrorCode = "TRANSCRIPT_NOT_FOUND"
	CodeConfigLoad          ErrorCode = "CONFIG_LOAD"
	CodeDecryption          ErrorCode = "DECRYPTION"
	CodeContextOverflow     ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit           ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid         ErrorCode = "AUTH_INVALID"
	CodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
)

// errorCodes is checked in order so that specific sentinels win over the
// category sentinels they wrap.
var errorCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrNullStopReason, CodeNullStopReason},
	{ErrProviderNotFound, CodeProviderNotFound},
	{ErrStreamingUnsupported, CodeStreamUnsupported},
	{ErrToolNotFound, CodeToolNotFound},
	{ErrInvalidToolArguments, CodeInvalidToolArgs},
	{ErrToolFailure, CodeToolFailure},
	{ErrTranscriptNotFound, CodeTranscriptNotFound},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrDecryption, CodeDecryption},
	{ErrContextOverflow, CodeContextOverflow},
	{ErrRateLimit, CodeRateLimit},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrProviderUnavailable, CodeProviderUnavailable},
	{ErrNotFound, CodeNotFound},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrProviderError, CodeProviderError},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
