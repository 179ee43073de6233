package domain

import (
	"encoding/json"
	"fmt"
)

// Role identifies who produced a message.
type Role string

// Role constants for message roles.
const (
	RoleUser     Role = "user"
	RoleModel    Role = "model"
	RoleFunction Role = "function"
	RoleSystem   Role = "system"
	RoleTool     Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModel, RoleFunction, RoleSystem, RoleTool:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// ContentType describes the encoding of Message.Content.
type ContentType string

// ContentTypeText is the only supported content type.
const ContentTypeText ContentType = "text"

// StopReason is the provider's reason for ending a turn.
// The zero value is StopReasonNull, meaning the provider did not report one.
type StopReason string

const (
	StopReasonNull          StopReason = ""
	StopReasonStop          StopReason = "stop"
	StopReasonLength        StopReason = "length"
	StopReasonContentFilter StopReason = "content_filter"
	StopReasonToolCalls     StopReason = "tool_calls"
)

// IsNull reports whether no stop reason was set.
func (s StopReason) IsNull() bool { return s == StopReasonNull }

// IsTerminal reports whether s ends a conversation turn without tool work.
func (s StopReason) IsTerminal() bool {
	switch s {
	case StopReasonStop, StopReasonLength, StopReasonContentFilter:
		return true
	}
	return false
}

func (s StopReason) String() string {
	if s == StopReasonNull {
		return "null"
	}
	return string(s)
}

// MarshalJSON encodes StopReasonNull as JSON null.
func (s StopReason) MarshalJSON() ([]byte, error) {
	if s == StopReasonNull {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON accepts null, "null" and the known stop reasons.
func (s *StopReason) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = StopReasonNull
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := StopReason(raw); v {
	case StopReasonStop, StopReasonLength, StopReasonContentFilter, StopReasonToolCalls:
		*s = v
	case "null", "":
		*s = StopReasonNull
	default:
		return fmt.Errorf("%w: unknown stop reason %q", ErrInvalidInput, raw)
	}
	return nil
}

// Message is a single conversation turn.
type Message struct {
	Role        Role        `json:"role"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`
}

// NewMessage creates a text message with the given role.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, ContentType: ContentTypeText}
}

// UserMessage is shorthand for NewMessage(RoleUser, content).
func UserMessage(content string) Message { return NewMessage(RoleUser, content) }

// ModelMessage is shorthand for NewMessage(RoleModel, content).
func ModelMessage(content string) Message { return NewMessage(RoleModel, content) }

// SystemMessage is shorthand for NewMessage(RoleSystem, content).
func SystemMessage(content string) Message { return NewMessage(RoleSystem, content) }

// ToolMessage is shorthand for NewMessage(RoleTool, content).
func ToolMessage(content string) Message { return NewMessage(RoleTool, content) }

// PromptResponse is one complete provider turn.
type PromptResponse struct {
	Message    Message    `json:"message"`
	StopReason StopReason `json:"stop_reason"`
	TokenUsage int        `json:"token_usage"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// HasToolCalls reports whether the response carries at least one tool call.
func (r *PromptResponse) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// PromptResponseDelta is one fragment of a streamed response.
type PromptResponseDelta struct {
	Content    string     `json:"content"`
	StopReason StopReason `json:"stop_reason"`
	ToolCall   *ToolCall  `json:"tool_call,omitempty"`
	// CumulativeTokens is the provider-reported usage so far; zero when unknown.
	CumulativeTokens int `json:"cumulative_tokens,omitempty"`
}
