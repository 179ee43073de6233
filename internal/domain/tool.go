package domain

import (
	"context"
	"encoding/json"
	"strings"
)

// RawArgumentsKey holds provider arguments that could not be decoded as a JSON object.
const RawArgumentsKey = "_raw"

// Tool describes a callable capability offered to the provider.
// It carries no executable code.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
	Required    bool            `json:"required"`
}

// SchemaOrDefault returns the tool's JSON schema, or an empty object schema when unset.
func (t Tool) SchemaOrDefault() json.RawMessage {
	if len(t.Schema) == 0 || string(t.Schema) == "null" {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return t.Schema
}

// AnyRequired reports whether any tool in the list is marked required.
func AnyRequired(tools []Tool) bool {
	for _, t := range tools {
		if t.Required {
			return true
		}
	}
	return false
}

// ToolCall is a provider request to invoke a named tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ParseToolArguments decodes provider argument text into a map.
// Empty input yields an empty map; text that is not a JSON object is kept
// under RawArgumentsKey so the resolver can report it.
func ParseToolArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{RawArgumentsKey: raw}
	}
	return args
}

// ArgumentsJSON encodes the call arguments, falling back to "{}".
func (c ToolCall) ArgumentsJSON() string {
	if len(c.Arguments) == 0 {
		return "{}"
	}
	data, err := json.Marshal(c.Arguments)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// ToolResolver executes a single tool call and returns its textual result.
// An empty result means there is nothing to report.
type ToolResolver interface {
	Resolve(ctx context.Context, call ToolCall) (string, error)
}

// ToolResolverFunc adapts a plain function to ToolResolver.
type ToolResolverFunc func(ctx context.Context, call ToolCall) (string, error)

// Resolve implements ToolResolver.
func (f ToolResolverFunc) Resolve(ctx context.Context, call ToolCall) (string, error) {
	return f(ctx, call)
}
