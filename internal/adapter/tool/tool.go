package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"steelwool/internal/domain"
)

// Tool is something the registry can run: the definition offered to the
// provider plus the code behind it.
type Tool interface {
	Definition() domain.Tool
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Handler runs a tool with its arguments decoded into P. It returns:
//   - (string, nil): used as the result text
//   - (any other value, nil): marshaled to indented JSON
//   - (nil, nil): an empty result, nothing to report
//   - (_, error): a tool failure
type Handler[P any] func(ctx context.Context, p P) (any, error)

type typedTool[P any] struct {
	def     domain.Tool
	handler Handler[P]
}

// New builds a Tool whose arguments are decoded into P before handler runs.
func New[P any](def domain.Tool, handler Handler[P]) Tool {
	return &typedTool[P]{def: def, handler: handler}
}

func (t *typedTool[P]) Definition() domain.Tool { return t.def }

func (t *typedTool[P]) Execute(ctx context.Context, args map[string]any) (string, error) {
	p, err := DecodeArgs[P](args)
	if err != nil {
		return "", err
	}
	result, err := t.handler(ctx, p)
	if err != nil {
		return "", err
	}
	return formatResult(result)
}

// DecodeArgs converts call arguments into P by way of JSON.
func DecodeArgs[P any](args map[string]any) (P, error) {
	var p P
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return p, fmt.Errorf("%w: %v", domain.ErrInvalidToolArguments, err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %v", domain.ErrInvalidToolArguments, err)
	}
	return p, nil
}

func formatResult(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("format result: %w", err)
		}
		return string(data), nil
	}
}

// ActionMap maps action names to handlers for an action-based tool.
type ActionMap[P any] map[string]Handler[P]

// Dispatch creates a Handler that routes by the action getAction extracts.
func Dispatch[P any](getAction func(P) string, actions ActionMap[P]) Handler[P] {
	// Pre-compute sorted action names for deterministic error messages.
	valid := make([]string, 0, len(actions))
	for name := range actions {
		valid = append(valid, name)
	}
	sort.Strings(valid)

	return func(ctx context.Context, p P) (any, error) {
		action := getAction(p)
		handler, ok := actions[action]
		if !ok {
			return nil, fmt.Errorf("%w: unknown action %q (valid: %s)",
				domain.ErrInvalidToolArguments, action, strings.Join(valid, ", "))
		}
		return handler(ctx, p)
	}
}
