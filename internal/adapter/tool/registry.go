package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
	"go.opentelemetry.io/otel/trace"

	"steelwool/internal/domain"
	"steelwool/internal/infra/tracer"
)

var _ domain.ToolResolver = (*Registry)(nil)

// Registry holds named tools and resolves provider tool calls against them.
type Registry struct {
	mu           sync.RWMutex
	tools        map[string]entry
	reportErrors bool
	logger       *slog.Logger
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema // nil when the schema did not compile
}

// Option configures a Registry.
type Option func(*Registry)

// WithReportErrors makes Resolve turn tool failures into result text for
// the provider instead of returning them.
func WithReportErrors(enabled bool) Option {
	return func(r *Registry) { r.reportErrors = enabled }
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		tools:  make(map[string]entry),
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. Returns error if name already registered.
// A schema that fails to compile is logged and the tool is registered
// without argument validation.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return fmt.Errorf("%w: tool has no name", domain.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}

	e := entry{tool: t}
	compiled, err := jsonschema.NewCompiler().Compile(def.SchemaOrDefault())
	if err != nil {
		r.logger.Warn("schema validation disabled for tool", "tool", def.Name, "error", err)
	} else {
		e.schema = compiled
	}

	r.tools[def.Name] = e
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return e.tool, nil
}

// Catalog returns the definitions offered to the provider, sorted by name.
func (r *Registry) Catalog() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, e.tool.Definition())
	}
	slices.SortFunc(defs, func(a, b domain.Tool) int { return strings.Compare(a.Name, b.Name) })
	return defs
}

// Resolve implements domain.ToolResolver: it looks up the tool, validates
// the arguments against its schema and executes it.
func (r *Registry) Resolve(ctx context.Context, call domain.ToolCall) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "tool.resolve",
		trace.WithAttributes(
			tracer.StringAttr("tool.name", call.Name),
			tracer.StringAttr("tool.call_id", call.ID),
		),
	)
	defer span.End()

	out, err := r.resolve(ctx, call)
	if err != nil {
		tracer.RecordError(span, err)
		r.logger.Warn("tool call failed", "tool", call.Name, "id", call.ID, "error", err)
		if r.reportErrors && ctx.Err() == nil {
			return fmt.Sprintf("Error in tool call %s of %s: %v", call.ID, call.Name, err), nil
		}
		return "", err
	}

	span.SetAttributes(tracer.IntAttr("tool.result_bytes", len(out)))
	tracer.SetOK(span)
	r.logger.Debug("tool call resolved", "tool", call.Name, "id", call.ID, "bytes", len(out))
	return out, nil
}

func (r *Registry) resolve(ctx context.Context, call domain.ToolCall) (string, error) {
	r.mu.RLock()
	e, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return "", domain.NewDomainError("Registry.Resolve", domain.ErrToolNotFound, call.Name)
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if raw, ok := args[domain.RawArgumentsKey]; ok && len(args) == 1 {
		return "", domain.NewDomainError("Registry.Resolve", domain.ErrInvalidToolArguments,
			fmt.Sprintf("arguments are not a JSON object: %v", raw))
	}
	if e.schema != nil {
		if result := e.schema.Validate(args); !result.IsValid() {
			return "", domain.NewDomainError("Registry.Resolve", domain.ErrInvalidToolArguments, result.Error())
		}
	}

	out, err := e.tool.Execute(ctx, args)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToolArguments) || errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w: %s: %w", domain.ErrToolFailure, call.Name, err)
	}
	return out, nil
}
