package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
	_ "time/tzdata" // timezone lookups must work on minimal images

	"steelwool/internal/domain"
)

// Builtin names accepted by the tools.builtin config list.
const (
	ClockToolName      = "clock"
	CalculatorToolName = "calculator"
)

type clockParams struct {
	Timezone string `json:"timezone,omitempty"`
}

// NewClockTool returns a tool that reports the current time, optionally in
// an IANA timezone. now is injectable for tests; nil means time.Now.
func NewClockTool(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}
	def := toolDef(ClockToolName,
		"Returns the current date and time. Optionally takes an IANA timezone such as Europe/Paris.",
		`{
  "type": "object",
  "properties": {
    "timezone": {"type": "string", "description": "IANA timezone name; defaults to UTC"}
  },
  "additionalProperties": false
}`)

	return New(def, func(_ context.Context, p clockParams) (any, error) {
		loc := time.UTC
		if p.Timezone != "" {
			l, err := time.LoadLocation(p.Timezone)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", p.Timezone)
			}
			loc = l
		}
		return now().In(loc).Format(time.RFC3339), nil
	})
}

type calcParams struct {
	Operation string   `json:"operation"`
	A         float64  `json:"a"`
	B         *float64 `json:"b,omitempty"`
}

var errMissingOperand = errors.New("operation needs operand b")

// NewCalculatorTool returns a basic arithmetic tool.
func NewCalculatorTool() Tool {
	def := toolDef(CalculatorToolName,
		"Performs arithmetic on one or two numbers.",
		`{
  "type": "object",
  "properties": {
    "operation": {"type": "string", "enum": ["add", "subtract", "multiply", "divide", "power", "sqrt"]},
    "a": {"type": "number"},
    "b": {"type": "number"}
  },
  "required": ["operation", "a"]
}`)

	binary := func(f func(a, b float64) (float64, error)) Handler[calcParams] {
		return func(_ context.Context, p calcParams) (any, error) {
			if p.B == nil {
				return nil, errMissingOperand
			}
			v, err := f(p.A, *p.B)
			if err != nil {
				return nil, err
			}
			return formatNumber(v), nil
		}
	}

	return New(def, Dispatch(
		func(p calcParams) string { return p.Operation },
		ActionMap[calcParams]{
			"add":      binary(func(a, b float64) (float64, error) { return a + b, nil }),
			"subtract": binary(func(a, b float64) (float64, error) { return a - b, nil }),
			"multiply": binary(func(a, b float64) (float64, error) { return a * b, nil }),
			"divide": binary(func(a, b float64) (float64, error) {
				if b == 0 {
					return 0, errors.New("division by zero")
				}
				return a / b, nil
			}),
			"power": binary(func(a, b float64) (float64, error) { return math.Pow(a, b), nil }),
			"sqrt": func(_ context.Context, p calcParams) (any, error) {
				if p.A < 0 {
					return nil, errors.New("square root of a negative number")
				}
				return formatNumber(math.Sqrt(p.A)), nil
			},
		},
	))
}

// Builtin returns the named built-in tool.
func Builtin(name string) (Tool, error) {
	switch name {
	case ClockToolName:
		return NewClockTool(nil), nil
	case CalculatorToolName:
		return NewCalculatorTool(), nil
	default:
		return nil, fmt.Errorf("unknown builtin tool %q", name)
	}
}

func toolDef(name, description, schema string) domain.Tool {
	return domain.Tool{Name: name, Description: description, Schema: json.RawMessage(schema)}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
