// Package calc provides basic arithmetic tools. It is the smallest useful
// toolset and the usual starting point for wiring an agent.
package calc

import (
	"context"
	"errors"
	"fmt"

	"github.com/okanta/relay"
)

// Register adds the arithmetic tools (add, subtract, multiply, divide) to
// the registry.
func Register(reg *relay.Registry) error {
	ops := []struct {
		name, desc string
		fn         func(a, b float64) (float64, error)
	}{
		{"add", "Add two numbers and return their sum.",
			func(a, b float64) (float64, error) { return a + b, nil }},
		{"subtract", "Subtract b from a and return the difference.",
			func(a, b float64) (float64, error) { return a - b, nil }},
		{"multiply", "Multiply two numbers and return their product.",
			func(a, b float64) (float64, error) { return a * b, nil }},
		{"divide", "Divide a by b and return the quotient.",
			func(a, b float64) (float64, error) {
				if b == 0 {
					return 0, errors.New("division by zero")
				}
				return a / b, nil
			}},
	}

	params := []relay.Param{
		{Name: "a", Type: "number", Description: "First operand", Required: true},
		{Name: "b", Type: "number", Description: "Second operand", Required: true},
	}

	for _, op := range ops {
		fn := op.fn
		err := reg.Register(op.name, op.desc, params,
			func(ctx context.Context, args map[string]any) (any, error) {
				a, err := toFloat(args["a"])
				if err != nil {
					return nil, fmt.Errorf("a: %w", err)
				}
				b, err := toFloat(args["b"])
				if err != nil {
					return nil, fmt.Errorf("b: %w", err)
				}
				return fn(a, b)
			})
		if err != nil {
			return err
		}
	}
	return nil
}

// toFloat widens the numeric types the registry admits for "number".
func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
