// Package jq evaluates jq expressions against decoded JSON documents.
package jq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout is the default execution time for jq expressions (1 second)
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize is the default maximum document size (10MB)
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// ErrNoOutput is returned when an expression produces no value, e.g. `empty`.
var ErrNoOutput = errors.New("jq expression produced no output")

// Executor handles jq expression evaluation with timeout and size limits.
type Executor struct {
	timeout      time.Duration
	maxInputSize int64
}

// NewExecutor creates a new jq executor with the given configuration.
func NewExecutor(timeout time.Duration, maxInputSize int64) *Executor {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}

	return &Executor{
		timeout:      timeout,
		maxInputSize: maxInputSize,
	}
}

// Execute runs a jq expression against data. vars are bound as jq variables;
// their names must include the leading '$'.
//
// A single output is returned as is, several outputs are collected into an
// array, and no output yields nil.
func (e *Executor) Execute(ctx context.Context, expression string, data any, vars map[string]any) (any, error) {
	results, err := e.run(ctx, expression, data, vars)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// Transform returns a document transform that replaces the document with the
// single output of expression. An expression with no output, or more than
// one, is an error so that an update never silently drops or reshapes a
// document.
func (e *Executor) Transform(ctx context.Context, expression string, vars map[string]any) (func(any) (any, error), error) {
	if err := e.Validate(expression, vars); err != nil {
		return nil, err
	}
	return func(data any) (any, error) {
		results, err := e.run(ctx, expression, data, vars)
		if err != nil {
			return nil, err
		}
		switch len(results) {
		case 0:
			return nil, ErrNoOutput
		case 1:
			return results[0], nil
		default:
			return nil, fmt.Errorf("jq expression produced %d outputs, want 1", len(results))
		}
	}, nil
}

// Validate validates a jq expression by attempting to compile it.
func (e *Executor) Validate(expression string, vars map[string]any) error {
	if expression == "" {
		return nil
	}
	if _, _, err := compile(expression, vars); err != nil {
		return err
	}
	return nil
}

func (e *Executor) run(ctx context.Context, expression string, data any, vars map[string]any) ([]any, error) {
	if expression == "" {
		// No expression, return data as-is
		return []any{data}, nil
	}

	if err := e.validateInputSize(data); err != nil {
		return nil, err
	}

	code, values, err := compile(expression, vars)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var results []any
	iter := code.RunWithContext(execCtx, data, values...)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("execution timeout after %v", e.timeout)
			}
			return nil, err
		}
		results = append(results, v)
	}
	return results, nil
}

// compile parses and compiles expression with vars bound in name order.
func compile(expression string, vars map[string]any) (*gojq.Code, []any, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid jq expression: %w", err)
	}

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	values := make([]any, len(names))
	for i, name := range names {
		values[i] = vars[name]
	}

	code, err := gojq.Compile(query, gojq.WithVariables(names))
	if err != nil {
		return nil, nil, fmt.Errorf("jq compilation failed: %w", err)
	}
	return code, values, nil
}

// validateInputSize checks if the data size is within limits.
func (e *Executor) validateInputSize(data any) error {
	// Estimate size by marshaling to JSON
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if int64(len(jsonData)) > e.maxInputSize {
		return fmt.Errorf("data size (%d bytes) exceeds maximum (%d bytes)",
			len(jsonData), e.maxInputSize)
	}

	return nil
}
