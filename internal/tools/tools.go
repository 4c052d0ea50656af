// Package tools implements the pipeline's capabilities: question and
// marking-guide parsing, answer normalization, arithmetic verification, and
// exam artifact ingestion. Each capability is exposed two ways: as a typed
// Go function for in-process stages, and as a pipeline.Capability for stage
// tool sets and the MCP tool server.
package tools

import (
	"context"

	"github.com/gradr-ai/gradr/internal/llm/retry"
	"github.com/gradr-ai/gradr/internal/pipeline"
)

// Func adapts a function to pipeline.Capability.
type Func struct {
	name string
	fn   func(ctx context.Context, input map[string]any) (map[string]any, error)
}

// NewFunc wraps fn as a named capability.
func NewFunc(name string, fn func(ctx context.Context, input map[string]any) (map[string]any, error)) *Func {
	return &Func{name: name, fn: fn}
}

// Name implements pipeline.Capability.
func (f *Func) Name() string { return f.name }

// Invoke implements pipeline.Capability.
func (f *Func) Invoke(ctx context.Context, input map[string]any) (map[string]any, error) {
	return f.fn(ctx, input)
}

// WithRetry wraps a capability so every invocation runs under the retry
// controller, giving tool calls the same transient-failure handling as
// backend calls.
func WithRetry(cap pipeline.Capability, controller *retry.Controller) pipeline.Capability {
	return NewFunc(cap.Name(), func(ctx context.Context, input map[string]any) (map[string]any, error) {
		var out map[string]any
		err := controller.Do(ctx, func(ctx context.Context) error {
			var invokeErr error
			out, invokeErr = cap.Invoke(ctx, input)
			return invokeErr
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}

// stringArg reads a required string key from a capability input document.
func stringArg(input map[string]any, key string) (string, bool) {
	v, ok := input[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
