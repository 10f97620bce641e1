// Package tools defines the tool contract consumed by the orchestration
// engine, a name-keyed registry, the retry middleware, and the parallel
// batch executor.
package tools

import (
	"context"

	"scout/internal/llm"
)

// Result is the structured outcome of one tool execution. Tools report
// failures through Success/Error rather than returning a Go error for
// domain-level misses (a search with no hits is a successful call).
type Result struct {
	Success bool           `json:"success"`
	Output  any            `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
	Records int            `json:"records,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Tool is an external capability invoked by name with structured input.
type Tool interface {
	Name() string
	Description() string
	// InputSchema returns a JSON-schema-shaped parameter description.
	InputSchema() map[string]any
	Execute(ctx context.Context, input map[string]any) (*Result, error)
}

// Definition converts a tool to the shape bound onto a completion request.
func Definition(t Tool) llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.InputSchema(),
	}
}
