package tools

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scout/internal/llm"
)

// stubTool is a scriptable tool for executor tests.
type stubTool struct {
	name    string
	execute func(ctx context.Context, input map[string]any) (*Result, error)
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return "stub" }
func (s *stubTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (s *stubTool) Execute(ctx context.Context, input map[string]any) (*Result, error) {
	return s.execute(ctx, input)
}

func newTestRegistry(t *testing.T, tools ...Tool) *Registry {
	t.Helper()
	registry := NewRegistry()
	for _, tool := range tools {
		require.NoError(t, registry.Register(tool))
	}
	return registry
}

func instantPolicies(names ...string) map[string]RetryPolicy {
	policies := make(map[string]RetryPolicy, len(names))
	for _, name := range names {
		policies[name] = RetryPolicy{
			MaxRetries:    2,
			InitialDelay:  time.Millisecond,
			MaxDelay:      5 * time.Millisecond,
			BackoffFactor: 2.0,
		}
	}
	return policies
}

func TestExecuteBatchJoinsInRequestOrder(t *testing.T) {
	slow := &stubTool{name: "slow", execute: func(ctx context.Context, input map[string]any) (*Result, error) {
		time.Sleep(20 * time.Millisecond)
		return &Result{Success: true, Output: "slow done"}, nil
	}}
	fast := &stubTool{name: "fast", execute: func(ctx context.Context, input map[string]any) (*Result, error) {
		return &Result{Success: true, Output: "fast done"}, nil
	}}
	executor := NewExecutor(newTestRegistry(t, slow, fast), ExecutorConfig{}, nil)

	executions := executor.ExecuteBatch(context.Background(), []llm.ToolCall{
		{ID: "c1", Name: "slow"},
		{ID: "c2", Name: "fast"},
	})

	require.Len(t, executions, 2)
	require.Equal(t, "c1", executions[0].CallID)
	require.Equal(t, "slow", executions[0].ToolName)
	require.Equal(t, "c2", executions[1].CallID)
	require.True(t, executions[0].Success)
	require.True(t, executions[1].Success)
}

func TestExecuteBatchRunsConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	tool := &stubTool{name: "probe", execute: func(ctx context.Context, input map[string]any) (*Result, error) {
		current := inFlight.Add(1)
		for {
			observed := peak.Load()
			if current <= observed || peak.CompareAndSwap(observed, current) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return &Result{Success: true}, nil
	}}
	executor := NewExecutor(newTestRegistry(t, tool), ExecutorConfig{}, nil)

	calls := make([]llm.ToolCall, 4)
	for i := range calls {
		calls[i] = llm.ToolCall{ID: "c", Name: "probe"}
	}
	executor.ExecuteBatch(context.Background(), calls)

	require.Greater(t, peak.Load(), int32(1))
}

func TestExecuteBatchUnknownTool(t *testing.T) {
	executor := NewExecutor(newTestRegistry(t), ExecutorConfig{}, nil)

	executions := executor.ExecuteBatch(context.Background(), []llm.ToolCall{
		{ID: "c1", Name: "ghost"},
	})

	require.Len(t, executions, 1)
	require.False(t, executions[0].Success)
	require.Contains(t, executions[0].Error, "not found")
	require.Equal(t, "c1", executions[0].CallID)
}

func TestExecuteBatchRecoversPanics(t *testing.T) {
	tool := &stubTool{name: "bomb", execute: func(ctx context.Context, input map[string]any) (*Result, error) {
		panic("kaboom")
	}}
	executor := NewExecutor(newTestRegistry(t, tool), ExecutorConfig{
		Policies: instantPolicies("bomb"),
	}, nil)

	executions := executor.ExecuteBatch(context.Background(), []llm.ToolCall{{ID: "c1", Name: "bomb"}})

	require.Len(t, executions, 1)
	require.False(t, executions[0].Success)
	require.Contains(t, executions[0].Error, "panicked")
}

func TestExecuteBatchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	tool := &stubTool{name: "flaky", execute: func(ctx context.Context, input map[string]any) (*Result, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("connection reset by peer")
		}
		return &Result{Success: true}, nil
	}}
	executor := NewExecutor(newTestRegistry(t, tool), ExecutorConfig{
		Policies: instantPolicies("flaky"),
	}, nil)

	executions := executor.ExecuteBatch(context.Background(), []llm.ToolCall{{ID: "c1", Name: "flaky"}})

	require.True(t, executions[0].Success)
	require.Equal(t, 3, executions[0].Attempts)
}

func TestExecuteBatchFailedToolReportsStructuredError(t *testing.T) {
	tool := &stubTool{name: "dead", execute: func(ctx context.Context, input map[string]any) (*Result, error) {
		return nil, errors.New("request timed out")
	}}
	executor := NewExecutor(newTestRegistry(t, tool), ExecutorConfig{
		Policies: instantPolicies("dead"),
	}, nil)

	executions := executor.ExecuteBatch(context.Background(), []llm.ToolCall{{ID: "c1", Name: "dead"}})

	require.False(t, executions[0].Success)
	require.Contains(t, executions[0].Error, "timed out")
	require.Equal(t, 3, executions[0].Attempts)
}

func TestExecuteBatchAppliesInputTransformer(t *testing.T) {
	var seen map[string]any
	tool := &stubTool{name: "lookup", execute: func(ctx context.Context, input map[string]any) (*Result, error) {
		seen = input
		return &Result{Success: true}, nil
	}}
	executor := NewExecutor(newTestRegistry(t, tool), ExecutorConfig{
		Transformer: func(toolName string, input map[string]any) map[string]any {
			out := make(map[string]any, len(input))
			for k, v := range input {
				out[k] = v
			}
			out["restored"] = true
			return out
		},
	}, nil)

	executor.ExecuteBatch(context.Background(), []llm.ToolCall{
		{ID: "c1", Name: "lookup", Arguments: map[string]any{"q": "acme"}},
	})

	require.Equal(t, "acme", seen["q"])
	require.Equal(t, true, seen["restored"])
}

func TestResolveArgumentsRepairsMalformedJSON(t *testing.T) {
	input, err := resolveArguments(llm.ToolCall{
		Name:         "lookup",
		RawArguments: `{query: 'acme corp', limit: 5,}`,
	})
	require.NoError(t, err)
	require.Equal(t, "acme corp", input["query"])
	require.EqualValues(t, 5, input["limit"])
}

func TestResolveArgumentsEmptyRaw(t *testing.T) {
	input, err := resolveArguments(llm.ToolCall{Name: "lookup"})
	require.NoError(t, err)
	require.Empty(t, input)
}

func TestResolveArgumentsPrefersStructured(t *testing.T) {
	input, err := resolveArguments(llm.ToolCall{
		Name:         "lookup",
		Arguments:    map[string]any{"q": "x"},
		RawArguments: "ignored",
	})
	require.NoError(t, err)
	require.Equal(t, "x", input["q"])
}
