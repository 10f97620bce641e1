package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/sync/errgroup"

	"scout/internal/llm"
	"scout/internal/logging"
)

// Execution is one joined batch entry: exactly one per requested call, in
// request order, tagged with the originating call ID.
type Execution struct {
	ToolName   string        `json:"tool_name"`
	CallID     string        `json:"call_id"`
	Input      map[string]any `json:"input"`
	Result     *Result       `json:"result"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Attempts   int           `json:"attempts"`
	TotalDelay time.Duration `json:"total_delay"`
	Timestamp  time.Time     `json:"timestamp"`
}

// InputTransformer rewrites tool input before execution. The redaction layer
// uses it to restore real values for allowlisted tools.
type InputTransformer func(toolName string, input map[string]any) map[string]any

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Transformer InputTransformer
	// Policies overrides retry presets per tool name.
	Policies map[string]RetryPolicy
	// OnRetry is forwarded to the retry middleware for observability.
	OnRetry func(name string, attempt int, err error, delay time.Duration)
}

// Executor runs a batch of requested tool calls concurrently, each call
// independently retried. It never returns an error and never panics: every
// requested call yields exactly one Execution record.
type Executor struct {
	registry *Registry
	config   ExecutorConfig
	logger   logging.Logger
}

// NewExecutor creates a batch executor over registry.
func NewExecutor(registry *Registry, config ExecutorConfig, logger logging.Logger) *Executor {
	return &Executor{registry: registry, config: config, logger: logging.OrNop(logger)}
}

// ExecuteBatch fans out all calls concurrently and joins the results in
// request order (fan-out/join, no partial early return).
func (e *Executor) ExecuteBatch(ctx context.Context, calls []llm.ToolCall) []Execution {
	executions := make([]Execution, len(calls))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, call := range calls {
		group.Go(func() error {
			executions[i] = e.executeOne(groupCtx, call)
			return nil
		})
	}
	// Worker funcs never return errors; Wait is only the join point.
	_ = group.Wait()

	return executions
}

func (e *Executor) executeOne(ctx context.Context, call llm.ToolCall) (execution Execution) {
	execution = Execution{
		ToolName:  call.Name,
		CallID:    call.ID,
		Timestamp: time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool %s panicked: %v", call.Name, r)
			execution.Success = false
			execution.Error = fmt.Sprintf("tool panicked: %v", r)
			if execution.Attempts == 0 {
				execution.Attempts = 1
			}
		}
	}()

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		e.logger.Warn("unknown tool requested: %s", call.Name)
		execution.Success = false
		execution.Error = fmt.Sprintf("tool %q not found", call.Name)
		execution.Attempts = 1
		return execution
	}

	input, err := resolveArguments(call)
	if err != nil {
		execution.Success = false
		execution.Error = fmt.Sprintf("invalid tool arguments: %v", err)
		execution.Attempts = 1
		return execution
	}
	if e.config.Transformer != nil {
		input = e.config.Transformer(call.Name, input)
	}
	execution.Input = input

	policy, ok := e.config.Policies[call.Name]
	if !ok {
		policy = PolicyFor(call.Name)
	}

	outcome := ExecuteWithRetry(ctx, func(ctx context.Context) (*Result, error) {
		return tool.Execute(ctx, input)
	}, call.Name, RetryOptions{
		Policy:  policy,
		OnRetry: e.config.OnRetry,
		Logger:  e.logger,
	})

	execution.Attempts = outcome.Attempts
	execution.TotalDelay = outcome.TotalDelay

	if outcome.Success {
		execution.Result = outcome.Result
		execution.Success = outcome.Result == nil || outcome.Result.Success
		if outcome.Result != nil && !outcome.Result.Success {
			execution.Error = outcome.Result.Error
		}
		return execution
	}

	execution.Success = false
	if outcome.Err != nil {
		execution.Error = outcome.Err.Error()
	} else {
		execution.Error = "tool execution failed"
	}
	return execution
}

// resolveArguments returns the call's structured input, parsing (and when
// necessary repairing) raw JSON argument strings produced by some providers.
func resolveArguments(call llm.ToolCall) (map[string]any, error) {
	if call.Arguments != nil {
		return call.Arguments, nil
	}
	if call.RawArguments == "" {
		return map[string]any{}, nil
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(call.RawArguments), &input); err == nil {
		return input, nil
	}

	repaired, err := jsonrepair.JSONRepair(call.RawArguments)
	if err != nil {
		return nil, fmt.Errorf("unparseable arguments: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &input); err != nil {
		return nil, fmt.Errorf("arguments not an object after repair: %w", err)
	}
	return input, nil
}
