package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedStep is one canned reply (or failure) for a ScriptedClient.
type ScriptedStep struct {
	Response *CompletionResponse
	Err      error
}

// ScriptedClient implements Client for tests: it replays a fixed sequence of
// steps and records every request it receives. The last step repeats once the
// script is exhausted.
type ScriptedClient struct {
	mu       sync.Mutex
	model    string
	steps    []ScriptedStep
	calls    int
	Requests []CompletionRequest
}

// NewScriptedClient creates a scripted client for model.
func NewScriptedClient(model string, steps ...ScriptedStep) *ScriptedClient {
	return &ScriptedClient{model: model, steps: steps}
}

// TextStep is a convenience constructor for a plain-text reply.
func TextStep(content string) ScriptedStep {
	return ScriptedStep{Response: &CompletionResponse{Content: content}}
}

// ToolCallStep is a convenience constructor for a tool-requesting reply.
func ToolCallStep(calls ...ToolCall) ScriptedStep {
	return ScriptedStep{Response: &CompletionResponse{ToolCalls: calls}}
}

// ErrStep is a convenience constructor for a failing reply.
func ErrStep(err error) ScriptedStep {
	return ScriptedStep{Err: err}
}

func (c *ScriptedClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.Requests = append(c.Requests, req)
	if len(c.steps) == 0 {
		return nil, fmt.Errorf("scripted client %s has no steps", c.model)
	}

	idx := c.calls
	if idx >= len(c.steps) {
		idx = len(c.steps) - 1
	}
	c.calls++

	step := c.steps[idx]
	if step.Err != nil {
		return nil, step.Err
	}
	resp := *step.Response
	resp.Model = c.model
	return &resp, nil
}

func (c *ScriptedClient) Model() string {
	return c.model
}

// Calls reports how many times Complete was invoked.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
