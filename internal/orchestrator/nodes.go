package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"scout/internal/contextopt"
	"scout/internal/llm"
	"scout/internal/recovery"
	"scout/internal/tools"
)

// correctionKind distinguishes why the loop is routing through self_correct.
type correctionKind int

const (
	correctNone correctionKind = iota
	correctRawJSON
	correctNarration
	correctModelError
)

func (r *run) buildGraph() *graph {
	return &graph{
		start: nodeLoadContext,
		nodes: map[nodeID]nodeFunc{
			nodeLoadContext: r.loadContext,
			nodePlan:        r.plan,
			nodeThink:       r.think,
			nodeTools:       r.executeTools,
			nodeFold:        r.foldResults,
			nodeAdvance:     r.advance,
			nodeCorrect:     r.selfCorrect,
			nodeFinalize:    r.finalize,
		},
		routes: map[nodeID]routeFunc{
			nodeLoadContext: staticRoute(nodePlan),
			nodePlan:        staticRoute(nodeThink),
			nodeThink:       r.routeAfterThink,
			nodeTools:       staticRoute(nodeFold),
			nodeFold:        staticRoute(nodeAdvance),
			nodeAdvance:     r.routeToThink,
			nodeCorrect:     r.routeToThink,
			nodeFinalize:    staticRoute(nodeEnd),
		},
		edges: map[nodeID][]nodeID{
			nodeLoadContext: {nodePlan},
			nodePlan:        {nodeThink},
			nodeThink:       {nodeTools, nodeCorrect, nodeFinalize},
			nodeTools:       {nodeFold},
			nodeFold:        {nodeAdvance},
			nodeAdvance:     {nodeThink, nodeFinalize},
			nodeCorrect:     {nodeThink, nodeFinalize},
			nodeFinalize:    {nodeEnd},
		},
	}
}

// routeAfterThink consumes the decision the think node computed.
func (r *run) routeAfterThink(*State) nodeID {
	switch r.decision {
	case routeTools:
		return nodeTools
	case routeCorrect:
		return nodeCorrect
	default:
		return nodeFinalize
	}
}

// routeToThink enforces the two termination guards before the loop re-enters
// think: the hard iteration cap and retry exhaustion with an outstanding
// error.
func (r *run) routeToThink(st *State) nodeID {
	if st.Iteration >= r.engine.config.MaxIterations {
		r.engine.logger.Warn("run %s: iteration cap reached (%d)", st.ThreadID, st.Iteration)
		return nodeFinalize
	}
	if st.ErrorInfo != "" && st.RetryCount >= r.engine.config.MaxRetries {
		r.engine.logger.Warn("run %s: retries exhausted: %s", st.ThreadID, st.ErrorInfo)
		return nodeFinalize
	}
	return nodeThink
}

// loadContext seeds the transcript. The user query is redacted before it can
// reach the model; the redaction map lives only inside this run.
func (r *run) loadContext(ctx context.Context, st *State) (Delta, error) {
	r.tracker.UpdatePhase(recovery.PhaseInit, string(nodeLoadContext))
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: thinkSystemPrompt},
	}
	if st.UserContext != "" {
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: "Context about the user:\n" + r.redactor.Redact(st.UserContext),
		})
	}
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: r.redactor.Redact(st.UserQuery),
	})
	return Delta{Messages: messages}, nil
}

func (r *run) plan(ctx context.Context, st *State) (Delta, error) {
	r.tracker.UpdatePhase(recovery.PhasePlanning, string(nodePlan))
	goal, tasks := r.engine.planner.Plan(ctx, r.redactor.Redact(st.UserQuery), r.redactor.Redact(st.UserContext))
	r.tracker.SetTasks(taskViews(tasks))
	r.emit(Event{Type: EventTodoUpdate, Tasks: tasks})
	return Delta{Goal: stringPtr(goal), Tasks: tasks}, nil
}

// think invokes the reasoning model over the (possibly compressed)
// transcript with all tools bound, then classifies the response to pick the
// next node.
func (r *run) think(ctx context.Context, st *State) (Delta, error) {
	r.tracker.UpdatePhase(recovery.PhaseThinking, string(nodeThink))
	r.emit(Event{Type: EventThinking, Node: string(nodeThink)})
	r.emit(Event{
		Type:          EventIteration,
		Iteration:     st.Iteration + 1,
		MaxIterations: r.engine.config.MaxIterations,
	})

	messages := r.assemblePrompt(st.Messages)
	prompt := make([]llm.Message, 0, len(messages)+1)
	prompt = append(prompt, messages...)
	prompt = append(prompt, llm.Message{Role: llm.RoleSystem, Content: thinkStatusPrompt(st)})
	req := llm.CompletionRequest{
		Messages:    prompt,
		Tools:       r.engine.registry.Definitions(),
		Temperature: r.engine.config.Temperature,
	}

	result := llm.InvokeWithFallback(ctx, r.engine.pool, req, r.fallbackOptions())
	if !result.Success {
		r.decision = routeCorrect
		r.correction = correctModelError
		r.emit(Event{Type: EventError, Node: string(nodeThink), Error: result.Err.Error()})
		return Delta{
			IterationDelta: 1,
			RetryDelta:     1,
			ErrorInfo:      stringPtr(fmt.Sprintf("reasoning model failed: %v", result.Err)),
		}, nil
	}

	resp := result.Response
	delta := Delta{
		IterationDelta: 1,
		Model:          stringPtr(result.ModelUsed),
		Usage:          &resp.Usage,
		Messages: []llm.Message{{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}},
	}

	switch classifyThinkResponse(resp) {
	case routeTools:
		r.decision = routeTools
		delta.PendingCalls = resp.ToolCalls
	case routeCorrect:
		r.decision = routeCorrect
		if looksLikeRawJSON(resp.Content) {
			r.correction = correctRawJSON
		} else {
			r.correction = correctNarration
		}
	default:
		r.decision = routeFinalize
		r.tracker.UpdatePartialResponse(resp.Content)
	}
	return delta, nil
}

// executeTools fans the pending batch out through the executor. The raw
// executions are held on the run for fold_results to convert.
func (r *run) executeTools(ctx context.Context, st *State) (Delta, error) {
	r.tracker.UpdatePhase(recovery.PhaseTools, string(nodeTools))
	for _, call := range st.PendingCalls {
		r.emit(Event{
			Type:       EventToolCall,
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Input:      call.Arguments,
		})
	}

	started := time.Now()
	r.executions = r.executor.ExecuteBatch(ctx, st.PendingCalls)
	elapsed := time.Since(started).Seconds()

	for _, execution := range r.executions {
		var output any
		if execution.Result != nil {
			output = execution.Result.Output
		}
		r.emit(Event{
			Type:       EventToolResult,
			ToolName:   execution.ToolName,
			ToolCallID: execution.CallID,
			Success:    execution.Success,
			Output:     output,
			Error:      execution.Error,
		})
		r.engine.metrics.observeTool(execution.ToolName, execution.Success, elapsed)
		r.tracker.RecordToolCompletion(execution.ToolName, output, execution.Success)
	}
	return Delta{ClearPending: true}, nil
}

// foldResults converts raw executions into ToolOutput records plus tool-role
// transcript messages, then applies the circuit breakers over the whole log.
func (r *run) foldResults(ctx context.Context, st *State) (Delta, error) {
	r.tracker.UpdatePhase(recovery.PhaseProcessing, string(nodeFold))

	maxLen := r.engine.maxToolOutputLen()
	outputs := make([]ToolOutput, 0, len(r.executions))
	messages := make([]llm.Message, 0, len(r.executions))
	allSucceeded := true
	firstError := ""
	for _, execution := range r.executions {
		output := toToolOutput(execution)
		outputs = append(outputs, output)
		messages = append(messages, r.toolMessage(execution, maxLen))
		if !output.Success {
			allSucceeded = false
			if firstError == "" {
				firstError = output.ErrorMessage
			}
		}
	}
	r.executions = nil

	delta := Delta{
		Outputs:         outputs,
		Messages:        messages,
		LastBatch:       outputs,
		LastToolSuccess: boolPtr(allSucceeded),
	}

	if msg := checkBreakers(append(append([]ToolOutput{}, st.Outputs...), outputs...)); msg != "" {
		r.engine.logger.Warn("run %s: circuit breaker: %s", st.ThreadID, msg)
		r.tracker.AddWarning(msg)
		r.emit(Event{Type: EventError, Node: string(nodeFold), Error: msg})
		delta.ErrorInfo = stringPtr(msg)
		delta.RetrySet = intPtr(r.engine.config.MaxRetries)
		return delta, nil
	}

	if allSucceeded {
		delta.ErrorInfo = stringPtr("")
		delta.RetrySet = intPtr(0)
	} else {
		// ErrorInfo feeds later prompts, so it gets the same scrub as the
		// tool messages.
		delta.ErrorInfo = stringPtr(r.redactor.Redact(firstError))
		delta.RetryDelta = 1
	}
	return delta, nil
}

// advance moves the task list forward: the in-progress task completes on
// batch success or fails once retries are spent, and the next pending task
// is promoted. At most one task is in progress at any time.
func (r *run) advance(ctx context.Context, st *State) (Delta, error) {
	current := st.CurrentTask()
	if current == nil {
		return Delta{}, nil
	}

	var changed []Task
	now := time.Now().UTC()
	promote := false
	if st.LastToolSuccess {
		done := *current
		done.Status = TaskCompleted
		done.CompletedAt = &now
		changed = append(changed, done)
		promote = true
	} else if st.RetryCount >= r.engine.config.MaxRetries {
		failed := *current
		failed.Status = TaskFailed
		failed.CompletedAt = &now
		failed.ErrorMessage = st.ErrorInfo
		changed = append(changed, failed)
		promote = true
	}
	if promote {
		if next := st.NextPending(); next != nil {
			promoted := *next
			promoted.Status = TaskInProgress
			changed = append(changed, promoted)
		}
	}
	if len(changed) == 0 {
		return Delta{}, nil
	}

	preview := State{Tasks: append([]Task(nil), st.Tasks...)}
	for _, task := range changed {
		preview.mergeTask(task)
	}
	r.tracker.SetTasks(taskViews(preview.Tasks))
	r.emit(Event{Type: EventTodoUpdate, Tasks: preview.Tasks})
	return Delta{Tasks: changed}, nil
}

// selfCorrect injects a corrective instruction matched to what went wrong
// and loops back to think.
func (r *run) selfCorrect(ctx context.Context, st *State) (Delta, error) {
	var instruction string
	switch r.correction {
	case correctRawJSON:
		instruction = correctionRawJSON
	case correctNarration:
		instruction = correctionNarration
	default:
		instruction = "The previous step failed: " + st.ErrorInfo + "\nTry again or answer with what you have."
	}
	r.correction = correctNone

	r.emit(Event{Type: EventReflection, Message: instruction, RetryCount: st.RetryCount})
	return Delta{Messages: []llm.Message{{Role: llm.RoleUser, Content: instruction}}}, nil
}

// finalize produces the final answer. The last assistant turn passes through
// when it is substantial; otherwise the model gets one synthesis call with
// zero tools bound, then one regeneration, and the recovery manager covers
// everything past that. The answer is never empty.
func (r *run) finalize(ctx context.Context, st *State) (Delta, error) {
	r.tracker.UpdatePhase(recovery.PhaseFinalizing, string(nodeFinalize))

	candidate := lastAssistantText(st.Messages)
	if !substantialContent(candidate) {
		candidate = r.synthesize(ctx, st)
	}
	if !substantialContent(candidate) {
		candidate = r.synthesize(ctx, st)
	}
	if !substantialContent(candidate) {
		r.engine.logger.Warn("run %s: finalize produced no usable text, recovering", st.ThreadID)
		r.engine.metrics.observeRecovery()
		r.recovered = true
		candidate = r.tracker.GenerateResponse()
	}

	final := r.redactor.Restore(candidate)
	r.emit(Event{Type: EventFinalize, Message: final})
	return Delta{FinalResponse: stringPtr(final)}, nil
}

func (r *run) synthesize(ctx context.Context, st *State) string {
	messages := r.assemblePrompt(st.Messages)
	prompt := make([]llm.Message, 0, len(messages)+1)
	prompt = append(prompt, messages...)
	prompt = append(prompt, llm.Message{Role: llm.RoleSystem, Content: finalizeSystemPrompt})
	req := llm.CompletionRequest{
		Messages:    prompt,
		Temperature: r.engine.config.Temperature,
	}
	result := llm.InvokeWithFallback(ctx, r.engine.pool, req, r.fallbackOptions())
	if !result.Success {
		r.tracker.AddWarning(fmt.Sprintf("final synthesis failed: %v", result.Err))
		return ""
	}
	r.tracker.UpdatePartialResponse(result.Response.Content)
	return result.Response.Content
}

// assemblePrompt compresses the transcript when it is over threshold and
// then enforces the whole-prompt character bound.
func (r *run) assemblePrompt(messages []llm.Message) []llm.Message {
	if r.engine.optimizer == nil {
		return messages
	}
	if r.engine.optimizer.ShouldCompress(messages) {
		messages = r.engine.optimizer.Optimize(messages)
	}
	return r.engine.optimizer.TrimTotal(messages)
}

func (r *run) fallbackOptions() llm.FallbackOptions {
	opts := r.engine.fallbackOpts
	opts.OnFallback = func(from, to string, err error) {
		r.engine.metrics.observeFallback()
		r.tracker.AddWarning(fmt.Sprintf("model fallback %s -> %s: %v", from, to, err))
	}
	return opts
}

// substantialContent is the finalizer's quality gate: enough text to be an
// answer and not leaked structured data.
func substantialContent(content string) bool {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) <= 50 {
		return false
	}
	return !looksLikeRawJSON(trimmed)
}

func lastAssistantText(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != llm.RoleAssistant {
			continue
		}
		if len(msg.ToolCalls) > 0 {
			continue
		}
		return msg.Content
	}
	return ""
}

func toToolOutput(execution tools.Execution) ToolOutput {
	output := ToolOutput{
		ToolName:     execution.ToolName,
		ToolCallID:   execution.CallID,
		Input:        execution.Input,
		Success:      execution.Success,
		ErrorMessage: execution.Error,
		Timestamp:    execution.Timestamp,
	}
	if execution.Result != nil {
		output.Output = execution.Result.Output
		output.Records = execution.Result.Records
	}
	return output
}

// toolMessage renders one execution as a tool-role transcript turn. The
// content passes the redactor on its way in: tool results carry the same PII
// the user query can, and the model must only ever see placeholders.
// Restore applies to the final answer alone.
func (r *run) toolMessage(execution tools.Execution, maxLen int) llm.Message {
	content := ""
	if execution.Success && execution.Result != nil {
		content = contextopt.CompressToolOutputString(execution.Result.Output, maxLen)
	} else {
		content = "tool failed: " + execution.Error
	}
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    r.redactor.Redact(content),
		ToolCallID: execution.CallID,
		Name:       execution.ToolName,
	}
}

func taskViews(tasks []Task) []recovery.TaskView {
	views := make([]recovery.TaskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, recovery.TaskView{
			Description: task.Description,
			Status:      string(task.Status),
		})
	}
	return views
}
