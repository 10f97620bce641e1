// Package orchestrator is the engine's control plane: an explicit
// finite-state machine over load_context, plan, think, tools, fold_results,
// advance, self_correct and finalize, with a typed lifecycle event stream
// and a guaranteed final response.
package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"scout/internal/llm"
)

// TaskStatus is the lifecycle of one planned task. Tasks transition, they
// are never deleted.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is one unit of planned work, tracked independently of tool calls.
type Task struct {
	ID           string     `json:"id"`
	Description  string     `json:"description"`
	Status       TaskStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// NewTask creates a pending task.
func NewTask(description string) Task {
	return Task{
		ID:          uuid.New().String(),
		Description: description,
		Status:      TaskPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// ToolOutput is the recorded result of one tool call. The accumulated log of
// these is the engine's working memory; entries are immutable once recorded.
type ToolOutput struct {
	ToolName     string         `json:"tool_name"`
	ToolCallID   string         `json:"tool_call_id"`
	Input        map[string]any `json:"input,omitempty"`
	Output       any            `json:"output,omitempty"`
	Success      bool           `json:"success"`
	Records      int            `json:"records,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// State is the single mutable aggregate threaded through the loop. It is
// owned exclusively by the Engine; nodes receive a read-only view and return
// Delta values the Engine folds in.
type State struct {
	ThreadID        string          `json:"thread_id"`
	UserQuery       string          `json:"user_query"`
	UserContext     string          `json:"user_context,omitempty"`
	Goal            string          `json:"goal,omitempty"`
	Model           string          `json:"model,omitempty"`
	Messages        []llm.Message   `json:"messages"`
	Tasks           []Task          `json:"tasks"`
	Outputs         []ToolOutput    `json:"outputs"`
	Iteration       int             `json:"iteration"`
	RetryCount      int             `json:"retry_count"`
	LastToolSuccess bool            `json:"last_tool_success"`
	ErrorInfo       string          `json:"error_info,omitempty"`
	Usage           llm.TokenUsage  `json:"usage"`
	FinalResponse   string          `json:"final_response,omitempty"`
	PendingCalls    []llm.ToolCall  `json:"-"`
	LastBatch       []ToolOutput    `json:"-"`
}

// Delta is a partial state update returned by a node. Fold semantics mirror
// channel reducers: messages, tasks and outputs append-merge, counters sum,
// scalars replace when their pointer is set.
type Delta struct {
	Messages        []llm.Message
	Tasks           []Task
	Outputs         []ToolOutput
	IterationDelta  int
	RetryDelta      int
	RetrySet        *int
	LastToolSuccess *bool
	ErrorInfo       *string
	Goal            *string
	Model           *string
	Usage           *llm.TokenUsage
	FinalResponse   *string
	PendingCalls    []llm.ToolCall
	ClearPending    bool
	LastBatch       []ToolOutput
}

// Fold applies delta to the state. Tasks merge by ID so a node can transition
// an existing task or append a new one with the same delta.
func (s *State) Fold(delta Delta) {
	s.Messages = append(s.Messages, delta.Messages...)
	s.Outputs = append(s.Outputs, delta.Outputs...)
	for _, task := range delta.Tasks {
		s.mergeTask(task)
	}
	s.Iteration += delta.IterationDelta
	s.RetryCount += delta.RetryDelta
	if delta.RetrySet != nil {
		s.RetryCount = *delta.RetrySet
	}
	if delta.LastToolSuccess != nil {
		s.LastToolSuccess = *delta.LastToolSuccess
	}
	if delta.ErrorInfo != nil {
		s.ErrorInfo = *delta.ErrorInfo
	}
	if delta.Goal != nil {
		s.Goal = *delta.Goal
	}
	if delta.Model != nil {
		s.Model = *delta.Model
	}
	if delta.Usage != nil {
		s.Usage.PromptTokens += delta.Usage.PromptTokens
		s.Usage.CompletionTokens += delta.Usage.CompletionTokens
		s.Usage.TotalTokens += delta.Usage.TotalTokens
	}
	if delta.FinalResponse != nil {
		s.FinalResponse = *delta.FinalResponse
	}
	if delta.ClearPending {
		s.PendingCalls = nil
	}
	if delta.PendingCalls != nil {
		s.PendingCalls = delta.PendingCalls
	}
	if delta.LastBatch != nil {
		s.LastBatch = delta.LastBatch
	}
}

func (s *State) mergeTask(task Task) {
	for i := range s.Tasks {
		if s.Tasks[i].ID == task.ID {
			s.Tasks[i] = task
			return
		}
	}
	s.Tasks = append(s.Tasks, task)
}

// CurrentTask returns the in-progress task, if any.
func (s *State) CurrentTask() *Task {
	for i := range s.Tasks {
		if s.Tasks[i].Status == TaskInProgress {
			return &s.Tasks[i]
		}
	}
	return nil
}

// NextPending returns the first pending task, if any.
func (s *State) NextPending() *Task {
	for i := range s.Tasks {
		if s.Tasks[i].Status == TaskPending {
			return &s.Tasks[i]
		}
	}
	return nil
}

// Snapshot serializes the state for checkpointing.
func (s *State) Snapshot() (json.RawMessage, error) {
	return json.Marshal(s)
}

func stringPtr(s string) *string { return &s }
func boolPtr(b bool) *bool       { return &b }
func intPtr(n int) *int          { return &n }
