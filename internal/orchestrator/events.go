package orchestrator

import "time"

// EventType discriminates lifecycle events. Events travel on their own
// channel, never encoded inline with answer text.
type EventType string

const (
	EventThinking   EventType = "thinking"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventTodoUpdate EventType = "todo_update"
	EventReflection EventType = "reflection"
	EventIteration  EventType = "iteration"
	EventError      EventType = "error"
	EventFinalize   EventType = "finalize"
)

// Event is one typed lifecycle notification. Only the fields relevant to the
// event's Type are populated.
type Event struct {
	Type          EventType      `json:"type"`
	Node          string         `json:"node,omitempty"`
	ToolName      string         `json:"tool_name,omitempty"`
	ToolCallID    string         `json:"tool_call_id,omitempty"`
	Input         map[string]any `json:"input,omitempty"`
	Success       bool           `json:"success,omitempty"`
	Output        any            `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	Tasks         []Task         `json:"tasks,omitempty"`
	Message       string         `json:"message,omitempty"`
	RetryCount    int            `json:"retry_count,omitempty"`
	Iteration     int            `json:"iteration,omitempty"`
	MaxIterations int            `json:"max_iterations,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// EventListener receives lifecycle events in order. The callback runs on the
// engine's goroutine, so listeners must not block.
type EventListener func(Event)

func (r *run) emit(event Event) {
	if r.listener == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	r.listener(event)
}
