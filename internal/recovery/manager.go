// Package recovery tracks in-flight progress so a best-effort answer can be
// synthesized from whatever work completed. It is the engine's unconditional
// fallback: whenever normal finalization yields no text, the manager does.
package recovery

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"scout/internal/logging"
)

// Phase identifies where in the run the engine currently is.
type Phase string

const (
	PhaseInit       Phase = "init"
	PhasePlanning   Phase = "planning"
	PhaseThinking   Phase = "thinking"
	PhaseTools      Phase = "tools"
	PhaseProcessing Phase = "processing"
	PhaseFinalizing Phase = "finalizing"
)

// ToolRecord is one completed tool invocation, success or failure.
type ToolRecord struct {
	ToolName string
	Output   any
	Success  bool
}

// TaskView is the slice of task state the recovery report needs.
type TaskView struct {
	Description string
	Status      string
}

// Manager is an in-process progress tracker. It is never persisted; its only
// consumer is GenerateResponse.
type Manager struct {
	mu         sync.Mutex
	userQuery  string
	phase      Phase
	lastNode   string
	completed  []string
	outputs    []ToolRecord
	tasks      []TaskView
	partial    string
	warnings   []string
	lastUpdate time.Time
	logger     logging.Logger
}

func NewManager(userQuery string, logger logging.Logger) *Manager {
	return &Manager{
		userQuery:  userQuery,
		phase:      PhaseInit,
		lastUpdate: time.Now(),
		logger:     logging.OrNop(logger),
	}
}

// UpdatePhase records a phase transition and the node that drove it.
func (m *Manager) UpdatePhase(phase Phase, node string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = phase
	if node != "" {
		m.lastNode = node
	}
	m.lastUpdate = time.Now()
}

// RecordToolCompletion appends one finished tool call.
func (m *Manager) RecordToolCompletion(toolName string, output any, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, toolName)
	m.outputs = append(m.outputs, ToolRecord{ToolName: toolName, Output: output, Success: success})
	m.lastUpdate = time.Now()
}

// SetTasks replaces the tracked task list.
func (m *Manager) SetTasks(tasks []TaskView) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append([]TaskView(nil), tasks...)
	m.lastUpdate = time.Now()
}

// UpdatePartialResponse keeps the longest response text seen so far.
func (m *Manager) UpdatePartialResponse(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(text) > len(m.partial) {
		m.partial = text
	}
	m.lastUpdate = time.Now()
}

// AddWarning records a free-text warning for the report.
func (m *Manager) AddWarning(warning string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnings = append(m.warnings, warning)
}

// Stalled reports whether no progress has been recorded within threshold.
func (m *Manager) Stalled(threshold time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.lastUpdate) > threshold
}

// Phase returns the current phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// CompletedTools returns the names of finished tool calls in order.
func (m *Manager) CompletedTools() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.completed...)
}

// GenerateResponse deterministically synthesizes output from captured
// progress. It never returns an empty string.
func (m *Manager) GenerateResponse() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("generating recovery response: phase=%s tools=%d partial=%d chars",
		m.phase, len(m.outputs), len(m.partial))

	// Nothing happened: apologize and suggest a retry.
	if len(m.outputs) == 0 && m.partial == "" {
		return m.apology()
	}

	// A substantial partial answer exists: return it, flagged.
	if len(m.partial) > 100 {
		return m.partial + "\n\n---\n*Note: this response may be incomplete. " +
			"The request was interrupted before it could finish; ask me to continue if anything is missing.*"
	}

	return m.partialReport()
}

func (m *Manager) apology() string {
	var b strings.Builder
	b.WriteString("I wasn't able to complete your request this time.\n\n")
	if m.userQuery != "" {
		b.WriteString(fmt.Sprintf("Your request: %q\n\n", m.userQuery))
	}
	b.WriteString("You can try:\n")
	b.WriteString("- Asking again; transient service issues often clear on retry\n")
	b.WriteString("- Breaking the request into smaller, more specific questions\n")
	b.WriteString("- Narrowing the search criteria (region, industry, company size)\n")
	return b.String()
}

func (m *Manager) partialReport() string {
	var b strings.Builder
	b.WriteString("## Partial Results\n\n")
	b.WriteString("The request could not be fully completed, but here is what was found:\n\n")

	if len(m.outputs) > 0 {
		b.WriteString("### Completed actions\n")
		for _, record := range m.outputs {
			marker := "done"
			if !record.Success {
				marker = "failed"
			}
			b.WriteString(fmt.Sprintf("- %s (%s)\n", record.ToolName, marker))
		}
		b.WriteString("\n")
	}

	for _, record := range m.outputs {
		if !record.Success {
			continue
		}
		if table := companyTable(record.Output); table != "" {
			b.WriteString(fmt.Sprintf("### Results from %s\n", record.ToolName))
			b.WriteString(table)
			b.WriteString("\n")
		}
	}

	var pending []TaskView
	for _, task := range m.tasks {
		if task.Status == "pending" || task.Status == "in_progress" {
			pending = append(pending, task)
		}
	}
	if len(pending) > 0 {
		b.WriteString("### Still pending\n")
		for _, task := range pending {
			b.WriteString(fmt.Sprintf("- %s\n", task.Description))
		}
		b.WriteString("\n")
	}

	if len(m.warnings) > 0 {
		b.WriteString("### Warnings\n")
		warnings := m.warnings
		if len(warnings) > 3 {
			warnings = warnings[:3]
		}
		for _, warning := range warnings {
			b.WriteString(fmt.Sprintf("- %s\n", warning))
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}
