package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Circuit breakers detect non-progress in the tool loop. Each returns an
// explanatory message when tripped; fold_results turns that into a forced
// finalize by exhausting the retry budget.

const (
	semanticWindow    = 5
	semanticThreshold = 4
	stalledThreshold  = 3
)

// checkBreakers inspects the full output log after the newest batch was
// appended. history is ordered oldest first.
func checkBreakers(history []ToolOutput) string {
	if msg := exactRepeat(history); msg != "" {
		return msg
	}
	if msg := semanticRepeat(history); msg != "" {
		return msg
	}
	if msg := stalledSearch(history); msg != "" {
		return msg
	}
	return ""
}

// exactRepeat trips when the newest call repeats the immediately preceding
// call's name and input verbatim.
func exactRepeat(history []ToolOutput) string {
	if len(history) < 2 {
		return ""
	}
	last := history[len(history)-1]
	prev := history[len(history)-2]
	if last.ToolName != prev.ToolName {
		return ""
	}
	if canonicalInput(last.Input) != canonicalInput(prev.Input) {
		return ""
	}
	return fmt.Sprintf("loop detected: %s called twice in a row with identical input", last.ToolName)
}

// semanticRepeat trips when one tool dominates the recent window even with
// varying inputs.
func semanticRepeat(history []ToolOutput) string {
	if len(history) < semanticThreshold {
		return ""
	}
	window := history
	if len(window) > semanticWindow {
		window = window[len(window)-semanticWindow:]
	}
	counts := map[string]int{}
	for _, output := range window {
		counts[output.ToolName]++
		if counts[output.ToolName] >= semanticThreshold {
			return fmt.Sprintf("repeated tool without progress: %s called %d times in the last %d calls",
				output.ToolName, counts[output.ToolName], len(window))
		}
	}
	return ""
}

// stalledSearch trips after three consecutive zero-result search calls.
func stalledSearch(history []ToolOutput) string {
	streak := 0
	for i := len(history) - 1; i >= 0; i-- {
		output := history[i]
		if !isSearchTool(output.ToolName) {
			break
		}
		if !output.Success || output.Records > 0 {
			break
		}
		streak++
		if streak >= stalledThreshold {
			return "no results after repeated searches, try a different approach"
		}
	}
	return ""
}

func isSearchTool(name string) bool {
	return strings.Contains(name, "search")
}

// canonicalInput produces a comparable form of a tool input. JSON marshaling
// sorts map keys, so logically equal inputs compare equal.
func canonicalInput(input map[string]any) string {
	if len(input) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return string(raw)
}
