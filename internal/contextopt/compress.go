package contextopt

import (
	"encoding/json"
	"fmt"

	"scout/internal/llm"
)

const (
	topRecords = 5

	// minTrimKeep is the floor below which TrimTotal never cuts a turn, so
	// trimmed tool output stays parseable as a fragment.
	minTrimKeep = 200
)

// CompressToolOutput shrinks one tool payload before it enters the prompt,
// independent of whole-transcript compression. List-shaped payloads keep the
// top records with a count of what was dropped; long strings are truncated
// with an explicit marker.
func CompressToolOutput(output any, maxLen int) any {
	if maxLen <= 0 {
		return output
	}
	switch v := output.(type) {
	case string:
		return truncate(v, maxLen)
	case []any:
		return compressList(v, maxLen)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			out[key] = CompressToolOutput(inner, maxLen)
		}
		return out
	default:
		return output
	}
}

// CompressToolOutputString renders output as a compact JSON string bounded
// by maxLen, for embedding into a transcript turn.
func CompressToolOutputString(output any, maxLen int) string {
	compressed := CompressToolOutput(output, maxLen)
	encoded, err := json.Marshal(compressed)
	if err != nil {
		return truncate(fmt.Sprintf("%v", compressed), maxLen)
	}
	return truncate(string(encoded), maxLen)
}

func compressList(items []any, maxLen int) []any {
	if len(items) <= topRecords {
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = CompressToolOutput(item, maxLen)
		}
		return out
	}
	out := make([]any, 0, topRecords+1)
	for _, item := range items[:topRecords] {
		out = append(out, CompressToolOutput(item, maxLen))
	}
	out = append(out, fmt.Sprintf("... and %d more records", len(items)-topRecords))
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "... [truncated]"
}

// TrimTotal enforces the whole-prompt character bound by truncating the
// oldest non-user content first. Human turns are never trimmed. The input
// slice is left untouched.
func TrimTotal(messages []llm.Message, maxTotal int) []llm.Message {
	if maxTotal <= 0 {
		return messages
	}
	total := 0
	for _, msg := range messages {
		total += len(msg.Content)
	}
	if total <= maxTotal {
		return messages
	}

	out := make([]llm.Message, len(messages))
	copy(out, messages)
	for i := 0; i < len(out) && total > maxTotal; i++ {
		if out[i].Role == llm.RoleUser {
			continue
		}
		keep := len(out[i].Content) - (total - maxTotal)
		if keep < minTrimKeep {
			keep = minTrimKeep
		}
		trimmed := truncate(out[i].Content, keep)
		if len(trimmed) < len(out[i].Content) {
			total -= len(out[i].Content) - len(trimmed)
			out[i].Content = trimmed
		}
	}
	return out
}
