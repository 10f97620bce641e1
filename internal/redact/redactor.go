package redact

import (
	"fmt"
	"strings"
	"sync"

	"scout/internal/logging"
)

// Map holds the placeholder-to-original mapping for one conversation turn.
// It lives only in memory, is reset between turns, and is never written to
// a checkpoint or a log line.
type Map struct {
	mu          sync.Mutex
	byPlaceholder map[string]string
	byValue       map[string]string
	counters      map[string]int
}

func NewMap() *Map {
	return &Map{
		byPlaceholder: make(map[string]string),
		byValue:       make(map[string]string),
		counters:      make(map[string]int),
	}
}

// Placeholder returns the placeholder for value, minting a new one per PII
// type on first sight. The same value always maps to the same placeholder
// within one turn.
func (m *Map) Placeholder(piiType, value string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if placeholder, ok := m.byValue[value]; ok {
		return placeholder
	}
	m.counters[piiType]++
	placeholder := fmt.Sprintf("[%s_REDACTED_%d]", piiType, m.counters[piiType])
	m.byPlaceholder[placeholder] = value
	m.byValue[value] = placeholder
	return placeholder
}

// Original returns the value behind placeholder.
func (m *Map) Original(placeholder string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.byPlaceholder[placeholder]
	return value, ok
}

// Len reports the number of distinct redacted values.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byPlaceholder)
}

// Reset drops every stored mapping.
func (m *Map) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byPlaceholder = make(map[string]string)
	m.byValue = make(map[string]string)
	m.counters = make(map[string]int)
}

// Redactor applies an ordered rule set to outbound text and restores
// originals on inbound tool input for an allowlisted subset of tools.
type Redactor struct {
	rules     []Rule
	mapping   *Map
	allowlist map[string]bool
	logger    logging.Logger
}

// NewRedactor builds a redactor over rules. restoreFor names the tools that
// must see real values (company lookups querying by national ID); every
// other tool receives placeholders untouched.
func NewRedactor(rules []Rule, restoreFor []string, logger logging.Logger) *Redactor {
	allowlist := make(map[string]bool, len(restoreFor))
	for _, name := range restoreFor {
		allowlist[name] = true
	}
	return &Redactor{
		rules:     rules,
		mapping:   NewMap(),
		allowlist: allowlist,
		logger:    logging.OrNop(logger),
	}
}

// Redact replaces every recognized PII match in text with a placeholder and
// records the mapping.
func (r *Redactor) Redact(text string) string {
	for _, rule := range r.rules {
		text = rule.Pattern.ReplaceAllStringFunc(text, func(match string) string {
			if strings.Contains(match, "_REDACTED_") {
				return match
			}
			if rule.Validate != nil && !rule.Validate(match) {
				return match
			}
			placeholder := r.mapping.Placeholder(rule.Type, match)
			r.logger.Debug("redacted one %s value", rule.Type)
			return placeholder
		})
	}
	return text
}

// Restore replaces every known placeholder in text with its original value.
func (r *Redactor) Restore(text string) string {
	r.mapping.mu.Lock()
	defer r.mapping.mu.Unlock()
	for placeholder, value := range r.mapping.byPlaceholder {
		text = strings.ReplaceAll(text, placeholder, value)
	}
	return text
}

// ProcessToolInput restores originals inside input for allowlisted tools and
// passes everything else through untouched. The input map is never mutated.
func (r *Redactor) ProcessToolInput(toolName string, input map[string]any) map[string]any {
	if !r.allowlist[toolName] {
		return input
	}
	restored, _ := r.restoreValue(input).(map[string]any)
	return restored
}

func (r *Redactor) restoreValue(value any) any {
	switch v := value.(type) {
	case string:
		return r.Restore(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			out[key] = r.restoreValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = r.restoreValue(inner)
		}
		return out
	default:
		return value
	}
}

// Reset clears the mapping between conversation turns.
func (r *Redactor) Reset() {
	r.mapping.Reset()
}

// MappedValues reports how many distinct values are currently mapped.
func (r *Redactor) MappedValues() int {
	return r.mapping.Len()
}
