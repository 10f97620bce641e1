// Package contextopt compresses conversation history and tool-output
// payloads so long-running research sessions stay inside the model's token
// budget. Human-authored turns are never summarized away: losing a follow-up
// question is worse than losing model narration.
package contextopt

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"scout/internal/llm"
	"scout/internal/logging"
)

// Config tunes the optimizer.
type Config struct {
	// MaxMessages is the transcript length that triggers compression.
	MaxMessages int `mapstructure:"max_messages"`
	// PreserveRecent messages at the tail are always kept verbatim.
	PreserveRecent int `mapstructure:"preserve_recent"`
	// MaxToolOutputLen truncates individual tool payload strings.
	MaxToolOutputLen int `mapstructure:"max_tool_output_len"`
	// MaxTotalChars bounds the whole prompt assembly.
	MaxTotalChars int `mapstructure:"max_total_chars"`
	// MaxContextTokens triggers compression on estimated token count even
	// when the transcript is short in messages.
	MaxContextTokens int `mapstructure:"max_context_tokens"`
}

// DefaultConfig returns the tuning used in production.
func DefaultConfig() Config {
	return Config{
		MaxMessages:      15,
		PreserveRecent:   8,
		MaxToolOutputLen: 2000,
		MaxTotalChars:    50000,
		MaxContextTokens: 12000,
	}
}

// Optimizer applies the compression algorithm.
type Optimizer struct {
	config Config
	logger logging.Logger
}

func NewOptimizer(config Config, logger logging.Logger) *Optimizer {
	if config.MaxMessages == 0 {
		config = DefaultConfig()
	}
	return &Optimizer{config: config, logger: logging.OrNop(logger)}
}

// MaxToolOutputLen exposes the per-payload truncation limit.
func (o *Optimizer) MaxToolOutputLen() int {
	return o.config.MaxToolOutputLen
}

// ShouldCompress reports whether the transcript exceeds either threshold:
// the message count, or the estimated token total. A short transcript full
// of bulky tool payloads trips the token gate well before the count gate.
func (o *Optimizer) ShouldCompress(messages []llm.Message) bool {
	if len(messages) > o.config.MaxMessages {
		return true
	}
	return o.config.MaxContextTokens > 0 && EstimateMessageTokens(messages) > o.config.MaxContextTokens
}

// TrimTotal applies the configured whole-prompt character bound.
func (o *Optimizer) TrimTotal(messages []llm.Message) []llm.Message {
	return TrimTotal(messages, o.config.MaxTotalChars)
}

// Optimize compresses the transcript: the first message and the most recent
// PreserveRecent messages survive verbatim; the middle section collapses to
// one synthetic summary turn followed by every human-authored middle turn,
// verbatim and in original order.
func (o *Optimizer) Optimize(messages []llm.Message) []llm.Message {
	if !o.ShouldCompress(messages) {
		return messages
	}

	recentStart := len(messages) - o.config.PreserveRecent
	if recentStart < 1 {
		return messages
	}
	middle := messages[1:recentStart]

	summary := summarizeMiddle(middle)

	out := make([]llm.Message, 0, 2+countHuman(middle)+o.config.PreserveRecent)
	out = append(out, messages[0])
	if summary != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: summary})
	}
	for _, msg := range middle {
		if msg.Role == llm.RoleUser {
			out = append(out, msg)
		}
	}
	out = append(out, messages[recentStart:]...)

	o.logger.Info("compressed transcript %d -> %d messages", len(messages), len(out))
	return out
}

// summarizeMiddle extracts the distinct tool names invoked and the first
// meaningful sentence of each assistant turn from the discarded middle
// section.
func summarizeMiddle(middle []llm.Message) string {
	var toolNames []string
	seenTool := make(map[string]bool)
	var keyPoints []string

	for _, msg := range middle {
		for _, call := range msg.ToolCalls {
			if !seenTool[call.Name] {
				seenTool[call.Name] = true
				toolNames = append(toolNames, call.Name)
			}
		}
		if msg.Role == llm.RoleTool && msg.Name != "" && !seenTool[msg.Name] {
			seenTool[msg.Name] = true
			toolNames = append(toolNames, msg.Name)
		}
		if msg.Role == llm.RoleAssistant {
			if sentence := firstMeaningfulSentence(msg.Content); sentence != "" {
				keyPoints = append(keyPoints, sentence)
			}
		}
	}

	if len(toolNames) == 0 && len(keyPoints) == 0 {
		return ""
	}

	var builder strings.Builder
	builder.WriteString("[Context summary of earlier work]")
	if len(toolNames) > 0 {
		builder.WriteString(fmt.Sprintf("\nTools used: %s", strings.Join(toolNames, ", ")))
	}
	if len(keyPoints) > 0 {
		builder.WriteString("\nKey findings:")
		for _, point := range keyPoints {
			builder.WriteString("\n- ")
			builder.WriteString(point)
		}
	}
	return builder.String()
}

// firstMeaningfulSentence returns the first sentence longer than 20 chars,
// truncated to 100 runes. Short fragments and tool-call shells yield "".
func firstMeaningfulSentence(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	for _, sentence := range strings.FieldsFunc(content, func(r rune) bool {
		return r == '.' || r == '\n' || r == '!' || r == '?'
	}) {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) > 20 {
			runes := []rune(sentence)
			if len(runes) > 100 {
				return string(runes[:100])
			}
			return sentence
		}
	}
	return ""
}

func countHuman(messages []llm.Message) int {
	n := 0
	for _, msg := range messages {
		if msg.Role == llm.RoleUser {
			n++
		}
	}
	return n
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateTokens estimates the token count of text using the cl100k
// encoding, falling back to the chars/4 heuristic when the encoding is
// unavailable (offline environments).
func EstimateTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// EstimateMessageTokens sums EstimateTokens across a transcript.
func EstimateMessageTokens(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg.Content)
	}
	return total
}
