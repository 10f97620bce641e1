package orchestrator

import (
	"strings"

	"scout/internal/llm"
)

// routeDecision is the outcome of classifying a think response.
type routeDecision string

const (
	routeTools    routeDecision = "tools"
	routeCorrect  routeDecision = "correct"
	routeFinalize routeDecision = "finalize"
)

// narrationKeywords mark text where the model describes an action instead of
// taking it. Matching is case-insensitive substring; the list is deliberately
// explicit and testable. Known soft spot: keyword matching can misfire on
// legitimate prose, which is why the length guard below limits the blast
// radius to short announcement-style turns.
var narrationKeywords = []string{
	"i will now",
	"i'll now",
	"i will search",
	"i'll search",
	"let me search",
	"let me look",
	"i am going to search",
	"i'm going to search",
	"searching for",
	"looking up",
	"calling the",
	"voy a buscar",
	"voy a consultar",
	"procedo a buscar",
	"déjame buscar",
}

// narrationMaxLen bounds the narration check; long answers that happen to
// contain a keyword are treated as real content.
const narrationMaxLen = 500

// looksLikeRawJSON reports whether content is structured tool-call data
// leaked into the text channel.
func looksLikeRawJSON(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}
	if trimmed[0] != '[' && trimmed[0] != '{' {
		return false
	}
	return strings.Contains(trimmed, "functionCall") || strings.Contains(trimmed, `"name":`)
}

// looksLikeNarration reports whether content is a short announcement of an
// action the model did not take.
func looksLikeNarration(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || len(trimmed) >= narrationMaxLen {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, keyword := range narrationKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// classifyThinkResponse routes the loop after a think step. Tool calls win
// over everything; otherwise a leaked-JSON or narration turn goes to the
// correction node, and real content finalizes.
func classifyThinkResponse(resp *llm.CompletionResponse) routeDecision {
	if resp == nil {
		return routeFinalize
	}
	if resp.HasToolCalls() {
		return routeTools
	}
	if looksLikeRawJSON(resp.Content) || looksLikeNarration(resp.Content) {
		return routeCorrect
	}
	return routeFinalize
}
