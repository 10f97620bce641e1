package orchestrator

import (
	"fmt"
	"strings"
)

const planSystemPrompt = `You are the planning step of a business-research assistant.
Given a user request, respond with ONLY a JSON object of this shape:
{"goal": "<lead_generation|research|contact_enrichment|drafting|general>",
 "tasks": [{"description": "..."}]}
Produce between 1 and 5 concrete, verifiable tasks. No prose, no code fences.`

func planUserPrompt(query, userContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", query)
	if userContext != "" {
		fmt.Fprintf(&b, "\nKnown context about the user:\n%s\n", userContext)
	}
	return b.String()
}

const thinkSystemPrompt = `You are a business-research assistant working through a task list.
Use the available tools to gather facts before answering. Call tools when you
need information; answer in plain text only when you have what you need.
Never describe a tool call in prose instead of making it, and never emit raw
JSON as your answer.`

func thinkStatusPrompt(st *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Iteration %d.\n", st.Iteration)
	if current := st.CurrentTask(); current != nil {
		fmt.Fprintf(&b, "Current task: %s\n", current.Description)
	}
	if pending := pendingCount(st.Tasks); pending > 0 {
		fmt.Fprintf(&b, "Tasks still pending: %d\n", pending)
	}
	if st.ErrorInfo != "" {
		fmt.Fprintf(&b, "Last error: %s\n", st.ErrorInfo)
	}
	return b.String()
}

const finalizeSystemPrompt = `Write the final answer for the user based on the
conversation so far. Summarize what was found, reference concrete results,
and state plainly anything that could not be completed. Plain text or
markdown only; no JSON, no tool calls.`

const correctionRawJSON = `Your previous reply was raw structured data, not an
answer. If you meant to call a tool, call it properly. Otherwise write the
answer as plain text.`

const correctionNarration = `Your previous reply described an action without
taking it. Do not announce tool calls; make the call, or if you already have
what you need, write the final answer.`

func pendingCount(tasks []Task) int {
	n := 0
	for _, task := range tasks {
		if task.Status == TaskPending {
			n++
		}
	}
	return n
}
