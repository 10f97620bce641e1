package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"scout/internal/llm"
	"scout/internal/logging"
)

// Goal classifications assigned by the planner.
const (
	GoalLeadGeneration    = "lead_generation"
	GoalResearch          = "research"
	GoalContactEnrichment = "contact_enrichment"
	GoalDrafting          = "drafting"
	GoalGeneral           = "general"
)

// planDocument is the JSON shape the planning model is asked to emit.
type planDocument struct {
	Goal  string `json:"goal"`
	Tasks []struct {
		Description string `json:"description"`
	} `json:"tasks"`
}

// Planner turns a user request into a goal classification and a task list.
// It always yields at least one task: malformed model output falls back to a
// deterministic keyword plan.
type Planner struct {
	pool   *llm.Pool
	opts   llm.FallbackOptions
	logger logging.Logger
}

func NewPlanner(pool *llm.Pool, opts llm.FallbackOptions, logger logging.Logger) *Planner {
	return &Planner{pool: pool, opts: opts, logger: logging.OrNop(logger)}
}

// Plan asks the model for a plan and parses it, falling back to the keyword
// heuristic so the loop always starts with a task. The first task comes back
// already in progress.
func (p *Planner) Plan(ctx context.Context, query, userContext string) (string, []Task) {
	doc := p.modelPlan(ctx, query, userContext)
	if doc == nil || len(doc.Tasks) == 0 {
		p.logger.Warn("planner: falling back to heuristic plan")
		doc = heuristicPlan(query)
	}
	if !validGoal(doc.Goal) {
		doc.Goal = GoalGeneral
	}

	tasks := make([]Task, 0, len(doc.Tasks))
	for _, entry := range doc.Tasks {
		description := strings.TrimSpace(entry.Description)
		if description == "" {
			continue
		}
		tasks = append(tasks, NewTask(description))
	}
	if len(tasks) == 0 {
		tasks = append(tasks, NewTask("Answer the request directly"))
	}
	tasks[0].Status = TaskInProgress
	return doc.Goal, tasks
}

func (p *Planner) modelPlan(ctx context.Context, query, userContext string) *planDocument {
	req := llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: planSystemPrompt},
			{Role: llm.RoleUser, Content: planUserPrompt(query, userContext)},
		},
	}
	result := llm.InvokeWithFallback(ctx, p.pool, req, p.opts)
	if !result.Success {
		p.logger.Warn("planner: model call failed: %v", result.Err)
		return nil
	}
	doc, err := parsePlan(result.Response.Content)
	if err != nil {
		p.logger.Warn("planner: unparseable plan: %v", err)
		return nil
	}
	return doc
}

// parsePlan extracts the plan JSON from model output: fences stripped first,
// then a straight unmarshal, then a repair pass for trailing commas, single
// quotes and similar damage.
func parsePlan(content string) (*planDocument, error) {
	raw := stripCodeFences(content)
	if raw == "" {
		return nil, fmt.Errorf("empty plan")
	}
	var doc planDocument
	if err := json.Unmarshal([]byte(raw), &doc); err == nil {
		return &doc, nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("repair plan json: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal repaired plan: %w", err)
	}
	return &doc, nil
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if idx := strings.Index(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[idx+3:]
		trimmed = strings.TrimPrefix(trimmed, "json")
		if end := strings.Index(trimmed, "```"); end >= 0 {
			trimmed = trimmed[:end]
		}
	}
	return strings.TrimSpace(trimmed)
}

// goalKeywords drive the deterministic fallback plan. Order matters: the
// first matching goal wins.
var goalKeywords = []struct {
	goal     string
	keywords []string
}{
	{GoalLeadGeneration, []string{"lead", "prospect", "find companies", "find clients", "potential customer", "empresas"}},
	{GoalContactEnrichment, []string{"contact", "email address", "phone number", "reach out", "decision maker"}},
	{GoalDrafting, []string{"draft", "write an email", "write a message", "compose", "outreach message"}},
	{GoalResearch, []string{"research", "analyze", "market", "competitor", "industry", "compare"}},
}

// heuristicPlan builds a plan without the model. It backs the planner when
// the model emits garbage, so the output must always contain a task.
func heuristicPlan(query string) *planDocument {
	lower := strings.ToLower(query)
	goal := GoalGeneral
	for _, entry := range goalKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(lower, keyword) {
				goal = entry.goal
				break
			}
		}
		if goal != GoalGeneral {
			break
		}
	}

	doc := &planDocument{Goal: goal}
	add := func(description string) {
		doc.Tasks = append(doc.Tasks, struct {
			Description string `json:"description"`
		}{Description: description})
	}
	switch goal {
	case GoalLeadGeneration:
		add("Search for companies matching the request")
		add("Summarize the most relevant matches")
	case GoalContactEnrichment:
		add("Look up contact details for the requested companies")
		add("Summarize the contacts found")
	case GoalDrafting:
		add("Gather context needed for the draft")
		add("Write the requested draft")
	case GoalResearch:
		add("Search for information relevant to the request")
		add("Synthesize the findings into an answer")
	default:
		add("Answer the request directly")
	}
	return doc
}

func validGoal(goal string) bool {
	switch goal {
	case GoalLeadGeneration, GoalResearch, GoalContactEnrichment, GoalDrafting, GoalGeneral:
		return true
	}
	return false
}
