package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"scout/internal/llm"
)

func plannerPool(t *testing.T, client llm.Client) *llm.Pool {
	t.Helper()
	pool, err := llm.NewPool(func(string) (llm.Client, error) { return client, nil }, nil)
	require.NoError(t, err)
	return pool
}

func TestParsePlanPlainJSON(t *testing.T) {
	doc, err := parsePlan(`{"goal": "research", "tasks": [{"description": "Compare competitors"}]}`)
	require.NoError(t, err)
	require.Equal(t, GoalResearch, doc.Goal)
	require.Len(t, doc.Tasks, 1)
}

func TestParsePlanStripsCodeFences(t *testing.T) {
	content := "Here is the plan:\n```json\n{\"goal\": \"drafting\", \"tasks\": [{\"description\": \"Write the email\"}]}\n```"
	doc, err := parsePlan(content)
	require.NoError(t, err)
	require.Equal(t, GoalDrafting, doc.Goal)
}

func TestParsePlanRepairsDamagedJSON(t *testing.T) {
	content := `{goal: 'lead_generation', tasks: [{description: 'Find textile companies'},]}`
	doc, err := parsePlan(content)
	require.NoError(t, err)
	require.Equal(t, GoalLeadGeneration, doc.Goal)
	require.Equal(t, "Find textile companies", doc.Tasks[0].Description)
}

func TestParsePlanRejectsEmpty(t *testing.T) {
	_, err := parsePlan("   ")
	require.Error(t, err)
}

func TestPlanModelOutput(t *testing.T) {
	client := llm.NewScriptedClient("m1",
		llm.TextStep(`{"goal": "lead_generation", "tasks": [{"description": "Search"}, {"description": "Summarize"}]}`))
	planner := NewPlanner(plannerPool(t, client), llm.FallbackOptions{PreferredModel: "m1"}, nil)

	goal, tasks := planner.Plan(context.Background(), "find textile companies", "")

	require.Equal(t, GoalLeadGeneration, goal)
	require.Len(t, tasks, 2)
	require.Equal(t, TaskInProgress, tasks[0].Status)
	require.Equal(t, TaskPending, tasks[1].Status)
	require.NotEmpty(t, tasks[0].ID)
}

func TestPlanFallsBackOnModelFailure(t *testing.T) {
	client := llm.NewScriptedClient("m1", llm.ErrStep(errors.New("model exploded")))
	planner := NewPlanner(plannerPool(t, client), llm.FallbackOptions{PreferredModel: "m1"}, nil)

	goal, tasks := planner.Plan(context.Background(), "find companies that could become leads", "")

	require.Equal(t, GoalLeadGeneration, goal)
	require.NotEmpty(t, tasks)
	require.Equal(t, TaskInProgress, tasks[0].Status)
}

func TestPlanFallsBackOnGarbageOutput(t *testing.T) {
	client := llm.NewScriptedClient("m1", llm.TextStep("I cannot produce a plan right now"))
	planner := NewPlanner(plannerPool(t, client), llm.FallbackOptions{PreferredModel: "m1"}, nil)

	goal, tasks := planner.Plan(context.Background(), "research the cement market in Peru", "")

	require.Equal(t, GoalResearch, goal)
	require.NotEmpty(t, tasks)
}

func TestPlanNormalizesUnknownGoal(t *testing.T) {
	client := llm.NewScriptedClient("m1",
		llm.TextStep(`{"goal": "world_domination", "tasks": [{"description": "Do the thing"}]}`))
	planner := NewPlanner(plannerPool(t, client), llm.FallbackOptions{PreferredModel: "m1"}, nil)

	goal, _ := planner.Plan(context.Background(), "do the thing", "")
	require.Equal(t, GoalGeneral, goal)
}

func TestHeuristicPlanGoals(t *testing.T) {
	cases := map[string]string{
		"find companies selling cement":          GoalLeadGeneration,
		"get the email address for the CFO":      GoalContactEnrichment,
		"draft an intro message":                 GoalDrafting,
		"analyze the competitor landscape":       GoalResearch,
		"what time is it":                        GoalGeneral,
	}
	for query, expected := range cases {
		doc := heuristicPlan(query)
		require.Equal(t, expected, doc.Goal, query)
		require.NotEmpty(t, doc.Tasks, query)
	}
}
