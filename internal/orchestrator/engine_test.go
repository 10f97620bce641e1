package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scout/internal/checkpoint"
	scouterrors "scout/internal/errors"
	"scout/internal/llm"
	"scout/internal/redact"
	"scout/internal/tools"
)

// fakeTool is a scripted tool for engine tests.
type fakeTool struct {
	name    string
	results []*tools.Result
	mu      sync.Mutex
	calls   int
	inputs  []map[string]any
}

func (f *fakeTool) Name() string                { return f.name }
func (f *fakeTool) Description() string         { return "test tool" }
func (f *fakeTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }

func (f *fakeTool) Execute(ctx context.Context, input map[string]any) (*tools.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	idx := f.calls
	f.calls = idx + 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	if idx < 0 {
		return &tools.Result{Success: true}, nil
	}
	return f.results[idx], nil
}

func companyRecords(n int) []any {
	records := make([]any, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, map[string]any{
			"name":      fmt.Sprintf("Company %d", i+1),
			"employees": float64(1000 + i*100),
		})
	}
	return records
}

func newTestEngine(t *testing.T, client llm.Client, registry *tools.Registry, store checkpoint.Store) *Engine {
	t.Helper()
	pool, err := llm.NewPool(func(string) (llm.Client, error) { return client, nil }, nil)
	require.NoError(t, err)

	config := DefaultConfig()
	config.PreferredModel = "scout-test"
	config.ModelRetry = scouterrors.RetryConfig{
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	}
	engine, err := NewEngine(config, Deps{
		Pool:           pool,
		Registry:       registry,
		Store:          store,
		RedactionRules: redact.DefaultRules(),
	})
	require.NoError(t, err)
	return engine
}

func collectEvents() (*[]Event, EventListener) {
	events := &[]Event{}
	return events, func(e Event) { *events = append(*events, e) }
}

func eventsOfType(events []Event, eventType EventType) []Event {
	var matched []Event
	for _, e := range events {
		if e.Type == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

const planJSON = `{"goal": "lead_generation", "tasks": [{"description": "Search for companies with more than 1000 employees"}]}`

func TestRunSearchScenario(t *testing.T) {
	search := &fakeTool{
		name: "search_companies",
		results: []*tools.Result{{
			Success: true,
			Output:  map[string]any{"companies": companyRecords(8)},
			Records: 8,
		}},
	}
	registry := tools.NewRegistry()
	registry.MustRegister(search)

	client := llm.NewScriptedClient("scout-test",
		llm.TextStep(planJSON),
		llm.ToolCallStep(llm.ToolCall{
			ID:        "call-1",
			Name:      "search_companies",
			Arguments: map[string]any{"min_employees": 1000, "region": "X"},
		}),
		llm.TextStep("I found 8 companies with more than 1000 employees in region X. The largest is Company 8."),
	)

	store := checkpoint.NewMemoryStore()
	engine := newTestEngine(t, client, registry, store)
	events, listener := collectEvents()

	result := engine.Run(context.Background(), Request{
		ThreadID: "thread-1",
		Query:    "find companies with more than 1000 employees in region X",
		Listener: listener,
	})

	require.False(t, result.Recovered)
	require.Contains(t, result.Response, "8 companies")

	toolCalls := eventsOfType(*events, EventToolCall)
	require.Len(t, toolCalls, 1)
	require.Equal(t, "search_companies", toolCalls[0].ToolName)
	require.Equal(t, "call-1", toolCalls[0].ToolCallID)

	toolResults := eventsOfType(*events, EventToolResult)
	require.Len(t, toolResults, 1)
	require.True(t, toolResults[0].Success)

	require.NotEmpty(t, eventsOfType(*events, EventFinalize))

	require.Len(t, result.State.Tasks, 1)
	require.Equal(t, TaskCompleted, result.State.Tasks[0].Status)
	require.Len(t, result.State.Outputs, 1)
	require.Equal(t, 8, result.State.Outputs[0].Records)

	// Each node checkpointed the state; the latest snapshot is retrievable.
	tuple, err := store.Get(context.Background(), "thread-1", "")
	require.NoError(t, err)
	require.NotNil(t, tuple)
	require.NotEmpty(t, tuple.Checkpoint.State)
}

func TestRunGuaranteedResponseWhenModelAlwaysFails(t *testing.T) {
	registry := tools.NewRegistry()
	client := llm.NewScriptedClient("scout-test", llm.ErrStep(errors.New("model exploded")))
	engine := newTestEngine(t, client, registry, nil)

	result := engine.Run(context.Background(), Request{Query: "find textile companies"})

	require.True(t, result.Recovered)
	require.NotEmpty(t, result.Response)
	require.Contains(t, result.Response, "wasn't able to complete")
}

func TestRunTaskPromotion(t *testing.T) {
	search := &fakeTool{
		name:    "search_companies",
		results: []*tools.Result{{Success: true, Output: map[string]any{"companies": companyRecords(2)}, Records: 2}},
	}
	registry := tools.NewRegistry()
	registry.MustRegister(search)

	twoTasks := `{"goal": "lead_generation", "tasks": [{"description": "Search"}, {"description": "Summarize"}]}`
	client := llm.NewScriptedClient("scout-test",
		llm.TextStep(twoTasks),
		llm.ToolCallStep(llm.ToolCall{ID: "c1", Name: "search_companies", Arguments: map[string]any{"q": "a"}}),
		llm.TextStep("Both companies are strong leads; here is the summary you asked for in detail."),
	)
	engine := newTestEngine(t, client, registry, nil)
	events, listener := collectEvents()

	result := engine.Run(context.Background(), Request{Query: "find leads", Listener: listener})

	require.False(t, result.Recovered)
	require.Equal(t, TaskCompleted, result.State.Tasks[0].Status)
	require.Equal(t, TaskInProgress, result.State.Tasks[1].Status)

	// Promotion is announced on the event stream.
	updates := eventsOfType(*events, EventTodoUpdate)
	require.GreaterOrEqual(t, len(updates), 2)
	final := updates[len(updates)-1]
	require.Equal(t, TaskInProgress, final.Tasks[1].Status)
}

func TestRunNoTaskStarvation(t *testing.T) {
	registry := tools.NewRegistry()
	for _, name := range []string{"search_companies", "get_company_details", "enrich_company_contacts"} {
		registry.MustRegister(&fakeTool{
			name:    name,
			results: []*tools.Result{{Success: true, Output: map[string]any{"companies": companyRecords(1)}, Records: 1}},
		})
	}

	threeTasks := `{"goal": "lead_generation", "tasks": [
		{"description": "Search"}, {"description": "Inspect"}, {"description": "Enrich"}]}`
	client := llm.NewScriptedClient("scout-test",
		llm.TextStep(threeTasks),
		llm.ToolCallStep(llm.ToolCall{ID: "c1", Name: "search_companies", Arguments: map[string]any{"q": "a"}}),
		llm.ToolCallStep(llm.ToolCall{ID: "c2", Name: "get_company_details", Arguments: map[string]any{"id": "1"}}),
		llm.ToolCallStep(llm.ToolCall{ID: "c3", Name: "enrich_company_contacts", Arguments: map[string]any{"id": "1"}}),
		llm.TextStep("All three steps are done: the company was found, inspected, and enriched with contacts."),
	)
	engine := newTestEngine(t, client, registry, nil)

	result := engine.Run(context.Background(), Request{Query: "find and enrich a lead"})

	require.False(t, result.Recovered)
	require.Len(t, result.State.Tasks, 3)
	for _, task := range result.State.Tasks {
		// Every planned task reached a terminal state; none starved.
		require.Equal(t, TaskCompleted, task.Status, task.Description)
	}
}

func TestRunLoopBreakerForcesRecovery(t *testing.T) {
	search := &fakeTool{
		name:    "search_companies",
		results: []*tools.Result{{Success: true, Output: map[string]any{"companies": companyRecords(3)}, Records: 3}},
	}
	registry := tools.NewRegistry()
	registry.MustRegister(search)

	repeated := llm.ToolCallStep(llm.ToolCall{
		ID:        "c1",
		Name:      "search_companies",
		Arguments: map[string]any{"query": "textiles"},
	})
	client := llm.NewScriptedClient("scout-test", llm.TextStep(planJSON), repeated, repeated)
	engine := newTestEngine(t, client, registry, nil)
	events, listener := collectEvents()

	result := engine.Run(context.Background(), Request{Query: "find textile companies", Listener: listener})

	require.NotEmpty(t, result.Response)
	require.True(t, result.Recovered)
	require.Contains(t, result.Response, "Partial Results")

	errs := eventsOfType(*events, EventError)
	require.NotEmpty(t, errs)
	require.Contains(t, errs[0].Error, "loop detected")
}

func TestRunNarrationCorrection(t *testing.T) {
	registry := tools.NewRegistry()
	client := llm.NewScriptedClient("scout-test",
		llm.TextStep(`{"goal": "general", "tasks": [{"description": "Answer"}]}`),
		llm.TextStep("Let me search for that information."),
		llm.TextStep("The textile sector in Quito grew 12% last year, led by export-focused manufacturers."),
	)
	engine := newTestEngine(t, client, registry, nil)
	events, listener := collectEvents()

	result := engine.Run(context.Background(), Request{Query: "how is the textile sector doing", Listener: listener})

	require.False(t, result.Recovered)
	require.Contains(t, result.Response, "textile sector in Quito")

	reflections := eventsOfType(*events, EventReflection)
	require.Len(t, reflections, 1)
	require.Contains(t, reflections[0].Message, "described an action")
}

func TestRunRedactsQueryAndRestoresAnswer(t *testing.T) {
	lookup := &fakeTool{
		name:    "search_companies",
		results: []*tools.Result{{Success: true, Output: map[string]any{"companies": companyRecords(1)}, Records: 1}},
	}
	registry := tools.NewRegistry()
	registry.MustRegister(lookup)

	client := llm.NewScriptedClient("scout-test",
		llm.TextStep(planJSON),
		llm.ToolCallStep(llm.ToolCall{ID: "c1", Name: "search_companies", Arguments: map[string]any{"q": "x"}}),
		llm.TextStep("The company you asked about, [RUC_REDACTED_1], checks out and looks like a viable lead."),
	)
	engine := newTestEngine(t, client, registry, nil)

	result := engine.Run(context.Background(), Request{
		Query: "check the company with RUC 0990012345001",
	})

	// The model never saw the raw identifier.
	for _, req := range client.Requests {
		for _, msg := range req.Messages {
			require.NotContains(t, msg.Content, "0990012345001")
		}
	}
	// The user gets it back.
	require.Contains(t, result.Response, "0990012345001")
}

func TestRunRedactsToolOutputBeforeModel(t *testing.T) {
	enrich := &fakeTool{
		name: "enrich_company_contacts",
		results: []*tools.Result{{
			Success: true,
			Output:  map[string]any{"email": "ceo@empresa.ec", "role": "CEO"},
			Records: 1,
		}},
	}
	registry := tools.NewRegistry()
	registry.MustRegister(enrich)

	client := llm.NewScriptedClient("scout-test",
		llm.TextStep(`{"goal": "contact_enrichment", "tasks": [{"description": "Find the CEO contact"}]}`),
		llm.ToolCallStep(llm.ToolCall{ID: "c1", Name: "enrich_company_contacts", Arguments: map[string]any{"company": "Empresa SA"}}),
		llm.TextStep("The CEO of Empresa SA can be reached at [EMAIL_REDACTED_1] for an introduction."),
	)
	engine := newTestEngine(t, client, registry, nil)

	result := engine.Run(context.Background(), Request{Query: "get me the CEO contact for Empresa SA"})

	// The email surfaced by the tool only ever reaches the model as a
	// placeholder.
	sawPlaceholder := false
	for _, req := range client.Requests {
		for _, msg := range req.Messages {
			require.NotContains(t, msg.Content, "ceo@empresa.ec")
			if msg.Role == llm.RoleTool && strings.Contains(msg.Content, "[EMAIL_REDACTED_1]") {
				sawPlaceholder = true
			}
		}
	}
	require.True(t, sawPlaceholder)
	// The final answer carries the real address.
	require.Contains(t, result.Response, "ceo@empresa.ec")
}

func TestRunIterationCap(t *testing.T) {
	search := &fakeTool{
		name:    "web_search",
		results: []*tools.Result{{Success: true, Output: "some text", Records: 1}},
	}
	registry := tools.NewRegistry()
	registry.MustRegister(search)

	// The model asks for a different search every turn, so the exact-repeat
	// breaker stays quiet. The semantic-repeat breaker can still fire on the
	// fourth web_search, but with MaxIterations 4 the cap binds at the same
	// point either way.
	pool, err := llm.NewPool(func(string) (llm.Client, error) {
		return &countingClient{}, nil
	}, nil)
	require.NoError(t, err)

	config := DefaultConfig()
	config.PreferredModel = "scout-test"
	config.MaxIterations = 4
	config.ModelRetry = scouterrors.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	engine, err := NewEngine(config, Deps{Pool: pool, Registry: registry})
	require.NoError(t, err)

	result := engine.Run(context.Background(), Request{Query: "keep searching"})

	require.NotEmpty(t, result.Response)
	require.LessOrEqual(t, result.State.Iteration, 4)
}

// countingClient requests a fresh web_search every call, never finishing.
type countingClient struct {
	mu    sync.Mutex
	calls int
}

func (c *countingClient) Model() string { return "scout-test" }

func (c *countingClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls == 1 {
		return &llm.CompletionResponse{Content: planJSON}, nil
	}
	return &llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{
			ID:        fmt.Sprintf("c%d", c.calls),
			Name:      "web_search",
			Arguments: map[string]any{"query": fmt.Sprintf("angle %d", c.calls)},
		}},
	}, nil
}

func TestNewEngineValidatesDeps(t *testing.T) {
	registry := tools.NewRegistry()
	pool, err := llm.NewPool(func(string) (llm.Client, error) {
		return llm.NewScriptedClient("m"), nil
	}, nil)
	require.NoError(t, err)

	_, err = NewEngine(DefaultConfig(), Deps{Registry: registry})
	require.Error(t, err)

	_, err = NewEngine(DefaultConfig(), Deps{Pool: pool})
	require.Error(t, err)
}
