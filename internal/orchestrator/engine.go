package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scout/internal/checkpoint"
	scouterrors "scout/internal/errors"
	"scout/internal/llm"
	"scout/internal/logging"
	"scout/internal/recovery"
	"scout/internal/redact"
	"scout/internal/tools"
)

// Config holds the engine's loop knobs.
type Config struct {
	MaxIterations  int               `mapstructure:"max_iterations"`
	MaxRetries     int               `mapstructure:"max_retries"`
	PreferredModel string            `mapstructure:"preferred_model"`
	FallbackChain  []llm.ModelConfig `mapstructure:"fallback_chain"`
	Temperature    float64           `mapstructure:"temperature"`
	// ModelRetry governs transient retries inside one model attempt.
	ModelRetry scouterrors.RetryConfig `mapstructure:"model_retry"`
}

// DefaultConfig returns the standard loop limits.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 50,
		MaxRetries:    3,
		Temperature:   0.2,
		ModelRetry:    scouterrors.DefaultRetryConfig(),
	}
}

// Deps are the engine's collaborators. Pool and Registry are required; the
// rest degrade gracefully when absent.
type Deps struct {
	Pool           *llm.Pool
	Registry       *tools.Registry
	Store          checkpoint.Store
	Optimizer      Optimizer
	RedactionRules []redact.Rule
	// RestoreFor lists tools allowed to see real values behind placeholders.
	RestoreFor []string
	Metrics    *Metrics
	Logger     logging.Logger
}

// Optimizer is the transcript-compression hook the think and finalize steps
// use. contextopt.Optimizer satisfies it.
type Optimizer interface {
	ShouldCompress(messages []llm.Message) bool
	Optimize(messages []llm.Message) []llm.Message
	TrimTotal(messages []llm.Message) []llm.Message
	MaxToolOutputLen() int
}

// Engine drives the reasoning loop. It is safe for concurrent Run calls;
// all per-request state lives in the run.
type Engine struct {
	config       Config
	pool         *llm.Pool
	registry     *tools.Registry
	store        checkpoint.Store
	optimizer    Optimizer
	rules        []redact.Rule
	restoreFor   []string
	metrics      *Metrics
	logger       logging.Logger
	planner      *Planner
	fallbackOpts llm.FallbackOptions
}

// NewEngine validates deps and the machine table and returns a ready engine.
func NewEngine(config Config, deps Deps) (*Engine, error) {
	if deps.Pool == nil {
		return nil, fmt.Errorf("orchestrator: nil client pool")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("orchestrator: nil tool registry")
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultConfig().MaxIterations
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultConfig().MaxRetries
	}
	if config.ModelRetry.MaxAttempts == 0 {
		config.ModelRetry = scouterrors.DefaultRetryConfig()
	}

	logger := logging.OrNop(deps.Logger)
	fallbackOpts := llm.FallbackOptions{
		PreferredModel: config.PreferredModel,
		Chain:          config.FallbackChain,
		RetryConfig:    config.ModelRetry,
		Logger:         logger,
	}
	e := &Engine{
		config:       config,
		pool:         deps.Pool,
		registry:     deps.Registry,
		store:        deps.Store,
		optimizer:    deps.Optimizer,
		rules:        deps.RedactionRules,
		restoreFor:   deps.RestoreFor,
		metrics:      deps.Metrics,
		logger:       logger,
		planner:      NewPlanner(deps.Pool, fallbackOpts, logger),
		fallbackOpts: fallbackOpts,
	}

	// The table is static, so one probe run is enough to prove it closed.
	if err := e.newRun(Request{}).graph.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Request is one engine invocation.
type Request struct {
	ThreadID    string
	Query       string
	UserContext string
	Listener    EventListener
}

// RunResult is the structured outcome of a run. Response is never empty.
type RunResult struct {
	Response  string
	State     *State
	Recovered bool
}

// run carries all per-request state: the FSM instance, the redaction map,
// the recovery tracker, and routing scratch set by nodes for their routers.
type run struct {
	engine     *Engine
	state      *State
	graph      *graph
	listener   EventListener
	tracker    *recovery.Manager
	redactor   *redact.Redactor
	executor   *tools.Executor
	decision   routeDecision
	correction correctionKind
	executions []tools.Execution
	recovered  bool
	parentID   string
}

func (e *Engine) newRun(req Request) *run {
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.New().String()
	}
	r := &run{
		engine:   e,
		listener: req.Listener,
		tracker:  recovery.NewManager(req.Query, e.logger),
		redactor: redact.NewRedactor(e.rules, e.restoreFor, e.logger),
		state: &State{
			ThreadID:    threadID,
			UserQuery:   req.Query,
			UserContext: req.UserContext,
		},
	}
	r.executor = tools.NewExecutor(e.registry, tools.ExecutorConfig{
		Transformer: r.redactor.ProcessToolInput,
	}, e.logger)
	r.graph = r.buildGraph()
	return r
}

// Run executes the machine to completion. It never returns an empty answer:
// any failure mode, including a panic inside a node, lands in the recovery
// manager's synthesized response.
func (e *Engine) Run(ctx context.Context, req Request) (result *RunResult) {
	r := e.newRun(req)
	e.metrics.runStarted()
	defer func() {
		e.metrics.runFinished(r.state.Iteration)
		if rec := recover(); rec != nil {
			e.logger.Error("run %s: panic in loop: %v", r.state.ThreadID, rec)
			e.metrics.observeRecovery()
			result = &RunResult{
				Response:  r.redactor.Restore(r.tracker.GenerateResponse()),
				State:     r.state,
				Recovered: true,
			}
		}
	}()

	current := r.graph.start
	for current != nodeEnd {
		node := r.graph.nodes[current]
		delta, err := node(ctx, r.state)
		if err != nil {
			// Nodes report expected failures through deltas; an error here
			// is exceptional. Record it and force finalization.
			e.logger.Error("run %s: node %s: %v", r.state.ThreadID, current, err)
			r.tracker.AddWarning(fmt.Sprintf("step %s failed: %v", current, err))
			r.emit(Event{Type: EventError, Node: string(current), Error: err.Error()})
			if current == nodeFinalize {
				break
			}
			r.state.Fold(Delta{ErrorInfo: stringPtr(err.Error())})
			current = nodeFinalize
			continue
		}
		r.state.Fold(delta)
		r.checkpoint(ctx, current)

		next, err := r.graph.next(current, r.state)
		if err != nil {
			e.logger.Error("run %s: %v", r.state.ThreadID, err)
			next = nodeFinalize
			if current == nodeFinalize {
				next = nodeEnd
			}
		}
		current = next
	}

	if r.state.FinalResponse == "" {
		e.metrics.observeRecovery()
		r.recovered = true
		r.state.FinalResponse = r.redactor.Restore(r.tracker.GenerateResponse())
	}
	return &RunResult{
		Response:  r.state.FinalResponse,
		State:     r.state,
		Recovered: r.recovered,
	}
}

// checkpoint persists a snapshot after a node ran. Persistence is best
// effort: failures are logged and swallowed, never surfaced to the loop.
func (r *run) checkpoint(ctx context.Context, node nodeID) {
	if r.engine.store == nil {
		return
	}
	snapshot, err := r.state.Snapshot()
	if err != nil {
		r.engine.logger.Warn("run %s: snapshot failed: %v", r.state.ThreadID, err)
		return
	}
	cp := checkpoint.Checkpoint{
		ID:        uuid.New().String(),
		ParentID:  r.parentID,
		State:     snapshot,
		CreatedAt: time.Now().UTC(),
	}
	md := checkpoint.Metadata{
		"node":      string(node),
		"iteration": r.state.Iteration,
	}
	if err := r.engine.store.Put(ctx, r.state.ThreadID, cp, md); err != nil {
		r.engine.logger.Warn("run %s: checkpoint put failed: %v", r.state.ThreadID, err)
		return
	}
	r.parentID = cp.ID
}

func (e *Engine) maxToolOutputLen() int {
	if e.optimizer != nil {
		if n := e.optimizer.MaxToolOutputLen(); n > 0 {
			return n
		}
	}
	return 2000
}
