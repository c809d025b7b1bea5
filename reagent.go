// Package reagent provides a high-level façade over the reasoning loop and
// its collaborators (model router, tool registry, execution engine, sub-agent
// spawner and session table), enabling construction of an autonomous
// tool-using agent in a few lines. Most applications interact with this
// package by:
//  1. Wiring a model.Router over one or two providers (Ollama locally, or an
//     OpenAI-compatible / Anthropic endpoint)
//  2. Creating an Agent via New(), optionally registering extra tools
//  3. Running goals synchronously (Run) or asynchronously (Runner)
//
// Defaults are safe for local development: bounded turn and delegation
// budgets, in-memory session storage and no-op logging/metrics.
package reagent

import (
	"context"
	"time"

	"github.com/reagent-ai/reagent/agent"
	"github.com/reagent-ai/reagent/core"
	"github.com/reagent-ai/reagent/flow"
	"github.com/reagent-ai/reagent/logging"
	"github.com/reagent-ai/reagent/metrics"
	"github.com/reagent-ai/reagent/model"
	"github.com/reagent-ai/reagent/runner"
	"github.com/reagent-ai/reagent/session"
	"github.com/reagent-ai/reagent/tool"
)

// Options configures the Agent instance.
type Options struct {
	// MaxTurns bounds loop iterations per root session.
	MaxTurns int
	// MaxHistory bounds retained turns per session; older turns are evicted
	// oldest first.
	MaxHistory int
	// MaxDepth bounds delegation nesting; the root session is depth 0.
	MaxDepth int
	// DelegationCap is the turn budget granted to each delegated session,
	// further capped by the parent's remaining turns.
	DelegationCap int
	// MaxConcurrentDelegations is the process-wide ceiling on concurrently
	// running sub-agents. Zero or negative means unlimited.
	MaxConcurrentDelegations int
	// ContextWindow is how many recent turns each orchestrator prompt
	// replays.
	ContextWindow int
	// MaxParallelActions bounds concurrent tool executions per batch.
	MaxParallelActions int
	// ActionTimeout bounds a single tool invocation. Zero disables it.
	ActionTimeout time.Duration

	// Instruction overrides the default orchestrator system prompt.
	Instruction string

	// Tools are registered in addition to the built-in suite.
	Tools []tool.Tool

	// SkipBuiltinTools leaves out the coding, history-analysis and
	// delegation tools, producing an agent with only the Tools above.
	SkipBuiltinTools bool

	// TokenSink, when set, receives streamed orchestrator tokens for every
	// run started through Runner(). Called from the run's goroutine.
	TokenSink func(token string)

	// Table overrides the in-memory session table.
	Table core.SessionTable

	Logger  logging.Logger
	Metrics metrics.Recorder
}

// Result is the outcome of a synchronous run.
type Result struct {
	// Answer is the final answer, or the synthesized best effort when the
	// turn budget ran out.
	Answer string
	// Status is the session's terminal status.
	Status core.Status
	// Session is the finished root session, retained for inspection.
	Session *core.Session
}

// Agent is the high-level façade aggregating the loop machinery.
type Agent struct {
	router   *model.Router
	registry *tool.Registry
	engine   *flow.Engine
	spawner  *agent.Spawner
	table    core.SessionTable
	runner   *runner.Runner
	opts     Options
}

// New assembles an Agent around a model router. Built-in tools (coding
// suite, history analysis, delegation) are registered unless disabled, then
// any user tools; a duplicate tool name fails construction.
func New(router *model.Router, optFns ...func(o *Options)) (*Agent, error) {
	opts := Options{
		MaxTurns:                 10,
		MaxHistory:               1000,
		MaxDepth:                 3,
		DelegationCap:            5,
		MaxConcurrentDelegations: 5,
		ContextWindow:            20,
		MaxParallelActions:       4,
		ActionTimeout:            120 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxTurns <= 0 {
		return nil, core.Errorf(core.CodeInvalidAction, "MaxTurns must be positive, got %d", opts.MaxTurns)
	}
	if opts.MaxHistory <= 0 {
		return nil, core.Errorf(core.CodeInvalidAction, "MaxHistory must be positive, got %d", opts.MaxHistory)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)
	opts.Metrics = metrics.OrNop(opts.Metrics)

	if opts.Table == nil {
		opts.Table = session.NewInMemoryTable()
	}

	registry := tool.NewRegistry()

	if !opts.SkipBuiltinTools {
		for _, t := range []tool.Tool{
			tool.NewWriteCodeTool(router),
			tool.NewExplainCodeTool(router),
			tool.NewDebugCodeTool(router),
			tool.NewAnalyzeHistoryTool(router),
		} {
			if err := registry.Register(t); err != nil {
				return nil, err
			}
		}

		if err := registry.Register(tool.NewDelegateTool(), tool.WithDelegate()); err != nil {
			return nil, err
		}
	}

	for _, t := range opts.Tools {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	limiter := core.NewSpawnLimiter(opts.MaxConcurrentDelegations)

	spawner := agent.NewSpawner(router, opts.Table, limiter, func(o *agent.SpawnerOptions) {
		o.MaxDepth = opts.MaxDepth
		o.DelegationCap = opts.DelegationCap
		o.ContextWindow = opts.ContextWindow
		o.Instruction = opts.Instruction
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
	})

	engine := flow.NewEngine(registry, spawner, func(o *flow.EngineOptions) {
		o.MaxParallel = opts.MaxParallelActions
		o.ActionTimeout = opts.ActionTimeout
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
	})

	spawner.Bind(engine, registry.Catalog())

	a := &Agent{
		router:   router,
		registry: registry,
		engine:   engine,
		spawner:  spawner,
		table:    opts.Table,
		opts:     opts,
	}

	a.runner = runner.New(a.newLoop, func(o *runner.Options) {
		o.TokenSink = opts.TokenSink
		o.Logger = opts.Logger
	})

	return a, nil
}

// rootLoop removes its session from the table once the run is over, so the
// table only ever holds live sessions.
type rootLoop struct {
	*agent.Controller
	table core.SessionTable
}

func (l rootLoop) Run(ctx context.Context) (string, error) {
	defer l.table.Remove(l.Session().ID)

	return l.Controller.Run(ctx)
}

// newLoop builds the controller for a fresh root session. It is the
// runner.LoopFactory for this agent.
func (a *Agent) newLoop(goal string, turnSink func(core.Turn), tokenSink func(token string)) runner.Loop {
	s := core.NewSession(goal, core.Budget{
		MaxTurns:   a.opts.MaxTurns,
		MaxDepth:   a.opts.MaxDepth,
		MaxHistory: a.opts.MaxHistory,
	})

	if err := a.table.Insert(s); err != nil {
		a.opts.Logger.Warn("session.register.failed", "session_id", s.ID, "error", err.Error())
	}

	controller := agent.NewController(a.router, a.engine, a.registry.Catalog(), s,
		func(o *agent.ControllerOptions) {
			o.ContextWindow = a.opts.ContextWindow
			o.Instruction = a.opts.Instruction
			o.TurnSink = turnSink
			o.TokenSink = tokenSink
			o.Logger = a.opts.Logger
			o.Metrics = a.opts.Metrics
		})

	return rootLoop{Controller: controller, table: a.table}
}

// Run executes a goal synchronously to a terminal status.
func (a *Agent) Run(ctx context.Context, goal string) (*Result, error) {
	if goal == "" {
		return nil, core.NewError(core.CodeInvalidAction, "goal is empty")
	}

	loop := a.newLoop(goal, nil, nil)

	answer, err := loop.Run(ctx)
	if err != nil {
		return nil, err
	}

	return &Result{
		Answer:  answer,
		Status:  loop.Session().Status(),
		Session: loop.Session(),
	}, nil
}

// Runner exposes the asynchronous run surface: streamed turns, run IDs and
// external cancellation.
func (a *Agent) Runner() *runner.Runner { return a.runner }

// Verify pings the configured model endpoints, surfacing an unreachable
// provider before any turn is consumed.
func (a *Agent) Verify(ctx context.Context) error { return a.router.Verify(ctx) }

// Tools returns the sorted names of all registered tools.
func (a *Agent) Tools() []string { return a.registry.Names() }
