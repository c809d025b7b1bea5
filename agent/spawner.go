package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/reagent-ai/reagent/core"
	"github.com/reagent-ai/reagent/flow"
	"github.com/reagent-ai/reagent/logging"
	"github.com/reagent-ai/reagent/metrics"
	"github.com/reagent-ai/reagent/model"
)

// SpawnerOptions configure delegation limits and child loop behavior.
type SpawnerOptions struct {
	// MaxDepth is the deepest delegation level allowed. A session at depth d
	// may delegate only while d+1 <= MaxDepth; the root session is depth 0.
	MaxDepth int

	// DelegationCap is the turn budget granted to each delegated session,
	// further capped by the parent's remaining turns.
	DelegationCap int

	// ContextWindow is how many recent turns each child prompt replays.
	ContextWindow int

	// Instruction overrides the child orchestrator system prompt.
	Instruction string

	Logger  logging.Logger
	Metrics metrics.Recorder
}

// Spawner creates and runs delegated sessions. It implements flow.Delegator,
// so the execution engine routes delegation marker actions here. Bind must
// be called with the engine and catalog before the first delegation; the
// two-step wiring exists because the engine itself takes the spawner as its
// delegator.
type Spawner struct {
	router  *model.Router
	table   core.SessionTable
	limiter *core.SpawnLimiter
	opts    SpawnerOptions

	engine  *flow.Engine
	catalog []model.ToolDefinition
}

var _ flow.Delegator = (*Spawner)(nil)

// NewSpawner wires the delegation machinery around a shared session table
// and concurrency limiter.
func NewSpawner(
	router *model.Router,
	table core.SessionTable,
	limiter *core.SpawnLimiter,
	optFns ...func(o *SpawnerOptions),
) *Spawner {
	opts := SpawnerOptions{
		MaxDepth:      3,
		DelegationCap: 5,
		ContextWindow: 20,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)
	opts.Metrics = metrics.OrNop(opts.Metrics)

	return &Spawner{
		router:  router,
		table:   table,
		limiter: limiter,
		opts:    opts,
	}
}

// Bind supplies the engine and tool catalog child controllers run against.
func (s *Spawner) Bind(engine *flow.Engine, catalog []model.ToolDefinition) {
	s.engine = engine
	s.catalog = catalog
}

// Spawn creates and registers a delegated child session. The depth budget is
// checked before anything else, so an over-deep delegation is rejected
// without creating state or touching a model. The child is seeded with the
// task goal plus the bounded context slice only, never the parent's full
// history, and its turn budget is min(parent remaining, DelegationCap).
func (s *Spawner) Spawn(parent *core.Session, task core.SubAgentTask) (*core.Session, error) {
	if parent.Depth+1 > s.opts.MaxDepth {
		return nil, core.Errorf(core.CodeDepthBudgetExceeded,
			"delegation from depth %d exceeds the maximum depth %d", parent.Depth, s.opts.MaxDepth)
	}

	if strings.TrimSpace(task.Goal) == "" {
		return nil, core.NewError(core.CodeInvalidAction, "delegated goal is empty")
	}

	child := core.NewChildSession(task.Goal, parent, s.opts.DelegationCap)

	if task.Context != "" {
		child.AppendTurn(core.RoleUser, "Context from the delegating agent:\n"+task.Context)
	}

	if err := s.table.Insert(child); err != nil {
		return nil, err
	}

	s.opts.Logger.Info("spawn.created",
		"session_id", child.ID, "parent_id", parent.ID, "depth", child.Depth,
		"max_turns", child.Budget.MaxTurns)

	return child, nil
}

// Delegate implements flow.Delegator: it runs a delegated task to a terminal
// state and condenses the outcome into a single answer for the parent's
// observation. The child session never outlives this call; it is removed
// from the table before returning.
func (s *Spawner) Delegate(ctx context.Context, parent *core.Session, task core.SubAgentTask) (string, error) {
	child, err := s.Spawn(parent, task)
	if err != nil {
		s.opts.Metrics.RecordSpawn(spawnStatus(err))

		return "", err
	}

	defer s.table.Remove(child.ID)

	if err := s.acquireSlot(ctx, parent); err != nil {
		s.opts.Metrics.RecordSpawn(string(core.StatusAborted))

		return "", err
	}
	defer s.limiter.Release()

	if s.engine == nil {
		return "", core.NewError(core.CodeInternal, "spawner used before Bind")
	}

	controller := NewController(s.router, s.engine, s.catalog, child,
		func(o *ControllerOptions) {
			o.ContextWindow = s.opts.ContextWindow
			o.Instruction = s.opts.Instruction
			o.Logger = s.opts.Logger
			o.Metrics = s.opts.Metrics
		})

	answer, err := controller.Run(ctx)
	status := child.Status()
	s.opts.Metrics.RecordSpawn(string(status))

	if err != nil {
		s.opts.Logger.Warn("spawn.failed",
			"session_id", child.ID, "status", string(status), "error", err.Error())

		// Cancellation keeps its classification so the parent's batch can
		// record Cancelled instead of a tool error.
		if core.CodeOf(err) == core.CodeCancelled {
			return "", err
		}

		return "", core.WrapError(core.CodeToolExecution,
			fmt.Sprintf("delegated session %s ended in %s", child.ID, status), err)
	}

	s.opts.Logger.Info("spawn.finished",
		"session_id", child.ID, "status", string(status), "turns", child.TurnCount())

	return answer, nil
}

// acquireSlot takes a delegation slot from the global limiter. A root-level
// delegation queues until a slot frees up; a nested delegation must not,
// because every level of its own chain already holds a slot and waiting on
// them would never end. Nested delegations over the ceiling fail with a
// recoverable error the parent observes like any other tool failure.
func (s *Spawner) acquireSlot(ctx context.Context, parent *core.Session) error {
	if parent.Depth == 0 {
		return s.limiter.Acquire(ctx)
	}

	if !s.limiter.TryAcquire() {
		return core.Errorf(core.CodeToolExecution,
			"delegation ceiling reached at depth %d, sub-task not started", parent.Depth+1)
	}

	return nil
}

// spawnStatus maps a pre-run rejection onto the status label recorded for
// delegation metrics.
func spawnStatus(err error) string {
	if core.CodeOf(err) == core.CodeDepthBudgetExceeded {
		return string(core.StatusDepthBudgetExceeded)
	}

	return string(core.StatusError)
}
