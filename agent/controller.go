// Package agent implements the reasoning loop: the controller driving one
// session through Thought, Action and Observation cycles, and the spawner
// running delegated sub-sessions.
package agent

import (
	"context"
	"time"

	"github.com/reagent-ai/reagent/core"
	"github.com/reagent-ai/reagent/flow"
	"github.com/reagent-ai/reagent/logging"
	"github.com/reagent-ai/reagent/metrics"
	"github.com/reagent-ai/reagent/model"
)

// Phase identifies where the controller stands inside one loop cycle.
type Phase string

const (
	// PhaseAwaitingThought means the next orchestrator decision is pending.
	PhaseAwaitingThought Phase = "awaiting_thought"
	// PhaseAwaitingAction means a decision arrived and its actions are being
	// committed for dispatch.
	PhaseAwaitingAction Phase = "awaiting_action"
	// PhaseAwaitingObservation means the action batch is executing.
	PhaseAwaitingObservation Phase = "awaiting_observation"
)

// ControllerOptions configure one reasoning loop.
type ControllerOptions struct {
	// ContextWindow is how many recent turns are replayed into each
	// orchestrator prompt.
	ContextWindow int

	// Instruction overrides the default orchestrator system prompt.
	Instruction string

	// SynthesisTemperature is used for the best-effort answer produced when
	// the turn budget runs out. Elevated relative to the orchestrator's
	// decision temperature.
	SynthesisTemperature float64

	// TurnSink, when set, receives every turn as it is committed.
	TurnSink func(core.Turn)

	// TokenSink, when set, receives orchestrator content deltas and switches
	// decision calls to streaming.
	TokenSink func(token string)

	Logger  logging.Logger
	Metrics metrics.Recorder
}

// Controller drives one session through the reasoning loop until a terminal
// status: a final answer, budget exhaustion, cancellation or a fatal error.
// A controller is single-use and not safe for concurrent Run calls.
type Controller struct {
	router  *model.Router
	engine  *flow.Engine
	catalog []model.ToolDefinition
	session *core.Session
	opts    ControllerOptions

	phase        Phase
	observations []string
}

// NewController binds a loop to its session and collaborators.
func NewController(
	router *model.Router,
	engine *flow.Engine,
	catalog []model.ToolDefinition,
	session *core.Session,
	optFns ...func(o *ControllerOptions),
) *Controller {
	opts := ControllerOptions{
		ContextWindow:        20,
		SynthesisTemperature: 0.7,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)
	opts.Metrics = metrics.OrNop(opts.Metrics)

	return &Controller{
		router:  router,
		engine:  engine,
		catalog: catalog,
		session: session,
		opts:    opts,
	}
}

// Session returns the session driven by this controller.
func (c *Controller) Session() *core.Session { return c.session }

// Phase returns the current loop phase.
func (c *Controller) Phase() Phase { return c.phase }

// Run iterates the loop to a terminal status and returns the final answer.
// On turn budget exhaustion the answer is synthesized from the observations
// gathered so far and the session ends in StatusTurnBudgetExceeded; Run
// still returns nil in that case so callers distinguish budget exhaustion
// by status, not by error.
func (c *Controller) Run(ctx context.Context) (string, error) {
	c.opts.Logger.Info("loop.start",
		"session_id", c.session.ID, "depth", c.session.Depth, "max_turns", c.session.Budget.MaxTurns)

	for {
		if ctx.Err() != nil {
			return "", c.abort(ctx)
		}

		if c.session.RemainingTurns() == 0 {
			return c.synthesize(ctx)
		}

		c.transition(PhaseAwaitingThought)

		answer, done, err := c.cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", c.abort(ctx)
			}

			return "", c.fail(err)
		}

		if done {
			return answer, nil
		}
	}
}

// cycle performs one full loop iteration: decide, commit, dispatch, observe.
// done reports a final answer.
func (c *Controller) cycle(ctx context.Context) (answer string, done bool, err error) {
	start := time.Now()

	req := flow.BuildDecisionRequest(c.session, c.opts.ContextWindow, c.opts.Instruction, c.catalog)

	decision, err := c.router.Decide(ctx, req, c.opts.TokenSink)
	if err != nil {
		return "", false, err
	}

	if decision.Final {
		c.commit(core.RoleThought, decision.Content)

		if err := c.session.SetStatus(core.StatusCompleted); err != nil {
			return "", false, err
		}

		c.opts.Logger.Info("loop.complete",
			"session_id", c.session.ID, "turns", c.session.TurnCount())

		return decision.Content, true, nil
	}

	c.transition(PhaseAwaitingAction)

	if decision.Thought != "" {
		c.commit(core.RoleThought, decision.Thought)
	}
	c.commit(core.RoleAction, flow.FormatActionBatch(decision.Actions))

	c.transition(PhaseAwaitingObservation)

	observations := c.engine.ExecuteBatch(ctx, c.session, decision.Actions)
	for i, obs := range observations {
		c.commit(core.RoleObservation, flow.FormatObservation(decision.Actions[i], obs))

		if obs.Kind == core.ObservationSuccess {
			c.observations = append(c.observations, obs.Payload)
		}
	}

	// The turn is accounted only once the whole batch has resolved, so a
	// cancelled run never burns budget for half-finished work.
	turn, _ := c.session.ConsumeTurn()
	c.opts.Metrics.RecordTurn(c.session.Depth, time.Since(start))
	c.opts.Logger.Debug("loop.turn.complete",
		"session_id", c.session.ID, "turn", turn, "actions", len(decision.Actions))

	return "", false, nil
}

// synthesize issues the best-effort final answer call made when the budget
// runs out: orchestrator role, elevated temperature, no tools offered.
func (c *Controller) synthesize(ctx context.Context) (string, error) {
	c.opts.Logger.Warn("loop.budget.exhausted",
		"session_id", c.session.ID, "turns", c.session.TurnCount())

	req := model.Request{
		Messages: []model.Message{
			model.UserMessage(flow.BuildSynthesisPrompt(c.session.Goal, c.observations)),
		},
		Options: model.GenerationOptions{Temperature: c.opts.SynthesisTemperature},
	}

	resp, err := c.router.Submit(ctx, model.RoleOrchestrator, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", c.abort(ctx)
		}

		if statusErr := c.session.SetStatus(core.StatusTurnBudgetExceeded); statusErr != nil {
			return "", statusErr
		}

		return "", core.WrapError(core.CodeTurnBudgetExceeded,
			"turn budget exhausted and synthesis failed", err)
	}

	c.commit(core.RoleThought, resp.Content)

	if err := c.session.SetStatus(core.StatusTurnBudgetExceeded); err != nil {
		return "", err
	}

	return resp.Content, nil
}

// abort marks the session cancelled from whatever phase it was in.
func (c *Controller) abort(ctx context.Context) error {
	if err := c.session.SetStatus(core.StatusAborted); err != nil {
		return err
	}

	c.opts.Logger.Info("loop.aborted", "session_id", c.session.ID, "phase", string(c.phase))

	return core.WrapError(core.CodeCancelled, "run aborted", context.Cause(ctx))
}

// fail marks the session terminated by an unrecoverable runtime error.
func (c *Controller) fail(err error) error {
	if statusErr := c.session.SetStatus(core.StatusError); statusErr != nil {
		return statusErr
	}

	c.opts.Logger.Error("loop.error",
		"session_id", c.session.ID, "code", string(core.CodeOf(err)), "error", err.Error())

	return err
}

// commit appends a turn and forwards it to the sink, if any.
func (c *Controller) commit(role core.Role, content string) {
	turn := c.session.AppendTurn(role, content)
	if c.opts.TurnSink != nil {
		c.opts.TurnSink(turn)
	}
}

// transition moves the loop into a new phase and logs the change.
func (c *Controller) transition(phase Phase) {
	if c.phase == phase {
		return
	}

	c.phase = phase
	c.opts.Logger.Debug("loop.phase",
		"session_id", c.session.ID, "phase", string(phase), "turn", c.session.TurnCount()+1)
}
