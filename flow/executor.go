package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/reagent-ai/reagent/core"
	"github.com/reagent-ai/reagent/logging"
	"github.com/reagent-ai/reagent/metrics"
	"github.com/reagent-ai/reagent/tool"
)

// Delegator runs a delegated sub-task in a child session and returns the
// child's final answer. The agent package provides the implementation; the
// engine only routes delegate-marked actions to it.
type Delegator interface {
	Delegate(ctx context.Context, parent *core.Session, task core.SubAgentTask) (string, error)
}

// EngineOptions configures the execution engine.
type EngineOptions struct {
	// MaxParallel bounds how many actions of one batch execute concurrently.
	// Zero or negative means unbounded.
	MaxParallel int

	// ActionTimeout bounds a single tool invocation. Zero means no per-action
	// timeout beyond the batch context.
	ActionTimeout time.Duration

	// Logger receives dispatch events. Defaults to a no-op logger.
	Logger logging.Logger

	// Metrics receives per-action measurements. Defaults to a no-op recorder.
	Metrics metrics.Recorder
}

// Engine resolves and executes action batches against the registry. Batch
// members run concurrently under the MaxParallel bound; every proposed
// action yields exactly one observation, and results are returned in
// proposal order regardless of completion order.
type Engine struct {
	registry  *tool.Registry
	delegator Delegator
	opts      EngineOptions

	// serialMu serializes tools registered with WithSerial across the whole
	// engine, including across overlapping batches of sibling sessions.
	serialMu sync.Mutex
}

// NewEngine creates an execution engine over the given registry. delegator
// may be nil when delegation is not wired; delegate actions then fail as
// tool errors.
func NewEngine(registry *tool.Registry, delegator Delegator, optFns ...func(o *EngineOptions)) *Engine {
	opts := EngineOptions{
		MaxParallel: 4,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)
	opts.Metrics = metrics.OrNop(opts.Metrics)

	return &Engine{
		registry:  registry,
		delegator: delegator,
		opts:      opts,
	}
}

// ExecuteBatch runs all actions of one batch and returns their observations
// in proposal order. An error from a fail-fast tool cancels the shared batch
// context: members not yet started, and members that observe the
// cancellation while running, record Cancelled observations. Members that
// already completed keep their results.
func (e *Engine) ExecuteBatch(ctx context.Context, session *core.Session, batch []core.Action) []core.Observation {
	if len(batch) == 0 {
		return nil
	}

	batchCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	results := make([]*core.Observation, len(batch))

	var wg sync.WaitGroup

	var sem chan struct{}
	if e.opts.MaxParallel > 0 {
		sem = make(chan struct{}, e.opts.MaxParallel)
	}

	for i, action := range batch {
		wg.Add(1)

		go func(i int, action core.Action) {
			defer wg.Done()

			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-batchCtx.Done():
					obs := core.NewCancelledObservation(action.ID, context.Cause(batchCtx))
					results[i] = &obs

					return
				}
			}

			obs, failFast := e.runAction(batchCtx, session, action)
			results[i] = &obs

			if failFast && obs.Kind == core.ObservationToolError {
				cancel(core.Errorf(core.CodeCancelled,
					"sibling %s failed: %s", action.ToolName, obs.Payload))
			}
		}(i, action)
	}

	wg.Wait()

	observations := make([]core.Observation, len(batch))
	for i, r := range results {
		if r == nil {
			// Unreachable unless a dispatch path above forgot to record.
			obs := core.NewToolErrorObservation(batch[i].ID,
				core.NewError(core.CodeInternal, "action produced no observation"), 0)
			r = &obs
		}

		observations[i] = *r
		e.opts.Metrics.RecordAction(batch[i].ToolName, string(r.Kind), r.Duration)
	}

	return observations
}

// runAction resolves, validates and executes one action. The second return
// reports whether the tool was registered fail-fast.
func (e *Engine) runAction(ctx context.Context, session *core.Session, action core.Action) (core.Observation, bool) {
	desc, ok := e.registry.Resolve(action.ToolName)
	if !ok {
		e.opts.Logger.Warn("tool.call.unknown", "tool", action.ToolName, "session_id", session.ID)

		return core.NewInvalidActionObservation(action.ID,
			fmt.Sprintf("unknown tool %q; available tools: %v", action.ToolName, e.registry.Names())), false
	}

	args, err := decodeArguments(action.Arguments)
	if err != nil {
		return core.NewInvalidActionObservation(action.ID,
			fmt.Sprintf("arguments for tool %q are not a JSON object: %s", action.ToolName, err)), desc.FailFast()
	}

	if err := e.registry.Validate(desc, args); err != nil {
		e.opts.Logger.Warn("tool.call.invalid", "tool", action.ToolName, "error", err.Error())

		return core.NewInvalidActionObservation(action.ID, err.Error()), desc.FailFast()
	}

	if err := context.Cause(ctx); err != nil {
		return core.NewCancelledObservation(action.ID, err), desc.FailFast()
	}

	if desc.Delegate() {
		return e.runDelegate(ctx, session, action, args), desc.FailFast()
	}

	return e.invoke(ctx, session, action, desc, args), desc.FailFast()
}

// invoke executes a resolved tool call under the per-action timeout and the
// serial lock when required, converting panics into tool errors.
func (e *Engine) invoke(ctx context.Context, session *core.Session, action core.Action, desc *tool.Descriptor, args map[string]any) (obs core.Observation) {
	if desc.Serial() {
		e.serialMu.Lock()
		defer e.serialMu.Unlock()
	}

	actionCtx := ctx
	if e.opts.ActionTimeout > 0 {
		var cancelTimeout context.CancelFunc
		actionCtx, cancelTimeout = context.WithTimeout(ctx, e.opts.ActionTimeout)
		defer cancelTimeout()
	}

	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.opts.Logger.Error("tool.call.panic", "tool", action.ToolName, "panic", fmt.Sprintf("%v", r))
			obs = core.NewToolErrorObservation(action.ID,
				core.Errorf(core.CodeToolExecution, "tool %s panicked: %v", action.ToolName, r),
				time.Since(start))
		}
	}()

	e.opts.Logger.Debug("tool.call.start", "tool", action.ToolName, "session_id", session.ID, "action_id", action.ID)

	toolCtx := core.NewToolContext(actionCtx, session, action.ID, e.opts.Logger)

	result, err := desc.Tool().Call(toolCtx, args)
	dur := time.Since(start)

	// A tool interrupted by sibling cancellation records Cancelled, not a
	// tool error; its late or partial result is discarded.
	if cause := context.Cause(ctx); cause != nil {
		return core.NewCancelledObservation(action.ID, cause)
	}

	if err != nil {
		e.opts.Logger.Warn("tool.call.error", "tool", action.ToolName, "error", err.Error(), "duration", dur)

		return core.NewToolErrorObservation(action.ID, err, dur)
	}

	payload, err := stringifyResult(result)
	if err != nil {
		return core.NewToolErrorObservation(action.ID,
			core.WrapError(core.CodeToolExecution, "tool "+action.ToolName+" returned an unserializable result", err), dur)
	}

	e.opts.Logger.Debug("tool.call.success", "tool", action.ToolName, "duration", dur)

	return core.NewSuccessObservation(action.ID, payload, dur)
}

// runDelegate routes a delegation marker action to the spawner. A depth
// budget rejection is recoverable and becomes an observation like any other
// tool failure.
func (e *Engine) runDelegate(ctx context.Context, session *core.Session, action core.Action, args map[string]any) core.Observation {
	if e.delegator == nil {
		return core.NewToolErrorObservation(action.ID,
			core.NewError(core.CodeToolExecution, "delegation requested but no delegator is configured"), 0)
	}

	task := core.SubAgentTask{ParentID: session.ID}
	if goal, ok := args["goal"].(string); ok {
		task.Goal = goal
	}
	if taskCtx, ok := args["context"].(string); ok {
		task.Context = taskCtx
	}

	// Delegation runs under the same per-action deadline as a plain tool
	// call, so a stuck sub-agent cannot wedge the parent's batch.
	actionCtx := ctx
	if e.opts.ActionTimeout > 0 {
		var cancelTimeout context.CancelFunc
		actionCtx, cancelTimeout = context.WithTimeout(ctx, e.opts.ActionTimeout)
		defer cancelTimeout()
	}

	start := time.Now()

	e.opts.Logger.Info("delegate.start", "session_id", session.ID, "goal", task.Goal, "depth", session.Depth)

	answer, err := e.delegator.Delegate(actionCtx, session, task)
	dur := time.Since(start)

	if err != nil {
		if cause := context.Cause(ctx); cause != nil && core.CodeOf(err) == core.CodeCancelled {
			return core.NewCancelledObservation(action.ID, cause)
		}

		e.opts.Logger.Warn("delegate.error", "session_id", session.ID, "error", err.Error(), "duration", dur)

		return core.NewToolErrorObservation(action.ID, err, dur)
	}

	e.opts.Logger.Info("delegate.success", "session_id", session.ID, "duration", dur)

	return core.NewSuccessObservation(action.ID, answer, dur)
}

// decodeArguments parses the raw action payload into the map form tools and
// validators consume. An empty payload is an empty argument set.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}

	if args == nil {
		args = map[string]any{}
	}

	return args, nil
}

// stringifyResult converts a tool's return value into an observation
// payload. Strings pass through; everything else is JSON encoded.
func stringifyResult(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", err
		}

		return string(encoded), nil
	}
}
