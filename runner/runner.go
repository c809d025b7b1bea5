// Package runner exposes asynchronous execution on top of the reasoning
// loop: runs are started in the background, committed turns stream to the
// caller, and in-flight runs can be cancelled by ID.
package runner

import (
	"context"
	"sync"

	"github.com/reagent-ai/reagent/core"
	"github.com/reagent-ai/reagent/logging"
)

// Loop is one reasoning loop bound to its session, ready to run to a
// terminal state. The agent package's controller satisfies it.
type Loop interface {
	Run(ctx context.Context) (string, error)
	Session() *core.Session
}

// LoopFactory builds a loop for a fresh root goal with the run's sinks wired
// in. tokenSink is nil when the run does not stream tokens.
type LoopFactory func(goal string, turnSink func(core.Turn), tokenSink func(token string)) Loop

// Options holds configuration overrides passed to New.
type Options struct {
	// TurnBufferSize sets channel buffering for forwarded turns.
	TurnBufferSize int

	// TokenSink, when set, receives streamed orchestrator tokens for every
	// run started by this runner.
	TokenSink func(token string)

	Logger logging.Logger
}

// Runner starts reasoning loops in the background and tracks them by run ID.
// Public methods are safe for concurrent use.
type Runner struct {
	factory LoopFactory

	turnBufferSize int
	tokenSink      func(token string)
	logger         logging.Logger

	activeRuns map[string]context.CancelFunc
	mu         sync.Mutex
}

// New constructs a Runner on top of a loop factory.
func New(factory LoopFactory, optFns ...func(o *Options)) *Runner {
	opts := Options{
		TurnBufferSize: 100,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Runner{
		factory:        factory,
		turnBufferSize: opts.TurnBufferSize,
		tokenSink:      opts.TokenSink,
		logger:         logging.OrNoOp(opts.Logger),
		activeRuns:     make(map[string]context.CancelFunc),
	}
}

// Run starts an asynchronous run for the goal. Turns are forwarded as the
// loop commits them; a terminal error, if any, arrives on the error channel.
// Both channels close when the run reaches a terminal status.
func (r *Runner) Run(ctx context.Context, goal string) (string, <-chan core.Turn, <-chan error, error) {
	if goal == "" {
		return "", nil, nil, core.NewError(core.CodeInvalidAction, "goal is empty")
	}

	runID := core.NewID()

	turnsCh := make(chan core.Turn, r.turnBufferSize)
	errorsCh := make(chan error, 1)

	runCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.activeRuns[runID] = cancel
	r.mu.Unlock()

	turnSink := func(turn core.Turn) {
		select {
		case turnsCh <- turn:
		case <-runCtx.Done():
		}
	}

	loop := r.factory(goal, turnSink, r.tokenSink)

	r.logger.Info("runner.run.start", "run_id", runID, "session_id", loop.Session().ID)

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.activeRuns, runID)
			r.mu.Unlock()

			close(turnsCh)
			close(errorsCh)
			cancel()
		}()

		answer, err := loop.Run(runCtx)
		status := loop.Session().Status()

		if err != nil {
			r.logger.Warn("runner.run.failed", "run_id", runID, "status", string(status), "error", err.Error())
			errorsCh <- err

			return
		}

		r.logger.Info("runner.run.finished",
			"run_id", runID, "status", string(status), "answer_len", len(answer))
	}()

	return runID, turnsCh, errorsCh, nil
}

// Cancel aborts a running run by ID.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, exists := r.activeRuns[runID]
	r.mu.Unlock()

	if !exists {
		return core.Errorf(core.CodeInvalidAction, "run %s not found", runID)
	}

	cancel()

	return nil
}

// Active returns the number of runs still in flight.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.activeRuns)
}
