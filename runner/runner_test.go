package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reagent-ai/reagent/core"
)

type stubLoop struct {
	session  *core.Session
	turnSink func(core.Turn)
	block    chan struct{}
	answer   string
	err      error
}

func (l *stubLoop) Session() *core.Session { return l.session }

func (l *stubLoop) Run(ctx context.Context) (string, error) {
	l.turnSink(l.session.AppendTurn(core.RoleThought, "working"))

	if l.block != nil {
		select {
		case <-l.block:
		case <-ctx.Done():
			_ = l.session.SetStatus(core.StatusAborted)

			return "", core.WrapError(core.CodeCancelled, "run aborted", ctx.Err())
		}
	}

	if l.err != nil {
		_ = l.session.SetStatus(core.StatusError)

		return "", l.err
	}

	l.turnSink(l.session.AppendTurn(core.RoleThought, l.answer))
	_ = l.session.SetStatus(core.StatusCompleted)

	return l.answer, nil
}

func stubFactory(loop *stubLoop) LoopFactory {
	return func(goal string, turnSink func(core.Turn), _ func(string)) Loop {
		loop.session = core.NewSession(goal, core.Budget{MaxTurns: 10, MaxHistory: 100})
		loop.turnSink = turnSink

		return loop
	}
}

func drain(t *testing.T, turns <-chan core.Turn, errs <-chan error) ([]core.Turn, error) {
	t.Helper()

	var (
		collected []core.Turn
		runErr    error
	)

	for turns != nil || errs != nil {
		select {
		case turn, ok := <-turns:
			if !ok {
				turns = nil

				continue
			}
			collected = append(collected, turn)
		case err, ok := <-errs:
			if !ok {
				errs = nil

				continue
			}
			runErr = err
		case <-time.After(2 * time.Second):
			t.Fatal("timed out draining run channels")
		}
	}

	return collected, runErr
}

func TestRunnerForwardsTurnsAndCompletes(t *testing.T) {
	loop := &stubLoop{answer: "done"}
	r := New(stubFactory(loop))

	runID, turns, errs, err := r.Run(context.Background(), "a goal")
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	collected, runErr := drain(t, turns, errs)
	require.NoError(t, runErr)

	require.Len(t, collected, 2)
	assert.Equal(t, "working", collected[0].Content)
	assert.Equal(t, "done", collected[1].Content)

	assert.Equal(t, core.StatusCompleted, loop.session.Status())
	assert.Zero(t, r.Active())
}

func TestRunnerRejectsEmptyGoal(t *testing.T) {
	r := New(stubFactory(&stubLoop{}))

	_, _, _, err := r.Run(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, core.CodeInvalidAction, core.CodeOf(err))
}

func TestRunnerSurfacesLoopError(t *testing.T) {
	loop := &stubLoop{err: core.NewError(core.CodeEndpointUnavailable, "endpoint gone")}
	r := New(stubFactory(loop))

	_, turns, errs, err := r.Run(context.Background(), "a goal")
	require.NoError(t, err)

	_, runErr := drain(t, turns, errs)
	require.Error(t, runErr)
	assert.Equal(t, core.CodeEndpointUnavailable, core.CodeOf(runErr))
}

func TestRunnerCancelAbortsRun(t *testing.T) {
	loop := &stubLoop{answer: "never", block: make(chan struct{})}
	r := New(stubFactory(loop))

	runID, turns, errs, err := r.Run(context.Background(), "a goal")
	require.NoError(t, err)

	require.NoError(t, r.Cancel(runID))

	_, runErr := drain(t, turns, errs)
	require.Error(t, runErr)
	assert.Equal(t, core.CodeCancelled, core.CodeOf(runErr))
	assert.Equal(t, core.StatusAborted, loop.session.Status())

	// A finished run is no longer cancellable.
	assert.Error(t, r.Cancel(runID))
}

func TestRunnerCancelUnknownRun(t *testing.T) {
	r := New(stubFactory(&stubLoop{}))

	assert.Error(t, r.Cancel("missing"))
}
