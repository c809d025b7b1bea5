package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reagent-ai/reagent/core"
	"github.com/reagent-ai/reagent/internal/testutil"
	"github.com/reagent-ai/reagent/tool"
)

func echoArgsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []string{"text"},
	}
}

func newEchoTool(name string, delay time.Duration) tool.Tool {
	return tool.NewFunctionTool(name, "echoes its text argument", echoArgsSchema(),
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-toolCtx.Context().Done():
					return nil, toolCtx.Context().Err()
				}
			}

			return args["text"], nil
		})
}

func textArgs(t *testing.T, text string) json.RawMessage {
	t.Helper()

	raw, err := json.Marshal(map[string]any{"text": text})
	require.NoError(t, err)

	return raw
}

func TestExecuteBatchPreservesProposalOrder(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(newEchoTool("slow_echo", 60*time.Millisecond)))
	require.NoError(t, registry.Register(newEchoTool("fast_echo", 0)))

	engine := NewEngine(registry, nil)
	session := testutil.NewSession(t, "order check", core.Budget{})

	batch := []core.Action{
		core.NewAction("slow_echo", textArgs(t, "first")),
		core.NewAction("fast_echo", textArgs(t, "second")),
		core.NewAction("fast_echo", textArgs(t, "third")),
	}

	observations := engine.ExecuteBatch(context.Background(), session, batch)
	require.Len(t, observations, 3)

	for i, obs := range observations {
		assert.Equal(t, batch[i].ID, obs.ActionID)
		assert.Equal(t, core.ObservationSuccess, obs.Kind)
	}

	assert.Equal(t, "first", observations[0].Payload)
	assert.Equal(t, "second", observations[1].Payload)
	assert.Equal(t, "third", observations[2].Payload)
}

func TestExecuteBatchUnknownTool(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(newEchoTool("echo", 0)))

	engine := NewEngine(registry, nil)
	session := testutil.NewSession(t, "unknown tool", core.Budget{})

	observations := engine.ExecuteBatch(context.Background(), session,
		[]core.Action{core.NewAction("foo_bar", nil)})

	require.Len(t, observations, 1)
	assert.Equal(t, core.ObservationInvalidAction, observations[0].Kind)
	assert.Contains(t, observations[0].Payload, "foo_bar")
	assert.Contains(t, observations[0].Payload, "echo")
}

func TestExecuteBatchInvalidArguments(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(newEchoTool("echo", 0)))

	engine := NewEngine(registry, nil)
	session := testutil.NewSession(t, "invalid args", core.Budget{})

	tests := []struct {
		name string
		raw  json.RawMessage
	}{
		{name: "missing required field", raw: json.RawMessage(`{}`)},
		{name: "wrong type", raw: json.RawMessage(`{"text": 7}`)},
		{name: "not an object", raw: json.RawMessage(`[1, 2]`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observations := engine.ExecuteBatch(context.Background(), session,
				[]core.Action{core.NewAction("echo", tt.raw)})

			require.Len(t, observations, 1)
			assert.Equal(t, core.ObservationInvalidAction, observations[0].Kind)
		})
	}
}

func TestExecuteBatchFailFastCancelsSiblings(t *testing.T) {
	registry := tool.NewRegistry()

	failing := tool.NewFunctionTool("critical_step", "always fails", map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			time.Sleep(10 * time.Millisecond)

			return nil, errors.New("disk full")
		})
	require.NoError(t, registry.Register(failing, tool.WithFailFast()))

	blocking := tool.NewFunctionTool("long_step", "waits for cancellation", map[string]any{"type": "object"},
		func(toolCtx *core.ToolContext, _ map[string]any) (any, error) {
			select {
			case <-toolCtx.Context().Done():
				return nil, toolCtx.Context().Err()
			case <-time.After(5 * time.Second):
				return "should never finish", nil
			}
		})
	require.NoError(t, registry.Register(blocking))

	engine := NewEngine(registry, nil)
	session := testutil.NewSession(t, "fail fast", core.Budget{})

	batch := []core.Action{
		core.NewAction("long_step", nil),
		core.NewAction("critical_step", nil),
		core.NewAction("long_step", nil),
	}

	observations := engine.ExecuteBatch(context.Background(), session, batch)
	require.Len(t, observations, 3)

	assert.Equal(t, core.ObservationCancelled, observations[0].Kind)
	assert.Equal(t, core.ObservationToolError, observations[1].Kind)
	assert.Contains(t, observations[1].Payload, "disk full")
	assert.Equal(t, core.ObservationCancelled, observations[2].Kind)

	for i, obs := range observations {
		assert.Equal(t, batch[i].ID, obs.ActionID)
	}
}

func TestExecuteBatchNonFailFastErrorDoesNotCascade(t *testing.T) {
	registry := tool.NewRegistry()

	failing := tool.NewFunctionTool("flaky_step", "always fails", map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			return nil, errors.New("transient glitch")
		})
	require.NoError(t, registry.Register(failing))
	require.NoError(t, registry.Register(newEchoTool("echo", 20*time.Millisecond)))

	engine := NewEngine(registry, nil)
	session := testutil.NewSession(t, "isolated failure", core.Budget{})

	observations := engine.ExecuteBatch(context.Background(), session, []core.Action{
		core.NewAction("flaky_step", nil),
		core.NewAction("echo", textArgs(t, "survives")),
	})

	require.Len(t, observations, 2)
	assert.Equal(t, core.ObservationToolError, observations[0].Kind)
	assert.Equal(t, core.ObservationSuccess, observations[1].Kind)
	assert.Equal(t, "survives", observations[1].Payload)
}

func TestExecuteBatchRecoversPanics(t *testing.T) {
	registry := tool.NewRegistry()

	panicking := tool.NewFunctionTool("unstable", "panics", map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			panic("index out of range")
		})
	require.NoError(t, registry.Register(panicking))

	engine := NewEngine(registry, nil)
	session := testutil.NewSession(t, "panic recovery", core.Budget{})

	observations := engine.ExecuteBatch(context.Background(), session,
		[]core.Action{core.NewAction("unstable", nil)})

	require.Len(t, observations, 1)
	assert.Equal(t, core.ObservationToolError, observations[0].Kind)
	assert.Contains(t, observations[0].Payload, "index out of range")
}

func TestExecuteBatchMaxParallelBound(t *testing.T) {
	registry := tool.NewRegistry()

	var active, peak atomic.Int32

	counting := tool.NewFunctionTool("counting", "tracks concurrency", map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			active.Add(-1)

			return "ok", nil
		})
	require.NoError(t, registry.Register(counting))

	engine := NewEngine(registry, nil, func(o *EngineOptions) { o.MaxParallel = 2 })
	session := testutil.NewSession(t, "parallel bound", core.Budget{})

	batch := make([]core.Action, 6)
	for i := range batch {
		batch[i] = core.NewAction("counting", nil)
	}

	observations := engine.ExecuteBatch(context.Background(), session, batch)
	require.Len(t, observations, 6)

	for _, obs := range observations {
		assert.Equal(t, core.ObservationSuccess, obs.Kind)
	}

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecuteBatchSerialToolsDoNotOverlap(t *testing.T) {
	registry := tool.NewRegistry()

	var active, peak atomic.Int32

	serial := tool.NewFunctionTool("stateful", "not concurrency safe", map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)

			return "ok", nil
		})
	require.NoError(t, registry.Register(serial, tool.WithSerial()))

	engine := NewEngine(registry, nil)
	session := testutil.NewSession(t, "serial", core.Budget{})

	observations := engine.ExecuteBatch(context.Background(), session, []core.Action{
		core.NewAction("stateful", nil),
		core.NewAction("stateful", nil),
		core.NewAction("stateful", nil),
	})

	require.Len(t, observations, 3)
	assert.Equal(t, int32(1), peak.Load())
}

func TestExecuteBatchActionTimeout(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(newEchoTool("slow_echo", time.Second)))

	engine := NewEngine(registry, nil, func(o *EngineOptions) {
		o.ActionTimeout = 20 * time.Millisecond
	})
	session := testutil.NewSession(t, "timeout", core.Budget{})

	observations := engine.ExecuteBatch(context.Background(), session,
		[]core.Action{core.NewAction("slow_echo", textArgs(t, "too slow"))})

	require.Len(t, observations, 1)
	assert.Equal(t, core.ObservationToolError, observations[0].Kind)
	assert.Contains(t, observations[0].Payload, "deadline exceeded")
}

func TestExecuteBatchCancelledRun(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(newEchoTool("echo", 0)))

	engine := NewEngine(registry, nil)
	session := testutil.NewSession(t, "aborted", core.Budget{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	observations := engine.ExecuteBatch(ctx, session,
		[]core.Action{core.NewAction("echo", textArgs(t, "never runs"))})

	require.Len(t, observations, 1)
	assert.Equal(t, core.ObservationCancelled, observations[0].Kind)
}

func TestExecuteBatchEncodesStructuredResults(t *testing.T) {
	registry := tool.NewRegistry()

	structured := tool.NewFunctionTool("lookup", "returns structured data", map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			return map[string]any{"count": 3, "status": "ok"}, nil
		})
	require.NoError(t, registry.Register(structured))

	engine := NewEngine(registry, nil)
	session := testutil.NewSession(t, "structured", core.Budget{})

	observations := engine.ExecuteBatch(context.Background(), session,
		[]core.Action{core.NewAction("lookup", nil)})

	require.Len(t, observations, 1)
	assert.Equal(t, core.ObservationSuccess, observations[0].Kind)
	assert.JSONEq(t, `{"count": 3, "status": "ok"}`, observations[0].Payload)
}

type stubDelegator struct {
	answer string
	err    error
	tasks  []core.SubAgentTask
}

func (d *stubDelegator) Delegate(_ context.Context, _ *core.Session, task core.SubAgentTask) (string, error) {
	d.tasks = append(d.tasks, task)
	if d.err != nil {
		return "", d.err
	}

	return d.answer, nil
}

func TestExecuteBatchRoutesDelegateActions(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(tool.NewDelegateTool(), tool.WithDelegate()))

	delegator := &stubDelegator{answer: "sub-task done"}
	engine := NewEngine(registry, delegator)
	session := testutil.NewSession(t, "delegation", core.Budget{})

	raw, err := json.Marshal(map[string]any{
		"goal":    "summarize the error log",
		"context": "logs are in /var/log/app.log",
	})
	require.NoError(t, err)

	observations := engine.ExecuteBatch(context.Background(), session,
		[]core.Action{core.NewAction(tool.DelegateToolName, raw)})

	require.Len(t, observations, 1)
	assert.Equal(t, core.ObservationSuccess, observations[0].Kind)
	assert.Equal(t, "sub-task done", observations[0].Payload)

	require.Len(t, delegator.tasks, 1)
	assert.Equal(t, "summarize the error log", delegator.tasks[0].Goal)
	assert.Equal(t, "logs are in /var/log/app.log", delegator.tasks[0].Context)
	assert.Equal(t, session.ID, delegator.tasks[0].ParentID)
}

func TestExecuteBatchDelegateDepthRejection(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(tool.NewDelegateTool(), tool.WithDelegate()))

	delegator := &stubDelegator{
		err: core.Errorf(core.CodeDepthBudgetExceeded, "delegation depth 3 exceeds budget"),
	}
	engine := NewEngine(registry, delegator)
	session := testutil.NewSession(t, "too deep", core.Budget{})

	raw := json.RawMessage(`{"goal": "go deeper"}`)

	observations := engine.ExecuteBatch(context.Background(), session,
		[]core.Action{core.NewAction(tool.DelegateToolName, raw)})

	require.Len(t, observations, 1)
	assert.Equal(t, core.ObservationToolError, observations[0].Kind)
	assert.Contains(t, observations[0].Payload, string(core.CodeDepthBudgetExceeded))
}

// blockedDelegator stands in for a sub-agent that never finishes on its own.
type blockedDelegator struct{}

func (blockedDelegator) Delegate(ctx context.Context, _ *core.Session, _ core.SubAgentTask) (string, error) {
	<-ctx.Done()
	return "", core.Errorf(core.CodeCancelled, "delegated run cancelled: %s", context.Cause(ctx))
}

func TestExecuteBatchDelegateHonorsActionTimeout(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(tool.NewDelegateTool(), tool.WithDelegate()))

	engine := NewEngine(registry, blockedDelegator{}, func(o *EngineOptions) {
		o.ActionTimeout = 20 * time.Millisecond
	})
	session := testutil.NewSession(t, "stuck sub-agent", core.Budget{})

	start := time.Now()
	observations := engine.ExecuteBatch(context.Background(), session,
		[]core.Action{core.NewAction(tool.DelegateToolName, json.RawMessage(`{"goal": "never returns"}`))})

	require.Len(t, observations, 1)
	assert.Equal(t, core.ObservationToolError, observations[0].Kind)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecuteBatchDelegateWithoutDelegator(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(tool.NewDelegateTool(), tool.WithDelegate()))

	engine := NewEngine(registry, nil)
	session := testutil.NewSession(t, "unwired", core.Budget{})

	observations := engine.ExecuteBatch(context.Background(), session,
		[]core.Action{core.NewAction(tool.DelegateToolName, json.RawMessage(`{"goal": "anything"}`))})

	require.Len(t, observations, 1)
	assert.Equal(t, core.ObservationToolError, observations[0].Kind)
	assert.Contains(t, observations[0].Payload, "no delegator")
}

func TestExecuteBatchEmpty(t *testing.T) {
	engine := NewEngine(tool.NewRegistry(), nil)
	session := testutil.NewSession(t, "empty", core.Budget{})

	assert.Nil(t, engine.ExecuteBatch(context.Background(), session, nil))
}

func TestStringifyResult(t *testing.T) {
	tests := []struct {
		name   string
		result any
		want   string
	}{
		{name: "string passthrough", result: "plain text", want: "plain text"},
		{name: "nil", result: nil, want: ""},
		{name: "number", result: 42, want: "42"},
		{name: "slice", result: []string{"a", "b"}, want: `["a","b"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := stringifyResult(tt.result)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := stringifyResult(func() {})
	assert.Error(t, err)
}

func TestStringifyResultUnserializable(t *testing.T) {
	_, err := stringifyResult(make(chan int))
	require.Error(t, err)
	assert.Contains(t, fmt.Sprintf("%v", err), "chan")
}
