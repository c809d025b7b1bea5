package model

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reagent-ai/reagent/core"
)

func fastRetries(o *RouterOptions) {
	o.MaxAttempts = 3
	o.RetryBaseDelay = time.Millisecond
	o.RetryMaxDelay = 5 * time.Millisecond
	o.CallTimeout = time.Second
}

func TestSubmitCollectsStream(t *testing.T) {
	mock := NewMockModel("test", "mock")
	mock.AddResponse("hello", "hi there")

	router := NewRouter(mock, mock, fastRetries)

	resp, err := router.Submit(context.Background(), RoleExecutor, Request{
		Messages: []Message{UserMessage("hello")},
		Stream:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestStreamEmitsChunksThenFinal(t *testing.T) {
	mock := NewMockModel("test", "mock")
	mock.AddResponse("count", "12345")

	router := NewRouter(mock, mock, fastRetries)

	respCh, errCh := router.Stream(context.Background(), RoleExecutor, Request{
		Messages: []Message{UserMessage("count")},
	})

	var (
		chunks strings.Builder
		final  *Response
	)
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil

				continue
			}
			if resp.Partial {
				chunks.WriteString(resp.Content)

				continue
			}
			final = &resp
		case err, ok := <-errCh:
			if !ok {
				errCh = nil

				continue
			}
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("timed out draining the stream")
		}
	}

	assert.Equal(t, "12345", chunks.String())
	require.NotNil(t, final)
	assert.Equal(t, "12345", final.Content)

	// Stream forces the streaming flag on the forwarded request.
	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Stream)
}

func TestStreamTearsDownOnCancel(t *testing.T) {
	mock := NewMockModel("test", "mock")
	// Longer than the producer's channel buffer, so the stream is still
	// mid-flight when the caller cancels.
	mock.AddResponse("long", strings.Repeat("a", 64))

	ctx, cancel := context.WithCancel(context.Background())
	router := NewRouter(mock, mock, fastRetries)

	respCh, errCh := router.Stream(ctx, RoleExecutor, Request{
		Messages: []Message{UserMessage("long")},
	})

	select {
	case resp := <-respCh:
		assert.True(t, resp.Partial)
	case <-time.After(time.Second):
		t.Fatal("no chunk arrived")
	}

	cancel()

	var streamErr error
	deadline := time.After(time.Second)
	for respCh != nil || errCh != nil {
		select {
		case _, ok := <-respCh:
			if !ok {
				respCh = nil
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil

				continue
			}
			streamErr = err
		case <-deadline:
			t.Fatal("stream did not tear down after cancel")
		}
	}

	require.Error(t, streamErr)
	assert.ErrorIs(t, streamErr, context.Canceled)
}

func TestSubmitRetriesTransientThenSucceeds(t *testing.T) {
	mock := NewMockModel("test", "mock")
	mock.EnqueueError(errors.New("connection refused"))
	mock.Enqueue(Response{Content: "recovered"})

	router := NewRouter(mock, mock, fastRetries)

	resp, err := router.Submit(context.Background(), RoleExecutor, Request{
		Messages: []Message{UserMessage("x")},
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 2, mock.CallCount())
}

func TestSubmitExhaustedIsEndpointUnavailable(t *testing.T) {
	mock := NewMockModel("test", "mock")
	mock.EnqueueError(
		errors.New("connection refused"),
		errors.New("connection refused"),
		errors.New("connection refused"),
	)

	router := NewRouter(mock, mock, fastRetries)

	_, err := router.Submit(context.Background(), RoleExecutor, Request{
		Messages: []Message{UserMessage("x")},
	})
	require.Error(t, err)
	assert.Equal(t, core.CodeEndpointUnavailable, core.CodeOf(err))
	assert.Equal(t, 3, mock.CallCount())
}

func TestSubmitNonTransientFailsFast(t *testing.T) {
	mock := NewMockModel("test", "mock")
	mock.EnqueueError(errors.New("invalid api key"))

	router := NewRouter(mock, mock, fastRetries)

	_, err := router.Submit(context.Background(), RoleExecutor, Request{
		Messages: []Message{UserMessage("x")},
	})
	require.Error(t, err)
	assert.Equal(t, 1, mock.CallCount(), "non-transient errors must not be retried")
}

func TestSubmitCancelled(t *testing.T) {
	mock := NewMockModel("test", "mock")
	mock.EnqueueError(errors.New("connection refused"))

	router := NewRouter(mock, mock, fastRetries)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := router.Submit(ctx, RoleExecutor, Request{
		Messages: []Message{UserMessage("x")},
	})
	require.Error(t, err)
	assert.Equal(t, core.CodeCancelled, core.CodeOf(err))
}

func TestDecideFinalAnswer(t *testing.T) {
	mock := NewMockModel("test", "mock")
	mock.Enqueue(Response{Content: "The answer is 42."})

	router := NewRouter(mock, mock, fastRetries)

	decision, err := router.Decide(context.Background(), Request{
		Messages: []Message{UserMessage("what is the answer")},
	}, nil)
	require.NoError(t, err)
	assert.True(t, decision.Final)
	assert.Equal(t, "The answer is 42.", decision.Content)
	assert.Empty(t, decision.Actions)
}

func TestDecideParsesActionBatch(t *testing.T) {
	mock := NewMockModel("test", "mock")
	mock.Enqueue(Response{
		Content: "I will write the code first.",
		ToolCalls: []ToolCall{
			{ID: "tc-1", Name: "write_code", Arguments: json.RawMessage(`{"task":"hello","language":"go"}`)},
			{Name: "explain_code", Arguments: json.RawMessage(`{"code":"x"}`)},
		},
	})

	router := NewRouter(mock, mock, fastRetries)

	decision, err := router.Decide(context.Background(), Request{
		Messages: []Message{UserMessage("go")},
	}, nil)
	require.NoError(t, err)
	assert.False(t, decision.Final)
	assert.Equal(t, "I will write the code first.", decision.Thought)
	require.Len(t, decision.Actions, 2)

	assert.Equal(t, "tc-1", decision.Actions[0].ID)
	assert.Equal(t, "write_code", decision.Actions[0].ToolName)
	assert.NotEmpty(t, decision.Actions[1].ID, "missing tool call IDs are filled in")
	assert.Equal(t, decision.Actions[0].BatchID, decision.Actions[1].BatchID,
		"actions proposed together share a batch")
}

func TestDecideCorrectiveRepromptOnce(t *testing.T) {
	mock := NewMockModel("test", "mock")
	mock.Enqueue(
		Response{ToolCalls: []ToolCall{{Name: "write_code", Arguments: json.RawMessage(`not-json`)}}},
		Response{ToolCalls: []ToolCall{{Name: "write_code", Arguments: json.RawMessage(`{"task":"x"}`)}}},
	)

	router := NewRouter(mock, mock, fastRetries)

	decision, err := router.Decide(context.Background(), Request{
		Messages: []Message{UserMessage("go")},
	}, nil)
	require.NoError(t, err)
	require.Len(t, decision.Actions, 1)
	assert.Equal(t, 2, mock.CallCount())

	// The repair request must include the parse feedback.
	reqs := mock.Requests()
	repairMsgs := reqs[1].Messages
	last := repairMsgs[len(repairMsgs)-1]
	assert.Contains(t, last.Content, "could not be parsed")
}

func TestDecideMalformedAfterReprompt(t *testing.T) {
	mock := NewMockModel("test", "mock")
	mock.Enqueue(
		Response{ToolCalls: []ToolCall{{Name: "write_code", Arguments: json.RawMessage(`{`)}}},
		Response{ToolCalls: []ToolCall{{Name: "", Arguments: json.RawMessage(`{}`)}}},
	)

	router := NewRouter(mock, mock, fastRetries)

	_, err := router.Decide(context.Background(), Request{
		Messages: []Message{UserMessage("go")},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, core.CodeMalformedModelOutput, core.CodeOf(err))
	assert.Equal(t, 2, mock.CallCount(), "exactly one corrective re-prompt")
}

func TestDecideStreamsTokens(t *testing.T) {
	mock := NewMockModel("test", "mock")
	mock.Enqueue(Response{Content: "streamed answer"})

	router := NewRouter(mock, mock, fastRetries)

	var tokens strings.Builder
	decision, err := router.Decide(context.Background(), Request{
		Messages: []Message{UserMessage("go")},
	}, func(tok string) { tokens.WriteString(tok) })
	require.NoError(t, err)
	assert.True(t, decision.Final)
	assert.Equal(t, "streamed answer", tokens.String())
}

func TestGenerateContent(t *testing.T) {
	mock := NewMockModel("test", "mock")
	mock.AddResponse("write fizzbuzz", "func FizzBuzz() {}")

	router := NewRouter(mock, mock, fastRetries)

	content, err := router.GenerateContent(context.Background(), "write fizzbuzz")
	require.NoError(t, err)
	assert.Equal(t, "func FizzBuzz() {}", content)
}

type verifyModel struct {
	*MockModel
	err      error
	verified bool
}

func (v *verifyModel) Verify(context.Context) error {
	v.verified = true
	return v.err
}

func TestVerifyPreflight(t *testing.T) {
	healthy := &verifyModel{MockModel: NewMockModel("orc", "mock")}
	router := NewRouter(healthy, healthy, fastRetries)
	require.NoError(t, router.Verify(context.Background()))
	assert.True(t, healthy.verified)

	broken := &verifyModel{MockModel: NewMockModel("exe", "mock"), err: errors.New("no such model")}
	router = NewRouter(healthy, broken, fastRetries)
	err := router.Verify(context.Background())
	require.Error(t, err)
	assert.Equal(t, core.CodeEndpointUnavailable, core.CodeOf(err))
}

func TestApplyRoleOptions(t *testing.T) {
	mock := NewMockModel("test", "mock")
	router := NewRouter(mock, mock, func(o *RouterOptions) {
		fastRetries(o)
		o.Orchestrator = GenerationOptions{Temperature: 0.1, MaxTokens: 512}
	})

	mock.Enqueue(Response{Content: "ok"})
	_, err := router.Decide(context.Background(), Request{
		Messages: []Message{UserMessage("go")},
	}, nil)
	require.NoError(t, err)

	req := mock.Requests()[0]
	assert.InDelta(t, 0.1, req.Options.Temperature, 1e-9)
	assert.EqualValues(t, 512, req.Options.MaxTokens)
}
