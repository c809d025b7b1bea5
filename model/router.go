package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"github.com/reagent-ai/reagent/core"
	"github.com/reagent-ai/reagent/logging"
	"github.com/reagent-ai/reagent/metrics"
)

// Role selects which of the two model roles handles a call.
type Role string

const (
	// RoleOrchestrator selects the next action batch for a session.
	RoleOrchestrator Role = "orchestrator"
	// RoleExecutor generates code or content on behalf of a tool.
	RoleExecutor Role = "executor"
)

// Decision is the parsed outcome of one orchestrator call: either a final
// answer or a thought plus a batch of proposed actions.
type Decision struct {
	Final   bool
	Content string // final answer text when Final is set
	Thought string
	Actions []core.Action
}

// RouterOptions configure retry, timeout and per-role generation behavior.
type RouterOptions struct {
	// MaxAttempts bounds transport retries per call, first attempt included.
	MaxAttempts int
	// RetryBaseDelay is the backoff before the first retry; doubled per
	// attempt with jitter up to RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// CallTimeout bounds one model call attempt. Zero disables the bound.
	CallTimeout time.Duration

	// Orchestrator and Executor carry the per-role generation defaults.
	Orchestrator GenerationOptions
	Executor     GenerationOptions

	Logger  logging.Logger
	Metrics metrics.Recorder
}

// Router is the uniform entry point to both model roles. It is read-mostly
// after construction and safe for concurrent use by in-flight actions: a tool
// invoking the executor role never interferes with a sibling's call.
type Router struct {
	models map[Role]Model
	opts   RouterOptions

	logger  logging.Logger
	metrics metrics.Recorder
}

// NewRouter wires the orchestrator and executor roles. The same Model may
// serve both roles.
func NewRouter(orchestrator, executor Model, optFns ...func(o *RouterOptions)) *Router {
	opts := RouterOptions{
		MaxAttempts:    3,
		RetryBaseDelay: 100 * time.Millisecond,
		RetryMaxDelay:  10 * time.Second,
		CallTimeout:    120 * time.Second,
		Orchestrator:   GenerationOptions{Temperature: 0.1},
		Executor:       GenerationOptions{Temperature: 0.7},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Router{
		models: map[Role]Model{
			RoleOrchestrator: orchestrator,
			RoleExecutor:     executor,
		},
		opts:    opts,
		logger:  logging.OrNoOp(opts.Logger),
		metrics: metrics.OrNop(opts.Metrics),
	}
}

// Model returns the model serving a role.
func (r *Router) Model(role Role) Model { return r.models[role] }

// Verify pings every distinct provider that implements HealthChecker,
// surfacing an unreachable endpoint before any turn is consumed.
func (r *Router) Verify(ctx context.Context) error {
	seen := make(map[Model]bool, len(r.models))
	for role, mdl := range r.models {
		if seen[mdl] {
			continue
		}
		seen[mdl] = true

		hc, ok := mdl.(HealthChecker)
		if !ok {
			continue
		}

		if err := hc.Verify(ctx); err != nil {
			return core.WrapError(core.CodeEndpointUnavailable,
				fmt.Sprintf("%s model %q failed preflight", role, mdl.Info().Name), err)
		}

		r.logger.Debug("router.verify.ok", "role", string(role), "model", mdl.Info().Name)
	}

	return nil
}

// Submit performs one call against a role, collecting the streamed chunks
// into the final response. Transient transport failures are retried with
// exponential backoff and jitter up to the attempt ceiling, after which the
// call fails with EndpointUnavailable.
func (r *Router) Submit(ctx context.Context, role Role, req Request) (Response, error) {
	return r.submit(ctx, role, req, nil)
}

// Stream performs one call against a role, exposing the raw chunk sequence.
// The sequence is finite and non-restartable; cancelling ctx tears it down.
func (r *Router) Stream(ctx context.Context, role Role, req Request) (<-chan Response, <-chan error) {
	req = r.applyRoleOptions(role, req)
	req.Stream = true

	return r.models[role].Generate(ctx, req)
}

// GenerateContent is the executor-role helper used by content tools: a
// single prompt in, the completed text out.
func (r *Router) GenerateContent(ctx context.Context, prompt string, optFns ...func(o *GenerationOptions)) (string, error) {
	req := Request{Messages: []Message{UserMessage(prompt)}}
	req = r.applyRoleOptions(RoleExecutor, req)

	for _, fn := range optFns {
		fn(&req.Options)
	}

	resp, err := r.submit(ctx, RoleExecutor, req, nil)
	if err != nil {
		return "", err
	}

	return resp.Content, nil
}

// Decide performs one orchestrator call and parses the result into a
// Decision. A response whose tool call arguments do not parse triggers
// exactly one corrective re-prompt; a second malformed response fails with
// MalformedModelOutput. When onToken is non-nil the call streams and every
// content delta is forwarded to it.
func (r *Router) Decide(ctx context.Context, req Request, onToken func(token string)) (*Decision, error) {
	req = r.applyRoleOptions(RoleOrchestrator, req)

	resp, err := r.submit(ctx, RoleOrchestrator, req, onToken)
	if err != nil {
		return nil, err
	}

	decision, parseErr := parseDecision(resp)
	if parseErr == nil {
		return decision, nil
	}

	r.logger.Warn("router.decide.malformed", "error", parseErr.Error())

	// One corrective re-prompt: show the model its own output and the parse
	// failure so it can re-issue well-formed tool calls.
	repair := req
	repair.Messages = append(append([]Message{}, req.Messages...),
		AssistantMessage(resp.Content),
		UserMessage(fmt.Sprintf(
			"Your previous tool calls could not be parsed: %s. Re-issue the tool calls with valid JSON object arguments, or answer directly without tools.",
			parseErr)),
	)

	resp, err = r.submit(ctx, RoleOrchestrator, repair, onToken)
	if err != nil {
		return nil, err
	}

	decision, parseErr = parseDecision(resp)
	if parseErr != nil {
		return nil, core.WrapError(core.CodeMalformedModelOutput,
			"orchestrator output unparseable after corrective re-prompt", parseErr)
	}

	return decision, nil
}

// parseDecision converts the final orchestrator response into a Decision.
// No tool calls means a final answer. Each tool call must name a tool and
// carry a JSON object (or nothing) as arguments.
func parseDecision(resp Response) (*Decision, error) {
	if len(resp.ToolCalls) == 0 {
		content := strings.TrimSpace(resp.Content)
		if content == "" {
			return nil, errors.New("empty response with no tool calls")
		}

		return &Decision{Final: true, Content: content}, nil
	}

	batchID := core.NewID()
	actions := make([]core.Action, 0, len(resp.ToolCalls))

	for _, tc := range resp.ToolCalls {
		if tc.Name == "" {
			return nil, errors.New("tool call with empty name")
		}

		if len(tc.Arguments) > 0 {
			var obj map[string]any
			if err := json.Unmarshal(tc.Arguments, &obj); err != nil {
				return nil, fmt.Errorf("tool call %s: arguments are not a JSON object: %w", tc.Name, err)
			}
		}

		id := tc.ID
		if id == "" {
			id = core.NewID()
		}

		actions = append(actions, core.Action{
			ID:        id,
			ToolName:  tc.Name,
			Arguments: tc.Arguments,
			BatchID:   batchID,
		})
	}

	return &Decision{Thought: strings.TrimSpace(resp.Content), Actions: actions}, nil
}

func (r *Router) applyRoleOptions(role Role, req Request) Request {
	defaults := r.opts.Executor
	if role == RoleOrchestrator {
		defaults = r.opts.Orchestrator
	}

	if req.Options.Temperature == 0 {
		req.Options.Temperature = defaults.Temperature
	}
	if req.Options.MaxTokens == 0 {
		req.Options.MaxTokens = defaults.MaxTokens
	}
	if len(req.Options.Stop) == 0 {
		req.Options.Stop = defaults.Stop
	}

	return req
}

func (r *Router) submit(ctx context.Context, role Role, req Request, onToken func(string)) (Response, error) {
	mdl, ok := r.models[role]
	if !ok || mdl == nil {
		return Response{}, core.Errorf(core.CodeInternal, "no model wired for role %s", role)
	}

	if onToken != nil {
		req.Stream = true
	}

	var (
		lastErr  error
		timeouts int
	)
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.backoff(attempt)
			r.logger.Debug("router.retry", "role", string(role), "attempt", attempt, "delay_ms", delay.Milliseconds())

			select {
			case <-ctx.Done():
				return Response{}, core.WrapError(core.CodeCancelled, "model call", ctx.Err())
			case <-time.After(delay):
			}
		}

		start := time.Now()
		resp, err := r.attempt(ctx, mdl, req, onToken)
		dur := time.Since(start)
		r.metrics.RecordModelCall(string(role), dur, err == nil)

		if err == nil {
			r.logger.Debug("router.call.complete", "role", string(role), "duration_ms", dur.Milliseconds())
			return resp, nil
		}

		lastErr = err

		// The caller going away is not a transport failure.
		if ctx.Err() != nil {
			return Response{}, core.WrapError(core.CodeCancelled, "model call", ctx.Err())
		}

		if !transient(err) {
			break
		}

		// An attempt timeout earns exactly one retry; persistent slowness is
		// treated as the endpoint being gone.
		if errors.Is(err, context.DeadlineExceeded) {
			timeouts++
			if timeouts > 1 {
				break
			}
		}

		r.logger.Warn("router.call.failed", "role", string(role), "attempt", attempt, "error", err.Error())
	}

	return Response{}, core.WrapError(core.CodeEndpointUnavailable,
		fmt.Sprintf("%s call failed after %d attempts", role, r.opts.MaxAttempts), lastErr)
}

// attempt performs one bounded call and drains the chunk sequence into the
// final response.
func (r *Router) attempt(ctx context.Context, mdl Model, req Request, onToken func(string)) (Response, error) {
	if r.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.CallTimeout)
		defer cancel()
	}

	respCh, errCh := mdl.Generate(ctx, req)

	var (
		final   *Response
		partial strings.Builder
	)

	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				partial.WriteString(resp.Content)
				if onToken != nil && resp.Content != "" {
					onToken(resp.Content)
				}
				continue
			}
			final = &resp
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}

	if final == nil {
		// Provider closed the stream without a terminal chunk; fall back to
		// the accumulated deltas.
		if partial.Len() == 0 {
			return Response{}, errors.New("model produced no response")
		}

		return Response{Content: partial.String(), FinishReason: "stop"}, nil
	}

	if final.Content == "" && partial.Len() > 0 {
		final.Content = partial.String()
	}

	return *final, nil
}

func (r *Router) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(r.opts.RetryBaseDelay) * math.Pow(2, float64(attempt-2)))
	if delay > r.opts.RetryMaxDelay {
		delay = r.opts.RetryMaxDelay
	}

	// Up to 10% jitter to avoid retry alignment across concurrent callers.
	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))

	return delay + jitter
}

// transient reports whether a transport error is worth retrying.
func transient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout", "connection", "network", "temporary", "eof",
		"rate", "429", "500", "502", "503", "504",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
