package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is a single tool invocation proposed by the orchestrator. Actions
// proposed together share a BatchID and are eligible for parallel execution.
type Action struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	BatchID   string          `json:"batch_id,omitempty"`
}

// NewAction creates an action with a fresh ID for the given tool and raw
// argument payload.
func NewAction(toolName string, args json.RawMessage) Action {
	return Action{ID: NewID(), ToolName: toolName, Arguments: args}
}

// String renders a compact single line form used in action turns and logs.
func (a Action) String() string {
	if len(a.Arguments) == 0 {
		return fmt.Sprintf("%s(%s)", a.ToolName, "{}")
	}

	return fmt.Sprintf("%s(%s)", a.ToolName, string(a.Arguments))
}

// ObservationKind classifies how an action concluded.
type ObservationKind string

const (
	// ObservationSuccess carries the tool's result payload.
	ObservationSuccess ObservationKind = "success"
	// ObservationInvalidAction records a request that never reached a tool:
	// unknown tool name or arguments rejected by schema validation.
	ObservationInvalidAction ObservationKind = "invalid_action"
	// ObservationToolError records a tool that started and failed.
	ObservationToolError ObservationKind = "tool_error"
	// ObservationCancelled records an action abandoned because a sibling in
	// the same batch failed or the run was aborted.
	ObservationCancelled ObservationKind = "cancelled"
)

// Observation records the outcome of exactly one action. Every proposed
// action receives exactly one observation, including actions that were
// cancelled before or during execution.
type Observation struct {
	ActionID string          `json:"action_id"`
	Kind     ObservationKind `json:"kind"`
	Payload  string          `json:"payload"`
	Duration time.Duration   `json:"duration"`
}

// NewSuccessObservation records a completed tool call and its payload.
func NewSuccessObservation(actionID, payload string, dur time.Duration) Observation {
	return Observation{ActionID: actionID, Kind: ObservationSuccess, Payload: payload, Duration: dur}
}

// NewInvalidActionObservation records a proposal that failed resolution or
// validation. The reason is surfaced verbatim so the orchestrator can
// correct itself on the next iteration.
func NewInvalidActionObservation(actionID, reason string) Observation {
	return Observation{ActionID: actionID, Kind: ObservationInvalidAction, Payload: reason}
}

// NewToolErrorObservation records a tool that executed and failed.
func NewToolErrorObservation(actionID string, err error, dur time.Duration) Observation {
	return Observation{ActionID: actionID, Kind: ObservationToolError, Payload: err.Error(), Duration: dur}
}

// NewCancelledObservation records an action abandoned due to sibling failure
// or run abort. Cause may be nil when no more specific reason is known.
func NewCancelledObservation(actionID string, cause error) Observation {
	payload := "cancelled"
	if cause != nil {
		payload = fmt.Sprintf("cancelled: %s", cause.Error())
	}

	return Observation{ActionID: actionID, Kind: ObservationCancelled, Payload: payload}
}

// Failed reports whether the observation records anything other than a
// successful tool call.
func (o Observation) Failed() bool { return o.Kind != ObservationSuccess }

// SubAgentTask describes a goal delegated to a child session. Context is an
// optional slice of parent findings the child should start from; ParentID is
// a non-owning back reference used for budget derivation and audit.
type SubAgentTask struct {
	Goal     string `json:"goal"`
	Context  string `json:"context,omitempty"`
	ParentID string `json:"parent_id"`
}
