package core

import (
	"time"
)

// Role identifies the author of a turn within the reasoning loop.
type Role string

const (
	// RoleUser marks the turn that seeds a session with its goal, plus any
	// follow-up input injected by the caller.
	RoleUser Role = "user"
	// RoleThought marks free-form reasoning emitted by the orchestrator
	// before it commits to actions.
	RoleThought Role = "thought"
	// RoleAction marks a serialized tool invocation request.
	RoleAction Role = "action"
	// RoleObservation marks the recorded outcome of a previously proposed
	// action, fed back to the orchestrator on the next iteration.
	RoleObservation Role = "observation"
)

// Valid reports whether the role is one of the four loop roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleThought, RoleAction, RoleObservation:
		return true
	}

	return false
}

// Turn is a single immutable entry in a session's history. Ordinals are
// assigned by the owning session at append time and keep increasing even
// after older turns have been evicted, so a turn's position in the full
// conversation stays recoverable from a truncated window.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Ordinal   int       `json:"ordinal"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates an unanchored turn with the current UTC timestamp. The
// ordinal is assigned when the turn is appended to a session.
func NewTurn(role Role, content string) Turn {
	return Turn{Role: role, Content: content, Timestamp: time.Now().UTC()}
}
