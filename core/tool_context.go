package core

import (
	"context"

	"github.com/reagent-ai/reagent/logging"
)

// ToolContext provides a constrained, auditable surface for tool
// implementations. Tools see the session's retained history and budget
// figures but cannot mutate session state or reach the loop controller.
type ToolContext struct {
	ctx      context.Context
	session  *Session
	actionID string

	*loggerAdapter
}

// NewToolContext constructs a tool context bound to a session and the action
// being executed.
func NewToolContext(ctx context.Context, session *Session, actionID string, logger logging.Logger) *ToolContext {
	return &ToolContext{
		ctx:           ctx,
		session:       session,
		actionID:      actionID,
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// Context returns the context governing the tool invocation. It is cancelled
// when a fail-fast sibling errors or the run is aborted, and tools are
// expected to honor it on blocking work.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// SessionID returns the owning session's ID.
func (tc *ToolContext) SessionID() string { return tc.session.ID }

// ActionID returns the ID of the action being executed.
func (tc *ToolContext) ActionID() string { return tc.actionID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.loggerAdapter.Logger() }

// Goal returns the goal of the owning session.
func (tc *ToolContext) Goal() string { return tc.session.Goal }

// Depth returns the delegation depth of the owning session.
func (tc *ToolContext) Depth() int { return tc.session.Depth }

// RemainingTurns returns how many loop iterations the owning session has
// left.
func (tc *ToolContext) RemainingTurns() int { return tc.session.RemainingTurns() }

// History returns a defensive copy of the session's retained turns.
func (tc *ToolContext) History() []Turn { return tc.session.History() }

// Window returns a defensive copy of the session's most recent n turns.
func (tc *ToolContext) Window(n int) []Turn { return tc.session.Window(n) }
