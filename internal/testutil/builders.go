// Package testutil provides builders shared across package tests.
package testutil

import (
	"context"
	"testing"

	"github.com/reagent-ai/reagent/core"
	"github.com/reagent-ai/reagent/logging"
)

// DefaultBudget is a roomy budget for tests that do not exercise limits.
var DefaultBudget = core.Budget{MaxTurns: 10, MaxDepth: 3, MaxHistory: 100}

// NewSession creates a running session seeded with goal.
func NewSession(t *testing.T, goal string, budget core.Budget) *core.Session {
	t.Helper()

	if budget.MaxTurns == 0 {
		budget = DefaultBudget
	}

	return core.NewSession(goal, budget)
}

// NewToolContext creates a tool context bound to a fresh session.
func NewToolContext(t *testing.T, session *core.Session) *core.ToolContext {
	t.Helper()

	if session == nil {
		session = NewSession(t, "test goal", DefaultBudget)
	}

	return core.NewToolContext(context.Background(), session, core.NewID(), logging.NoOpLogger{})
}
