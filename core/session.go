package core

import (
	"sync"
	"time"
)

// Status describes the lifecycle state of a session. A session starts in
// StatusRunning and reaches exactly one terminal status.
type Status string

const (
	// StatusRunning marks a session whose loop is still iterating.
	StatusRunning Status = "running"
	// StatusCompleted marks a session that produced a final answer within
	// its budgets.
	StatusCompleted Status = "completed"
	// StatusAborted marks a session stopped through cooperative
	// cancellation.
	StatusAborted Status = "aborted"
	// StatusTurnBudgetExceeded marks a session that consumed all of its
	// loop iterations without completing.
	StatusTurnBudgetExceeded Status = "turn_budget_exceeded"
	// StatusDepthBudgetExceeded marks a delegated session rejected because
	// it would nest deeper than the recursion budget allows.
	StatusDepthBudgetExceeded Status = "depth_budget_exceeded"
	// StatusError marks a session terminated by a fatal runtime failure.
	StatusError Status = "error"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool { return s != StatusRunning }

// Budget bounds a session before any model call is made. A zero or negative
// MaxHistory leaves the history unbounded.
type Budget struct {
	MaxTurns   int `json:"max_turns"`
	MaxDepth   int `json:"max_depth"`
	MaxHistory int `json:"max_history"`
}

// Session is a bounded conversational container tracking the turn history of
// one reasoning loop. It is safe for concurrent access.
//
// Contract:
//   - AppendTurn assigns monotonically increasing ordinals that continue
//     across evictions
//   - History and Window return defensive copies
//   - History length never exceeds Budget.MaxHistory; the oldest turn is
//     evicted first
//   - SetStatus permits exactly one transition out of StatusRunning
type Session struct {
	ID       string `json:"id"`
	Goal     string `json:"goal"`
	ParentID string `json:"parent_id,omitempty"`
	Depth    int    `json:"depth"`
	Budget   Budget `json:"budget"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`

	history     []Turn
	nextOrdinal int
	turnCount   int
	status      Status
	mu          sync.RWMutex
}

// NewSession creates a root session (depth zero) seeded with the goal as its
// first user turn.
func NewSession(goal string, budget Budget) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:      NewID(),
		Goal:    goal,
		Budget:  budget,
		Created: now,
		Updated: now,
		status:  StatusRunning,
	}
	s.AppendTurn(RoleUser, goal)

	return s
}

// NewChildSession derives a delegated session from a parent. The child's
// turn budget is the smaller of the parent's remaining turns and the
// per-delegation cap, so a delegating session can never grant more work than
// it has left itself. Depth and history bounds are inherited.
func NewChildSession(goal string, parent *Session, turnCap int) *Session {
	budget := parent.Budget
	budget.MaxTurns = min(parent.RemainingTurns(), turnCap)

	now := time.Now().UTC()
	s := &Session{
		ID:       NewID(),
		Goal:     goal,
		ParentID: parent.ID,
		Depth:    parent.Depth + 1,
		Budget:   budget,
		Created:  now,
		Updated:  now,
		status:   StatusRunning,
	}
	s.AppendTurn(RoleUser, goal)

	return s
}

// AppendTurn stamps the turn with the next ordinal and current UTC time,
// appends it and evicts the oldest turn if the history bound is exceeded.
// The stamped turn is returned.
func (s *Session) AppendTurn(role Role, content string) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := Turn{Role: role, Content: content, Ordinal: s.nextOrdinal, Timestamp: time.Now().UTC()}
	s.nextOrdinal++
	s.history = append(s.history, t)

	if s.Budget.MaxHistory > 0 && len(s.history) > s.Budget.MaxHistory {
		// Shift instead of re-slicing so evicted turns are released.
		copy(s.history, s.history[1:])
		s.history = s.history[:len(s.history)-1]
	}

	s.Updated = time.Now().UTC()

	return t
}

// History returns a defensive copy of the retained turns in order.
func (s *Session) History() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := make([]Turn, len(s.history))
	copy(turns, s.history)

	return turns
}

// Window returns a defensive copy of the most recent n turns, or the full
// retained history when fewer than n turns remain.
func (s *Session) Window(n int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}

	turns := make([]Turn, n)
	copy(turns, s.history[len(s.history)-n:])

	return turns
}

// Len returns the number of currently retained turns.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.history)
}

// TotalAppended returns the number of turns ever appended, including turns
// already evicted from the retained window.
func (s *Session) TotalAppended() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.nextOrdinal
}

// ConsumeTurn accounts for one loop iteration. It returns the one-based
// iteration number and true, or zero and false when the turn budget is
// already exhausted.
func (s *Session) ConsumeTurn() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.turnCount >= s.Budget.MaxTurns {
		return 0, false
	}

	s.turnCount++

	return s.turnCount, true
}

// TurnCount returns the number of loop iterations consumed so far.
func (s *Session) TurnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.turnCount
}

// RemainingTurns returns how many loop iterations are left in the budget.
func (s *Session) RemainingTurns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.turnCount >= s.Budget.MaxTurns {
		return 0
	}

	return s.Budget.MaxTurns - s.turnCount
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.status
}

// SetStatus transitions the session out of StatusRunning. Re-entering
// Running or overwriting a terminal status breaks the lifecycle contract
// and is rejected as an internal error.
func (s *Session) SetStatus(st Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st == StatusRunning {
		return Errorf(CodeInternal, "session %s: cannot transition back to %s", s.ID, StatusRunning)
	}

	if s.status.Terminal() {
		return Errorf(CodeInternal, "session %s: already terminal (%s), rejecting transition to %s", s.ID, s.status, st)
	}

	s.status = st
	s.Updated = time.Now().UTC()

	return nil
}

// SessionTable registers every live session of a run, root and delegated
// alike, in one flat table keyed by session ID. Children reference their
// parents by ID only, so removing or finishing a parent never invalidates a
// child's record.
type SessionTable interface {
	// Insert registers a session. Inserting a duplicate ID is an error.
	Insert(s *Session) error
	// Get returns the session with the given ID, if registered.
	Get(id string) (*Session, bool)
	// Children returns the registered sessions whose ParentID matches id.
	Children(id string) []*Session
	// Remove unregisters a session. Removing an unknown ID is a no-op.
	Remove(id string)
	// Len returns the number of registered sessions.
	Len() int
}
