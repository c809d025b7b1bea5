// Package session provides storage for the live sessions of a run. The
// in-memory table is the default backend; alternative backends implement
// core.SessionTable.
package session

import (
	"sort"
	"sync"

	"github.com/reagent-ai/reagent/core"
)

// InMemoryTable is a flat, process-local session table. It is safe for
// concurrent use and keeps no ordering beyond insertion-independent lookup;
// Children sorts by creation time for deterministic traversal.
type InMemoryTable struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

var _ core.SessionTable = (*InMemoryTable)(nil)

// NewInMemoryTable creates an empty table.
func NewInMemoryTable() *InMemoryTable {
	return &InMemoryTable{sessions: make(map[string]*core.Session)}
}

// Insert implements core.SessionTable.
func (t *InMemoryTable) Insert(s *core.Session) error {
	if s == nil || s.ID == "" {
		return core.NewError(core.CodeInternal, "cannot insert a nil or unidentified session")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sessions[s.ID]; exists {
		return core.Errorf(core.CodeInternal, "session %s already registered", s.ID)
	}

	t.sessions[s.ID] = s

	return nil
}

// Get implements core.SessionTable.
func (t *InMemoryTable) Get(id string) (*core.Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[id]

	return s, ok
}

// Children implements core.SessionTable.
func (t *InMemoryTable) Children(id string) []*core.Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var children []*core.Session
	for _, s := range t.sessions {
		if s.ParentID == id {
			children = append(children, s)
		}
	}

	sort.Slice(children, func(i, j int) bool {
		return children[i].Created.Before(children[j].Created)
	})

	return children
}

// Remove implements core.SessionTable.
func (t *InMemoryTable) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.sessions, id)
}

// Len implements core.SessionTable.
func (t *InMemoryTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.sessions)
}
