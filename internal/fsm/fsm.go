// Package fsm provides a small generic finite state machine shared by
// components that need validated, concurrency-safe state transitions:
// the connection pool's open/closed lifecycle and the query engine's
// per-handle execution lifecycle.
//
// Generalized from the teacher's pkg/lifecycle State/validTransitions
// machinery (originally agent-states-only) to any comparable state
// type, so the transition-table pattern is written once instead of
// duplicated per component.
package fsm

import (
	"fmt"
	"sync"
)

// Machine guards a single state value of type S behind a mutex and
// validates every transition against a fixed table supplied at
// construction. The zero Machine is not usable; use New.
type Machine[S comparable] struct {
	mu          sync.RWMutex
	current     S
	transitions map[S][]S
}

// New builds a Machine starting in initial, allowing only the
// transitions listed in transitions. transitions is not copied; callers
// must not mutate it afterward.
func New[S comparable](initial S, transitions map[S][]S) *Machine[S] {
	return &Machine[S]{current: initial, transitions: transitions}
}

// Current returns the machine's current state.
func (m *Machine[S]) Current() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CanTransition reports whether a transition from the current state to
// to is permitted, without performing it.
func (m *Machine[S]) CanTransition(to S) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allowed(to)
}

func (m *Machine[S]) allowed(to S) bool {
	for _, s := range m.transitions[m.current] {
		if s == to {
			return true
		}
	}
	return false
}

// Fire attempts to move the machine to state to. It returns an error
// and leaves the state unchanged if the transition is not in the
// table.
func (m *Machine[S]) Fire(to S) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.allowed(to) {
		return fmt.Errorf("fsm: invalid transition %v -> %v", m.current, to)
	}
	m.current = to
	return nil
}

// TryFire behaves like Fire but reports success as a bool instead of
// an error, for callers that only need a compare-and-swap style check.
func (m *Machine[S]) TryFire(to S) bool {
	return m.Fire(to) == nil
}
