// Package state implements the per-session application state machine. It
// guards which operations are currently valid for a connection; an illegal
// transition is rejected and logged, never fatal.
package state

import (
	"fmt"
	"log"
	"sync"
)

// AppState is a session's coarse application state.
type AppState string

const (
	Disconnected      AppState = "DISCONNECTED"
	ConnectedIdle     AppState = "CONNECTED_IDLE"
	ConnectedScanning AppState = "CONNECTED_SCANNING"
	Processing        AppState = "PROCESSING"
	Error             AppState = "ERROR"
)

// transitions is the legal transition table. Anything absent is rejected.
var transitions = map[AppState][]AppState{
	Disconnected:      {ConnectedIdle, Error},
	ConnectedIdle:     {ConnectedScanning, Processing, Disconnected, Error},
	ConnectedScanning: {Processing, ConnectedIdle, Error},
	Processing:        {ConnectedIdle, Error},
	Error:             {ConnectedIdle, Disconnected},
}

// CanTransition reports whether the table allows from → to.
func CanTransition(from, to AppState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Machine tracks one session's state. The zero value is not usable; create
// with NewMachine, which starts in DISCONNECTED.
type Machine struct {
	mu        sync.Mutex
	sessionID string
	current   AppState
	previous  AppState
}

// NewMachine creates a state machine in the initial DISCONNECTED state.
func NewMachine(sessionID string) *Machine {
	return &Machine{
		sessionID: sessionID,
		current:   Disconnected,
		previous:  Disconnected,
	}
}

// Current returns the current state.
func (m *Machine) Current() AppState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Previous returns the state held before the last accepted transition,
// for rollback and diagnostics.
func (m *Machine) Previous() AppState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous
}

// Transition requests a move to the given state. On rejection the current
// state is retained and accepted is false; the rejection is logged so the
// bug is observable rather than silently absorbed.
func (m *Machine) Transition(requested AppState) (AppState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !CanTransition(m.current, requested) {
		log.Printf(`{"level":"warn","message":"Rejected state transition","session_id":"%s","from":"%s","to":"%s"}`,
			m.sessionID, m.current, requested)
		return m.current, false
	}

	m.previous = m.current
	m.current = requested
	return m.current, true
}

// Disconnect drives the machine to DISCONNECTED along table-allowed hops.
// Connection teardown can start in any state, so states without a direct
// edge (CONNECTED_SCANNING, PROCESSING) step through CONNECTED_IDLE first.
// Already being DISCONNECTED is a no-op.
func (m *Machine) Disconnect() AppState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == Disconnected {
		return m.current
	}
	if !CanTransition(m.current, Disconnected) {
		m.previous = m.current
		m.current = ConnectedIdle
	}
	m.previous = m.current
	m.current = Disconnected
	return m.current
}

// Recover attempts the designated safe recovery: ERROR → CONNECTED_IDLE.
// From any other state it is a no-op returning the current state.
func (m *Machine) Recover() (AppState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != Error {
		return m.current, nil
	}
	if !CanTransition(m.current, ConnectedIdle) {
		return m.current, fmt.Errorf("cannot recover from %s", m.current)
	}
	m.previous = m.current
	m.current = ConnectedIdle
	return m.current, nil
}
