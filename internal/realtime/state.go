// Package realtime keeps the socket transport's credentials in sync with
// the token store and drives its connect/reconnect lifecycle.
package realtime

import (
	"fmt"
	"sync"
)

// State is the connection lifecycle of one realtime transport session.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateAuthenticated State = "authenticated"
	StateReconnecting  State = "reconnecting"
	// StateError is terminal: reaching it requires an explicit external
	// Reconnect, never a silent retry.
	StateError State = "error"
)

// transitions lists the allowed moves. Disconnected is reachable from
// every state (logout and teardown), handled separately in To.
var transitions = map[State][]State{
	StateDisconnected:  {StateConnecting},
	StateConnecting:    {StateConnected, StateReconnecting, StateError},
	StateConnected:     {StateAuthenticated, StateReconnecting},
	StateAuthenticated: {StateReconnecting},
	StateReconnecting:  {StateConnecting, StateError},
	StateError:         {StateReconnecting, StateConnecting},
}

// Machine owns the connection state. All mutations go through To, which
// validates the move and fans out to observers.
type Machine struct {
	mu        sync.Mutex
	state     State
	observers []func(State)
}

// NewMachine starts in Disconnected.
func NewMachine() *Machine {
	return &Machine{state: StateDisconnected}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// To transitions to next. Moving to the current state is a no-op; any
// state may move to Disconnected.
func (m *Machine) To(next State) error {
	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return nil
	}
	if next != StateDisconnected && !allowed(m.state, next) {
		from := m.state
		m.mu.Unlock()
		return fmt.Errorf("invalid connection state transition %s -> %s", from, next)
	}
	m.state = next
	observers := make([]func(State), len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(next)
	}
	return nil
}

// OnChange registers an observer invoked after every transition.
func (m *Machine) OnChange(fn func(State)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
