package conn

import (
	"fmt"
	"slices"
	"sync"

	"github.com/barterhub/barterd/internal/bus"
)

// State is the client's belief about whether it can currently reach the
// marketplace backend for one conversation.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Error        State = "error"
)

// validTransitions defines allowed state transitions. Disconnected is both
// the initial and the terminal state; Error is recoverable from either a
// scheduled reconnect (via Connecting) or a plain poll tick that succeeds
// (straight to Connected).
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Error, Disconnected},
	Connected:    {Connecting, Error, Disconnected},
	Error:        {Connecting, Connected, Disconnected},
}

// StateChange is the payload for conn.state_changed events.
type StateChange struct {
	ConversationID string `json:"conversationId"`
	From           State  `json:"from"`
	To             State  `json:"to"`
}

// Machine tracks and enforces the connection state of one conversation.
type Machine struct {
	mu             sync.RWMutex
	conversationID string
	current        State
	bus            *bus.Bus
}

// NewMachine creates a state machine starting in Disconnected.
func NewMachine(conversationID string, b *bus.Bus) *Machine {
	return &Machine{
		conversationID: conversationID,
		current:        Disconnected,
		bus:            b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Moving to the current state is
// a no-op; an invalid transition returns an error and leaves the state
// unchanged.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.New(bus.KindConnStateChanged, StateChange{
			ConversationID: m.conversationID,
			From:           from,
			To:             to,
		}))
	}
	return nil
}
