// Package status enforces the lifecycle state machines of the push channel
// and the synchronization engine.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State is one node of a lifecycle machine.
type State string

// Push channel states.
const (
	ChannelClosed     State = "CLOSED"
	ChannelConnecting State = "CONNECTING"
	ChannelOpen       State = "OPEN"
)

// Engine phases.
const (
	Unauthenticated State = "UNAUTHENTICATED"
	NoSelection     State = "NO_SELECTION"
	ChatActive      State = "CHAT_ACTIVE"
)

// Table lists, for each state, the states it may move to.
type Table map[State][]State

// ChannelTable is the push channel lifecycle: Closed, Connecting, Open, Closed.
// A failed handshake goes straight back to Closed.
var ChannelTable = Table{
	ChannelClosed:     {ChannelConnecting},
	ChannelConnecting: {ChannelOpen, ChannelClosed},
	ChannelOpen:       {ChannelClosed},
}

// EngineTable is the engine phase lifecycle. Logout and forced logout return
// to Unauthenticated from any authenticated phase.
var EngineTable = Table{
	Unauthenticated: {NoSelection},
	NoSelection:     {ChatActive, Unauthenticated},
	ChatActive:      {Unauthenticated},
}

// Machine tracks and enforces transitions over a Table, publishing each one
// on the bus under Kind.
type Machine struct {
	mu      sync.RWMutex
	kind    string
	table   Table
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine in the initial state. b may be nil.
func NewMachine(kind string, table Table, initial State, b *bus.Bus) *Machine {
	return &Machine{
		kind:    kind,
		table:   table,
		current: initial,
		bus:     b,
	}
}

// NewChannelMachine returns a Closed channel lifecycle publishing on
// bus.KindChannelStatus.
func NewChannelMachine(b *bus.Bus) *Machine {
	return NewMachine(bus.KindChannelStatus, ChannelTable, ChannelClosed, b)
}

// NewEngineMachine returns an Unauthenticated engine lifecycle publishing on
// bus.KindEngineStatus.
func NewEngineMachine(b *bus.Bus) *Machine {
	return NewMachine(bus.KindEngineStatus, EngineTable, Unauthenticated, b)
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state. Returns an error if the table forbids it.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

// Ensure moves to the given state unless the machine is already there.
func (m *Machine) Ensure(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == to {
		return nil
	}
	return m.transitionLocked(to)
}

// Reset forces the machine into the given state, bypassing the table.
// Used when the owner tears down everything at once.
func (m *Machine) Reset(to State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == to {
		return
	}
	from := m.current
	m.current = to
	m.publish(from, to)
}

func (m *Machine) transitionLocked(to State) error {
	if !slices.Contains(m.table[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.publish(from, to)
	return nil
}

func (m *Machine) publish(from, to State) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(m.kind, StatusChange{From: from, To: to})
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
