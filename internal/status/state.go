// Package status tracks the per-room polling state machine of the client
// sync engine.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/daehyunko/roomchat/internal/bus"
)

// State is a room sync state.
type State string

const (
	Idle            State = "idle"
	LoadingSnapshot State = "loadingSnapshot"
	Live            State = "live"
	Catchup         State = "catchup"
	Error           State = "error"
)

// validTransitions defines allowed state transitions. Idle is reachable from
// every state (room close); Error from every active state.
var validTransitions = map[State][]State{
	Idle:            {LoadingSnapshot},
	LoadingSnapshot: {Live, Error, Idle},
	Live:            {Catchup, Error, Idle},
	Catchup:         {Live, Error, Idle},
	Error:           {Live, LoadingSnapshot, Idle},
}

// Machine tracks and enforces polling state transitions for one room.
type Machine struct {
	mu      sync.RWMutex
	roomID  string
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine for roomID starting in Idle.
func NewMachine(roomID string, b *bus.Bus) *Machine {
	return &Machine{
		roomID:  roomID,
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			RoomID:    m.roomID,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
