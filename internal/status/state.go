package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/huddle/internal/bus"
)

// State represents a delivery channel state.
type State string

const (
	Disconnected  State = "DISCONNECTED"
	Connecting    State = "CONNECTING"
	ConnectedPush State = "CONNECTED_PUSH"
	Polling       State = "POLLING"
)

// Connection is the coarse indicator exposed to UI collaborators.
type Connection string

const (
	ConnectionConnected    Connection = "connected"
	ConnectionConnecting   Connection = "connecting"
	ConnectionDisconnected Connection = "disconnected"
)

// Connection maps a delivery state to the user-facing indicator. Polling is a
// fallback without a live channel, so it reads as disconnected.
func (s State) Connection() Connection {
	switch s {
	case ConnectedPush:
		return ConnectionConnected
	case Connecting:
		return ConnectionConnecting
	default:
		return ConnectionDisconnected
	}
}

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected:  {Connecting},
	Connecting:    {ConnectedPush, Polling, Disconnected},
	ConnectedPush: {Connecting, Polling, Disconnected},
	Polling:       {ConnectedPush, Connecting, Disconnected},
}

// HealthService is the gRPC health service name reporting whether messages
// are flowing: SERVING while push is connected or a conversation is polled.
const HealthService = "huddle.Delivery"

// Changed is the bus topic carrying every accepted transition.
var Changed = bus.NewTopic[StatusChange](bus.KindDeliveryState)

// Machine tracks and enforces delivery state transitions.
type Machine struct {
	mu       sync.RWMutex
	current  State
	bus      *bus.Bus
	watchers []func(StatusChange)
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Connection returns the user-facing indicator for the current state.
func (m *Machine) Connection() Connection {
	return m.Current().Connection()
}

// Watch registers fn to be called synchronously after every accepted transition.
// Unlike bus subscribers, watchers never miss a change.
func (m *Machine) Watch(fn func(StatusChange)) {
	m.mu.Lock()
	m.watchers = append(m.watchers, fn)
	m.mu.Unlock()
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	change := StatusChange{From: m.current, To: to}
	m.current = to
	watchers := slices.Clone(m.watchers)
	m.mu.Unlock()

	for _, fn := range watchers {
		fn(change)
	}
	Changed.Publish(m.bus, change)
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
