package status

import (
	"testing"

	"github.com/matheus3301/huddle/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
	if m.Connection() != ConnectionDisconnected {
		t.Errorf("initial connection = %s, want disconnected", m.Connection())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Connecting, ConnectedPush},
		{Connecting, Polling},
		{Connecting, Disconnected},
		{ConnectedPush, Polling},
		{ConnectedPush, Connecting},
		{ConnectedPush, Disconnected},
		{Polling, ConnectedPush},
		{Polling, Connecting},
		{Polling, Disconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, ConnectedPush},
		{Disconnected, Polling},
		{Disconnected, Disconnected},
		{Polling, Polling},
		{ConnectedPush, ConnectedPush},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want %s (should not have changed)", m.Current(), tt.from)
			}
		})
	}
}

func TestConnectionMapping(t *testing.T) {
	tests := []struct {
		state State
		want  Connection
	}{
		{Disconnected, ConnectionDisconnected},
		{Connecting, ConnectionConnecting},
		{ConnectedPush, ConnectionConnected},
		{Polling, ConnectionDisconnected},
	}
	for _, tt := range tests {
		if got := tt.state.Connection(); got != tt.want {
			t.Errorf("%s.Connection() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("delivery.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	change, ok := Changed.Decode(evt)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != Connecting {
		t.Errorf("change = %v -> %v, want DISCONNECTED -> CONNECTING", change.From, change.To)
	}
}

func TestWatchersSeeEveryTransition(t *testing.T) {
	m := NewMachine(nil)
	var seen []State
	m.Watch(func(c StatusChange) { seen = append(seen, c.To) })

	walkTo(t, m, ConnectedPush)
	_ = m.Transition(Polling)
	_ = m.Transition(Polling) // rejected, not observed

	want := []State{Connecting, ConnectedPush, Polling}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}

// TestPushFailureWithOpenConversation walks the fallback path:
// DISCONNECTED → CONNECTING → POLLING → CONNECTED_PUSH → DISCONNECTED
func TestPushFailureWithOpenConversation(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Connecting, Polling, ConnectedPush, Disconnected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Disconnected {
		t.Errorf("final state = %s, want DISCONNECTED", m.Current())
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected:  {},
		Connecting:    {Connecting},
		ConnectedPush: {Connecting, ConnectedPush},
		Polling:       {Connecting, Polling},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
