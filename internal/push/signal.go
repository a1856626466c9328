package push

import (
	"encoding/json"

	"github.com/matheus3301/huddle/internal/store"
)

// Signal kinds understood by the core. Anything else is treated as a plain
// "data changed" hint.
const (
	SignalChanged = "changed"
	SignalReceipt = "receipt"
)

// Signal is one decoded push frame.
type Signal struct {
	Kind           string               `json:"kind"`
	ConversationID string               `json:"conversation_id,omitempty"`
	MessageID      string               `json:"message_id,omitempty"`
	Status         store.DeliveryStatus `json:"status,omitempty"`
}

// Decode turns a frame into a Signal. Frames the core cannot interpret still
// mean something changed upstream.
func Decode(frame []byte) Signal {
	var sig Signal
	if err := json.Unmarshal(frame, &sig); err != nil {
		return Signal{Kind: SignalChanged}
	}
	if sig.Kind != SignalReceipt || sig.MessageID == "" || !sig.Status.Valid() {
		sig.Kind = SignalChanged
	}
	return sig
}

// Listener receives transport callbacks. Failures are reported through
// OnFailure, never returned to the caller of Connect.
type Listener interface {
	OnReady()
	OnSignal(Signal)
	OnFailure(error)
}
