package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds shared across packages.
const (
	KindStoreChanged      = "store.changed"
	KindMessageNew        = "message.new"
	KindMessageStatus     = "message.status"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"
	KindConversationRead  = "conversation.read"
	KindDeliveryState     = "delivery.state_changed"
	KindAuthRequired      = "session.auth_required"
	KindNotifyShown       = "notify.shown"
	KindNotifyCleared     = "notify.cleared"
	KindBannerFetchFailed = "banner.fetch_failed"
	KindBannerCleared     = "banner.cleared"
)

// Topic ties an event kind to the Go type of its payload so publishers and
// subscribers agree on it at compile time.
type Topic[T any] struct {
	Kind string
}

// NewTopic declares a typed topic for kind.
func NewTopic[T any](kind string) Topic[T] {
	return Topic[T]{Kind: kind}
}

// Publish emits payload under the topic's kind.
func (t Topic[T]) Publish(b *Bus, payload T) {
	if b == nil {
		return
	}
	b.Emit(t.Kind, payload)
}

// Decode returns the payload of evt if it was published on this topic.
func (t Topic[T]) Decode(evt Event) (T, bool) {
	var zero T
	if evt.Kind != t.Kind {
		return zero, false
	}
	v, ok := evt.Payload.(T)
	if !ok {
		return zero, false
	}
	return v, true
}
