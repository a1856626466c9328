package outbox

import (
	"errors"

	"github.com/matheus3301/huddle/internal/store"
)

var (
	// ErrBackward is returned when a status update would move a message backward.
	ErrBackward = store.ErrBackward
	// ErrNotRetryable is returned when retrying a message that has not failed.
	ErrNotRetryable = errors.New("message is not retryable")
)

// Tracker advances message statuses in rank order
// sending < sent < delivered < read, with failed reachable only from sending.
type Tracker struct {
	store *store.Store
}

func NewTracker(s *store.Store) *Tracker {
	return &Tracker{store: s}
}

// Advance moves message id to next. Backward and same-rank moves return
// ErrBackward and leave the message untouched.
func (t *Tracker) Advance(id string, next store.DeliveryStatus) error {
	return t.store.UpdateStatus(id, next)
}

// IsBackward reports whether err is a rejected backward move.
func IsBackward(err error) bool {
	return errors.Is(err, ErrBackward)
}
