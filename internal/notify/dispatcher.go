package notify

import (
	"github.com/matheus3301/huddle/internal/metrics"
	"go.uber.org/zap"
)

// Suppression reasons.
const (
	SuppressedDuplicate = "duplicate"
	SuppressedViewing   = "viewing"
)

// Outcome reports what a dispatch did.
type Outcome struct {
	Shown      []string `json:"shown,omitempty"`
	Suppressed string   `json:"suppressed,omitempty"`
}

// Dispatcher fans a new-message record out to the registered surfaces, at
// most once per message id.
type Dispatcher struct {
	ledger   Ledger
	surfaces []Surface
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewDispatcher(ledger Ledger, surfaces []Surface, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{ledger: ledger, surfaces: surfaces, metrics: m, logger: logger}
}

// Dispatch shows rec on every surface unless the user is viewing its
// conversation or the id was already dispatched. The id is recorded either
// way, so a later re-detection stays quiet.
func (d *Dispatcher) Dispatch(rec Record, viewing bool) Outcome {
	fresh, err := d.ledger.Claim(rec.ID)
	if err != nil {
		// Notifying twice beats dropping a message.
		d.logger.Warn("ledger claim failed", zap.String("id", rec.ID), zap.Error(err))
		fresh = true
	}
	if !fresh {
		d.metrics.Suppressed(SuppressedDuplicate)
		return Outcome{Suppressed: SuppressedDuplicate}
	}
	if viewing {
		d.metrics.Suppressed(SuppressedViewing)
		return Outcome{Suppressed: SuppressedViewing}
	}

	var out Outcome
	for _, s := range d.surfaces {
		if s.Show(rec) {
			out.Shown = append(out.Shown, s.Name())
			d.metrics.Notification(s.Name())
		}
	}
	d.logger.Debug("dispatched notification",
		zap.String("id", rec.ID),
		zap.String("conversation", rec.ConversationID),
		zap.Strings("surfaces", out.Shown))
	return out
}

// ClearMessaging removes every pending notification from every surface. It
// runs when the user enters the messaging surface and does not mark anything
// read.
func (d *Dispatcher) ClearMessaging() int {
	n := 0
	for _, s := range d.surfaces {
		n += s.Clear(ReasonMessaging)
	}
	return n
}
