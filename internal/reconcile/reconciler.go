package reconcile

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/matheus3301/huddle/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// UnreadSource is the backend surface the reconciler reads.
type UnreadSource interface {
	UnreadTotal(ctx context.Context) (int, error)
	LatestUnread(ctx context.Context, limit int) ([]store.Message, error)
}

// BaselineStore persists the last reconciled total across restarts.
type BaselineStore interface {
	LoadBaseline() (n int, ok bool, err error)
	SaveBaseline(n int) error
}

// NewMessage is one detected new-message event.
type NewMessage struct {
	Message store.Message
	// Synthetic is set when the backend returned fewer messages than the
	// increase; Message then carries only an id unique to this detection.
	Synthetic bool
}

// Result is the outcome of one reconciliation tick.
type Result struct {
	Previous int
	Current  int
	// Seeded is set on the first tick, which only establishes the baseline.
	Seeded bool
	Events []NewMessage
}

// Reconciler infers new-message events from changes in the server-reported
// unread total.
type Reconciler struct {
	src      UnreadSource
	baseline BaselineStore
	logger   *zap.Logger
	group    singleflight.Group

	// epoch and seq name synthetic events. seq advances with the baseline,
	// so a retried detection reuses its ids and a later one never does.
	epoch string

	mu       sync.Mutex
	previous int
	seeded   bool
	seq      uint64
}

// New creates a reconciler. baseline may be nil.
func New(src UnreadSource, baseline BaselineStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{src: src, baseline: baseline, logger: logger, epoch: uuid.NewString()[:8]}
}

// Previous returns the current baseline.
func (r *Reconciler) Previous() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.previous, r.seeded
}

// Tick fetches the unread total, materializes events for any increase and
// passes the result to handle. The baseline advances only when every step,
// handle included, succeeds. Concurrent callers share one in-flight tick and
// only the first caller's handle runs.
func (r *Reconciler) Tick(ctx context.Context, handle func(Result) error) (Result, error) {
	v, err, _ := r.group.Do("tick", func() (any, error) {
		return r.tick(ctx, handle)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (r *Reconciler) tick(ctx context.Context, handle func(Result) error) (Result, error) {
	current, err := r.src.UnreadTotal(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch unread total: %w", err)
	}

	prev, seeded, seq := r.load()
	res := Result{Previous: prev, Current: current, Seeded: !seeded}
	if seeded && current > prev {
		delta := current - prev
		msgs, err := r.src.LatestUnread(ctx, delta)
		if err != nil {
			return Result{}, fmt.Errorf("fetch latest unread: %w", err)
		}
		res.Events = materialize(msgs, delta, fmt.Sprintf("unread:%d-%d:%s.%d", prev, current, r.epoch, seq))
	}

	if handle != nil {
		if err := handle(res); err != nil {
			return Result{}, fmt.Errorf("process unread %d -> %d: %w", prev, current, err)
		}
	}

	r.mu.Lock()
	r.previous = current
	r.seeded = true
	r.seq++
	r.mu.Unlock()

	if r.baseline != nil {
		if err := r.baseline.SaveBaseline(current); err != nil {
			r.logger.Warn("failed to persist unread baseline", zap.Error(err))
		}
	}
	if len(res.Events) > 0 {
		r.logger.Info("new unread messages", zap.Int("previous", prev), zap.Int("current", current), zap.Int("events", len(res.Events)))
	}
	return res, nil
}

func (r *Reconciler) load() (int, bool, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.seeded && r.baseline != nil {
		n, ok, err := r.baseline.LoadBaseline()
		if err != nil {
			r.logger.Warn("failed to load unread baseline", zap.Error(err))
		} else if ok {
			r.previous, r.seeded = n, true
		}
	}
	return r.previous, r.seeded, r.seq
}

// materialize turns fetched messages into exactly delta events, newest kept.
// Missing messages are filled with synthetic events named prefix:<n>.
func materialize(msgs []store.Message, delta int, prefix string) []NewMessage {
	msgs = slices.Clone(msgs)
	slices.SortStableFunc(msgs, func(a, b store.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if len(msgs) > delta {
		msgs = msgs[len(msgs)-delta:]
	}
	events := make([]NewMessage, 0, delta)
	for i := 0; i < delta-len(msgs); i++ {
		events = append(events, NewMessage{
			Message:   store.Message{ID: fmt.Sprintf("%s:%d", prefix, i)},
			Synthetic: true,
		})
	}
	for _, m := range msgs {
		events = append(events, NewMessage{Message: m})
	}
	return events
}
