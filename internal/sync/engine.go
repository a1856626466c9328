package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/huddle/internal/backend"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/delivery"
	"github.com/matheus3301/huddle/internal/metrics"
	"github.com/matheus3301/huddle/internal/notify"
	"github.com/matheus3301/huddle/internal/outbox"
	"github.com/matheus3301/huddle/internal/push"
	"github.com/matheus3301/huddle/internal/reconcile"
	"github.com/matheus3301/huddle/internal/store"
	"go.uber.org/zap"
)

// Banner is the payload of banner.fetch_failed.
type Banner struct {
	Message string `json:"message"`
}

var (
	BannerTopic        = bus.NewTopic[Banner](bus.KindBannerFetchFailed)
	BannerClearedTopic = bus.NewTopic[Banner](bus.KindBannerCleared)
)

// Conversations tracks which conversation the user has open so the delivery
// layer can poll it.
type Conversations interface {
	OpenConversation(id string)
	CloseConversation()
	// Exclusive runs fn without overlapping the layer's own refreshes.
	Exclusive(ctx context.Context, fn func(context.Context) error) error
}

// Engine ingests backend state into the store. It is the refresher driven by
// the delivery manager and the entry point for user actions.
type Engine struct {
	api        backend.API
	store      *store.Store
	reconciler *reconcile.Reconciler
	dispatcher *notify.Dispatcher
	tracker    *outbox.Tracker
	sender     *outbox.Sender
	bus        *bus.Bus
	metrics    *metrics.Metrics
	logger     *zap.Logger
	delivery   Conversations
	cancel     context.CancelFunc
}

var _ delivery.Refresher = (*Engine)(nil)

// NewEngine creates a new sync engine.
func NewEngine(api backend.API, s *store.Store, r *reconcile.Reconciler, d *notify.Dispatcher, t *outbox.Tracker, snd *outbox.Sender, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		api:        api,
		store:      s,
		reconciler: r,
		dispatcher: d,
		tracker:    t,
		sender:     snd,
		bus:        b,
		metrics:    m,
		logger:     logger,
	}
}

// SetDelivery wires the delivery layer. It must be called before Start.
func (e *Engine) SetDelivery(c Conversations) {
	e.delivery = c
}

// Start subscribes to session events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("session.", 16)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	if _, ok := delivery.AuthTopic.Decode(evt); ok {
		e.store.SetBanner("Signed out. Run huddlectl signin to reconnect.")
	}
}

// Refresh reconciles the unread total, dispatching notifications for new
// messages, then refreshes the conversation list and, when conversationID is
// set, that conversation's messages.
func (e *Engine) Refresh(ctx context.Context, conversationID string) error {
	res, err := e.reconciler.Tick(ctx, e.applyUnread)
	if err != nil {
		return e.fetchFailed(err)
	}

	if res.Seeded || res.Current != res.Previous || conversationID == "" {
		if err := e.RefreshConversations(ctx); err != nil {
			return err
		}
	}
	if conversationID != "" {
		if err := e.refreshMessages(ctx, conversationID); err != nil {
			return err
		}
	}
	e.fetchRecovered()
	return nil
}

func (e *Engine) applyUnread(res reconcile.Result) error {
	e.store.SetUnreadTotal(res.Current)
	e.metrics.UnreadTotal(res.Current)
	if len(res.Events) == 0 {
		return nil
	}
	e.metrics.NewMessages(len(res.Events))

	for _, ev := range res.Events {
		m := ev.Message
		if m.Mine {
			continue
		}
		viewing := e.store.IsViewing(m.ConversationID)
		rec := notify.FromMessage(m, e.conversationName(m.ConversationID))
		if ev.Synthetic {
			rec.Snippet = "You have new messages"
		}
		out := e.dispatcher.Dispatch(rec, viewing)
		if out.Suppressed != "" {
			e.logger.Debug("notification suppressed", zap.String("id", m.ID), zap.String("reason", out.Suppressed))
		}
		if !ev.Synthetic && m.ConversationID != "" {
			e.store.MergeMessages(m.ConversationID, []store.Message{m})
		}
	}
	return nil
}

func (e *Engine) conversationName(id string) string {
	if id == "" {
		return ""
	}
	c, ok := e.store.Conversation(id)
	if !ok {
		return ""
	}
	return c.Name
}

// RefreshConversations replaces the conversation list with the backend's.
func (e *Engine) RefreshConversations(ctx context.Context) error {
	convs, err := e.api.Conversations(ctx, "")
	if err != nil {
		return e.fetchFailed(fmt.Errorf("fetch conversations: %w", err))
	}
	e.store.UpsertConversations(convs)
	return nil
}

func (e *Engine) refreshMessages(ctx context.Context, conversationID string) error {
	msgs, err := e.api.Messages(ctx, conversationID)
	if err != nil {
		return e.fetchFailed(fmt.Errorf("fetch messages of %s: %w", conversationID, err))
	}
	e.store.MergeMessages(conversationID, msgs)
	return nil
}

// fetchFailed raises the banner for errors that survived the client's
// retries. Auth failures are left to the delivery manager.
func (e *Engine) fetchFailed(err error) error {
	if backend.IsAuth(err) || errors.Is(err, context.Canceled) {
		return err
	}
	msg := "Could not refresh messages. Retrying in the background."
	if e.store.Snapshot().Banner != msg {
		e.store.SetBanner(msg)
		BannerTopic.Publish(e.bus, Banner{Message: err.Error()})
	}
	return err
}

func (e *Engine) fetchRecovered() {
	if e.store.Snapshot().Banner == "" {
		return
	}
	e.store.SetBanner("")
	BannerClearedTopic.Publish(e.bus, Banner{})
}

// HandleSignal applies one push signal. Receipts advance message status;
// anything else refreshes the open conversation.
func (e *Engine) HandleSignal(ctx context.Context, sig push.Signal) error {
	if sig.Kind == push.SignalReceipt {
		err := e.tracker.Advance(sig.MessageID, sig.Status)
		switch {
		case err == nil:
		case outbox.IsBackward(err), errors.Is(err, store.ErrUnknownMessage):
			e.logger.Debug("receipt ignored", zap.String("id", sig.MessageID), zap.String("status", string(sig.Status)), zap.Error(err))
		default:
			return err
		}
		return nil
	}

	selected := e.store.Selected()
	if err := e.Refresh(ctx, selected); err != nil {
		return err
	}
	// A change in another conversation the user has loaded.
	if c := sig.ConversationID; c != "" && c != selected && len(e.store.Messages(c)) > 0 {
		return e.refreshMessages(ctx, c)
	}
	return nil
}
