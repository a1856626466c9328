package archive

import (
	"context"
	"sync"

	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/store"
	"go.uber.org/zap"
)

// Recorder writes committed store changes through to the archive.
type Recorder struct {
	db     *DB
	store  *store.Store
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewRecorder creates a recorder for s.
func NewRecorder(db *DB, s *store.Store, b *bus.Bus, logger *zap.Logger) *Recorder {
	return &Recorder{db: db, store: s, bus: b, logger: logger}
}

// Start subscribes to the bus and begins writing.
func (r *Recorder) Start(ctx context.Context) {
	msgs, unsubMsgs := r.bus.Subscribe("message.", 256)
	changes, unsubChanges := r.bus.Subscribe(bus.KindStoreChanged, 256)
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		defer unsubMsgs()
		defer unsubChanges()
		r.loop(ctx, msgs, changes)
	}()
}

// Stop ends the recorder after writing the events already received.
func (r *Recorder) Stop() {
	r.once.Do(func() {
		if r.cancel == nil {
			return
		}
		r.cancel()
		<-r.done
	})
}

func (r *Recorder) loop(ctx context.Context, msgs, changes <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			r.drain(msgs, changes)
			return
		case evt := <-msgs:
			r.handle(evt)
		case evt := <-changes:
			r.handle(evt)
		}
	}
}

// drain writes whatever is already buffered.
func (r *Recorder) drain(msgs, changes <-chan bus.Event) {
	for {
		select {
		case evt := <-msgs:
			r.handle(evt)
		case evt := <-changes:
			r.handle(evt)
		default:
			return
		}
	}
}

func (r *Recorder) handle(evt bus.Event) {
	if m, ok := store.MessageAdded.Decode(evt); ok {
		r.recordMessage(m)
	} else if m, ok := store.MessageUpdated.Decode(evt); ok {
		r.recordMessage(m)
	} else if c, ok := store.Changed.Decode(evt); ok {
		r.recordChange(c)
	}
}

func (r *Recorder) recordMessage(m store.Message) {
	if err := r.db.UpsertMessage(m); err != nil {
		r.logger.Error("failed to archive message", zap.Error(err), zap.String("id", m.ID))
		return
	}
	// A confirmed server copy supersedes the local one it was sent as.
	if m.ClientID != "" && m.ClientID != m.ID {
		if err := r.db.DeleteMessage(m.ConversationID, m.ClientID); err != nil {
			r.logger.Warn("failed to drop archived local copy", zap.Error(err), zap.String("client_id", m.ClientID))
		}
	}
}

func (r *Recorder) recordChange(c store.Change) {
	switch c.Reason {
	case store.ReasonEvicted:
		if err := r.db.DeleteConversation(c.ConversationID); err != nil {
			r.logger.Error("failed to drop archived conversation", zap.Error(err), zap.String("conversation", c.ConversationID))
		}
	case store.ReasonConversations, store.ReasonMessages, store.ReasonRead, store.ReasonSelection:
		var convs []store.Conversation
		if c.ConversationID == "" {
			convs = r.store.Conversations("")
		} else if conv, ok := r.store.Conversation(c.ConversationID); ok {
			convs = []store.Conversation{conv}
		}
		for _, conv := range convs {
			if err := r.db.UpsertConversation(conv); err != nil {
				r.logger.Error("failed to archive conversation", zap.Error(err), zap.String("conversation", conv.ID))
			}
		}
	}
}
