package sync

import (
	"context"
	"fmt"

	"github.com/matheus3301/huddle/internal/outbox"
	"github.com/matheus3301/huddle/internal/store"
	"go.uber.org/zap"
)

// SelectConversation opens a conversation: it becomes the selected one, its
// unread counter is cleared provisionally, its messages are loaded and the
// backend is told it was read.
func (e *Engine) SelectConversation(ctx context.Context, id string) error {
	if id == "" {
		e.CloseConversation()
		return nil
	}
	if err := e.store.SelectConversation(id); err != nil {
		return err
	}
	if e.delivery != nil {
		e.delivery.OpenConversation(id)
	}
	// The load shares the poll loop's lock; the delivery layer may already
	// be polling this conversation.
	load := func(ctx context.Context) error { return e.refreshMessages(ctx, id) }
	var err error
	if e.delivery != nil {
		err = e.delivery.Exclusive(ctx, load)
	} else {
		err = load(ctx)
	}
	if err != nil {
		return err
	}
	if err := e.MarkConversationRead(ctx, id); err != nil {
		// The next unread fetch corrects the provisional counter.
		e.logger.Warn("failed to mark conversation read", zap.String("conversation", id), zap.Error(err))
	}
	return nil
}

// CloseConversation clears the selection and stops polling it.
func (e *Engine) CloseConversation() {
	_ = e.store.SelectConversation("")
	if e.delivery != nil {
		e.delivery.CloseConversation()
	}
}

// MarkConversationRead records a read with the backend, then in the store.
func (e *Engine) MarkConversationRead(ctx context.Context, id string) error {
	if _, ok := e.store.Conversation(id); !ok {
		return fmt.Errorf("mark read %s: %w", id, store.ErrUnknownConversation)
	}
	if err := e.api.MarkRead(ctx, id); err != nil {
		return fmt.Errorf("mark read %s: %w", id, err)
	}
	return e.store.MarkConversationRead(id)
}

// EnterMessaging records that the user navigated into the messaging surface.
// Pending notifications are cleared; nothing is marked read.
func (e *Engine) EnterMessaging() {
	e.store.SetMessagingOpen(true)
	if n := e.dispatcher.ClearMessaging(); n > 0 {
		e.logger.Debug("cleared notifications on entering messaging", zap.Int("count", n))
	}
}

// LeaveMessaging records that the user left the messaging surface.
func (e *Engine) LeaveMessaging() {
	e.store.SetMessagingOpen(false)
	if e.delivery != nil {
		e.delivery.CloseConversation()
	}
}

// Navigate opens a conversation from a notification.
func (e *Engine) Navigate(ctx context.Context, conversationID string) error {
	e.EnterMessaging()
	if conversationID == "" {
		return nil
	}
	return e.SelectConversation(ctx, conversationID)
}

// SendMessage sends a message with an optimistic local copy.
func (e *Engine) SendMessage(ctx context.Context, d outbox.Draft) (store.Message, error) {
	return e.sender.Send(ctx, d)
}

// RetryMessage resends a failed message.
func (e *Engine) RetryMessage(ctx context.Context, id string) (store.Message, error) {
	return e.sender.Retry(ctx, id)
}
