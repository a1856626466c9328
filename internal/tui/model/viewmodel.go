package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/huddle/internal/archive"
	"github.com/matheus3301/huddle/internal/client"
	"github.com/matheus3301/huddle/internal/notify"
	"github.com/matheus3301/huddle/internal/store"
	"github.com/matheus3301/huddle/internal/tui/ui"
)

const threadPageSize = 100

// Daemon is the part of the daemon API the TUI uses.
type Daemon interface {
	State(ctx context.Context) (store.Snapshot, error)
	Messages(ctx context.Context, conversationID string, before time.Time, limit int) ([]store.Message, error)
	Select(ctx context.Context, conversationID string) (store.Snapshot, error)
	ClearSelection(ctx context.Context) error
	EnterMessaging(ctx context.Context) error
	LeaveMessaging(ctx context.Context) error
	MarkRead(ctx context.Context, conversationID string) error
	Send(ctx context.Context, conversationID, content string) (store.Message, error)
	Retry(ctx context.Context, id string) (store.Message, error)
	Notifications(ctx context.Context) (client.Notifications, error)
	Dismiss(ctx context.Context, surface, id string) error
	DismissAll(ctx context.Context) (int, error)
	Open(ctx context.Context, surface, id string) (notify.Record, error)
	Search(ctx context.Context, query, conversationID string, limit int) ([]archive.SearchResult, error)
}

// ViewModel caches what the daemon last reported. The TUI renders from it
// and never mutates it directly; every change goes through the daemon and
// comes back through a reload.
type ViewModel struct {
	mu sync.RWMutex

	daemon   Daemon
	snapshot store.Snapshot
	active   string
	messages []store.Message
	notifs   client.Notifications

	Flash *ui.FlashModel
}

func NewViewModel(d Daemon) *ViewModel {
	return &ViewModel{daemon: d, Flash: ui.NewFlashModel()}
}

// LoadState refreshes the snapshot, and the open thread if there is one.
func (vm *ViewModel) LoadState(ctx context.Context) error {
	snap, err := vm.daemon.State(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.snapshot = snap
	active := vm.active
	vm.mu.Unlock()
	if active != "" {
		return vm.loadMessages(ctx, active)
	}
	return nil
}

func (vm *ViewModel) loadMessages(ctx context.Context, conversationID string) error {
	msgs, err := vm.daemon.Messages(ctx, conversationID, time.Time{}, threadPageSize)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	if vm.active == conversationID {
		vm.messages = msgs
	}
	vm.mu.Unlock()
	return nil
}

// LoadOlder prepends archived messages older than the oldest one shown and
// returns how many were added.
func (vm *ViewModel) LoadOlder(ctx context.Context) (int, error) {
	vm.mu.RLock()
	active := vm.active
	var oldest time.Time
	if len(vm.messages) > 0 {
		oldest = vm.messages[0].CreatedAt
	}
	vm.mu.RUnlock()
	if active == "" || oldest.IsZero() {
		return 0, nil
	}
	older, err := vm.daemon.Messages(ctx, active, oldest, threadPageSize)
	if err != nil {
		return 0, err
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.active != active {
		return 0, nil
	}
	vm.messages = append(older, vm.messages...)
	return len(older), nil
}

// OpenConversation enters the messaging surface with conversationID selected.
// The daemon marks it read and stops notifying for it.
func (vm *ViewModel) OpenConversation(ctx context.Context, conversationID string) error {
	if err := vm.daemon.EnterMessaging(ctx); err != nil {
		return err
	}
	snap, err := vm.daemon.Select(ctx, conversationID)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.snapshot = snap
	vm.active = conversationID
	vm.messages = nil
	vm.mu.Unlock()
	return vm.loadMessages(ctx, conversationID)
}

// CloseConversation leaves the messaging surface so new messages notify again.
func (vm *ViewModel) CloseConversation(ctx context.Context) error {
	vm.mu.Lock()
	vm.active = ""
	vm.messages = nil
	vm.mu.Unlock()
	if err := vm.daemon.LeaveMessaging(ctx); err != nil {
		return err
	}
	return vm.daemon.ClearSelection(ctx)
}

func (vm *ViewModel) MarkRead(ctx context.Context, conversationID string) error {
	return vm.daemon.MarkRead(ctx, conversationID)
}

// Send submits text to the open conversation. The optimistic copy is shown
// right away; the daemon's events bring the final status.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	vm.mu.RLock()
	active := vm.active
	vm.mu.RUnlock()
	if active == "" {
		return fmt.Errorf("no conversation open")
	}
	m, err := vm.daemon.Send(ctx, active, text)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	if vm.active == active {
		vm.messages = append(vm.messages, m)
	}
	vm.mu.Unlock()
	return nil
}

// RetryLastFailed resends the newest failed message of the open thread.
func (vm *ViewModel) RetryLastFailed(ctx context.Context) (bool, error) {
	vm.mu.RLock()
	var id string
	for i := len(vm.messages) - 1; i >= 0; i-- {
		if m := vm.messages[i]; m.Mine && m.Status == store.StatusFailed {
			id = m.ID
			break
		}
	}
	vm.mu.RUnlock()
	if id == "" {
		return false, nil
	}
	if _, err := vm.daemon.Retry(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

func (vm *ViewModel) LoadNotifications(ctx context.Context) error {
	n, err := vm.daemon.Notifications(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.notifs = n
	vm.mu.Unlock()
	return nil
}

// OpenNotification clicks a notification and returns its conversation.
func (vm *ViewModel) OpenNotification(ctx context.Context, surface, id string) (string, error) {
	rec, err := vm.daemon.Open(ctx, surface, id)
	if err != nil {
		return "", err
	}
	return rec.ConversationID, nil
}

func (vm *ViewModel) DismissNotification(ctx context.Context, surface, id string) error {
	if err := vm.daemon.Dismiss(ctx, surface, id); err != nil {
		return err
	}
	return vm.LoadNotifications(ctx)
}

func (vm *ViewModel) DismissAll(ctx context.Context) (int, error) {
	n, err := vm.daemon.DismissAll(ctx)
	if err != nil {
		return 0, err
	}
	return n, vm.LoadNotifications(ctx)
}

func (vm *ViewModel) Search(ctx context.Context, query string) ([]archive.SearchResult, error) {
	return vm.daemon.Search(ctx, query, "", 50)
}

func (vm *ViewModel) Snapshot() store.Snapshot {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.snapshot
}

// Conversation looks up id in the last snapshot.
func (vm *ViewModel) Conversation(id string) (store.Conversation, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.snapshot.Conversations {
		if c.ID == id {
			return c, true
		}
	}
	return store.Conversation{}, false
}

// Active returns the open conversation id, or "".
func (vm *ViewModel) Active() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active
}

func (vm *ViewModel) Messages() []store.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return append([]store.Message(nil), vm.messages...)
}

func (vm *ViewModel) Notifications() client.Notifications {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.notifs
}
