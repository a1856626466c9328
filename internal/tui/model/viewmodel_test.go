package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/huddle/internal/archive"
	"github.com/matheus3301/huddle/internal/client"
	"github.com/matheus3301/huddle/internal/notify"
	"github.com/matheus3301/huddle/internal/store"
)

type fakeDaemon struct {
	calls     []string
	snapshot  store.Snapshot
	messages  map[string][]store.Message
	older     []store.Message
	notifs    client.Notifications
	sendErr   error
	retried   string
	dismissed []string
}

func (f *fakeDaemon) State(context.Context) (store.Snapshot, error) {
	f.calls = append(f.calls, "state")
	return f.snapshot, nil
}

func (f *fakeDaemon) Messages(_ context.Context, id string, before time.Time, _ int) ([]store.Message, error) {
	if !before.IsZero() {
		f.calls = append(f.calls, "older:"+id)
		return f.older, nil
	}
	f.calls = append(f.calls, "messages:"+id)
	return f.messages[id], nil
}

func (f *fakeDaemon) Select(_ context.Context, id string) (store.Snapshot, error) {
	f.calls = append(f.calls, "select:"+id)
	snap := f.snapshot
	snap.Selected = id
	return snap, nil
}

func (f *fakeDaemon) ClearSelection(context.Context) error {
	f.calls = append(f.calls, "clear")
	return nil
}

func (f *fakeDaemon) EnterMessaging(context.Context) error {
	f.calls = append(f.calls, "enter")
	return nil
}

func (f *fakeDaemon) LeaveMessaging(context.Context) error {
	f.calls = append(f.calls, "leave")
	return nil
}

func (f *fakeDaemon) MarkRead(_ context.Context, id string) error {
	f.calls = append(f.calls, "read:"+id)
	return nil
}

func (f *fakeDaemon) Send(_ context.Context, id, content string) (store.Message, error) {
	if f.sendErr != nil {
		return store.Message{}, f.sendErr
	}
	return store.Message{ID: "tmp-1", ConversationID: id, Content: content, Mine: true, Status: store.StatusSending}, nil
}

func (f *fakeDaemon) Retry(_ context.Context, id string) (store.Message, error) {
	f.retried = id
	return store.Message{ID: "tmp-2"}, nil
}

func (f *fakeDaemon) Notifications(context.Context) (client.Notifications, error) {
	return f.notifs, nil
}

func (f *fakeDaemon) Dismiss(_ context.Context, surface, id string) error {
	f.dismissed = append(f.dismissed, surface+"/"+id)
	return nil
}

func (f *fakeDaemon) DismissAll(context.Context) (int, error) {
	n := len(f.notifs.Panel)
	f.notifs.Panel = nil
	return n, nil
}

func (f *fakeDaemon) Open(_ context.Context, surface, id string) (notify.Record, error) {
	return notify.Record{ID: id, ConversationID: "c2"}, nil
}

func (f *fakeDaemon) Search(context.Context, string, string, int) ([]archive.SearchResult, error) {
	return nil, nil
}

func newFake() *fakeDaemon {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &fakeDaemon{
		snapshot: store.Snapshot{
			UnreadTotal:   2,
			Conversations: []store.Conversation{{ID: "c1", Name: "general"}, {ID: "c2", Name: "ops"}},
		},
		messages: map[string][]store.Message{
			"c1": {
				{ID: "m1", ConversationID: "c1", CreatedAt: t0},
				{ID: "m2", ConversationID: "c1", CreatedAt: t0.Add(time.Minute), Mine: true, Status: store.StatusFailed},
				{ID: "m3", ConversationID: "c1", CreatedAt: t0.Add(2 * time.Minute), Mine: true, Status: store.StatusSent},
			},
		},
		older: []store.Message{{ID: "m0", ConversationID: "c1", CreatedAt: t0.Add(-time.Hour)}},
	}
}

func equalCalls(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}

func TestOpenAndCloseConversation(t *testing.T) {
	f := newFake()
	vm := NewViewModel(f)
	ctx := context.Background()

	if err := vm.OpenConversation(ctx, "c1"); err != nil {
		t.Fatalf("OpenConversation: %v", err)
	}
	equalCalls(t, f.calls, []string{"enter", "select:c1", "messages:c1"})
	if vm.Active() != "c1" || vm.Snapshot().Selected != "c1" {
		t.Fatalf("active = %q, selected = %q", vm.Active(), vm.Snapshot().Selected)
	}
	if got := len(vm.Messages()); got != 3 {
		t.Fatalf("messages = %d, want 3", got)
	}

	f.calls = nil
	if err := vm.CloseConversation(ctx); err != nil {
		t.Fatalf("CloseConversation: %v", err)
	}
	equalCalls(t, f.calls, []string{"leave", "clear"})
	if vm.Active() != "" || len(vm.Messages()) != 0 {
		t.Fatal("thread still open after close")
	}
}

func TestLoadStateReloadsOpenThread(t *testing.T) {
	f := newFake()
	vm := NewViewModel(f)
	ctx := context.Background()

	if err := vm.LoadState(ctx); err != nil {
		t.Fatal(err)
	}
	equalCalls(t, f.calls, []string{"state"})

	if err := vm.OpenConversation(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	f.calls = nil
	if err := vm.LoadState(ctx); err != nil {
		t.Fatal(err)
	}
	equalCalls(t, f.calls, []string{"state", "messages:c1"})
	if c, ok := vm.Conversation("c2"); !ok || c.Name != "ops" {
		t.Fatalf("Conversation(c2) = %+v, %v", c, ok)
	}
}

func TestLoadOlderPrepends(t *testing.T) {
	f := newFake()
	vm := NewViewModel(f)
	ctx := context.Background()

	if n, err := vm.LoadOlder(ctx); err != nil || n != 0 {
		t.Fatalf("LoadOlder with nothing open = %d, %v", n, err)
	}
	if err := vm.OpenConversation(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	n, err := vm.LoadOlder(ctx)
	if err != nil || n != 1 {
		t.Fatalf("LoadOlder = %d, %v", n, err)
	}
	if msgs := vm.Messages(); msgs[0].ID != "m0" || len(msgs) != 4 {
		t.Fatalf("messages after LoadOlder = %+v", msgs)
	}
}

func TestSend(t *testing.T) {
	f := newFake()
	vm := NewViewModel(f)
	ctx := context.Background()

	if err := vm.Send(ctx, "hi"); err == nil {
		t.Fatal("Send with no open conversation should fail")
	}
	if err := vm.OpenConversation(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if err := vm.Send(ctx, "hi"); err != nil {
		t.Fatal(err)
	}
	msgs := vm.Messages()
	if last := msgs[len(msgs)-1]; last.ID != "tmp-1" || last.Status != store.StatusSending {
		t.Fatalf("last message = %+v, want optimistic copy", last)
	}

	f.sendErr = errors.New("boom")
	if err := vm.Send(ctx, "again"); err == nil {
		t.Fatal("expected send error")
	}
}

func TestRetryLastFailed(t *testing.T) {
	f := newFake()
	vm := NewViewModel(f)
	ctx := context.Background()

	if ok, _ := vm.RetryLastFailed(ctx); ok {
		t.Fatal("nothing to retry without an open thread")
	}
	if err := vm.OpenConversation(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	ok, err := vm.RetryLastFailed(ctx)
	if err != nil || !ok {
		t.Fatalf("RetryLastFailed = %v, %v", ok, err)
	}
	if f.retried != "m2" {
		t.Fatalf("retried %q, want m2", f.retried)
	}
}

func TestNotifications(t *testing.T) {
	f := newFake()
	f.notifs = client.Notifications{
		Panel: []notify.Entry{{Record: notify.Record{ID: "m9"}}, {Record: notify.Record{ID: "m8"}}},
	}
	vm := NewViewModel(f)
	ctx := context.Background()

	if err := vm.LoadNotifications(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(vm.Notifications().Panel); got != 2 {
		t.Fatalf("panel = %d, want 2", got)
	}

	conv, err := vm.OpenNotification(ctx, notify.SurfacePanel, "m9")
	if err != nil || conv != "c2" {
		t.Fatalf("OpenNotification = %q, %v", conv, err)
	}
	if err := vm.DismissNotification(ctx, notify.SurfaceToast, "m8"); err != nil {
		t.Fatal(err)
	}
	if len(f.dismissed) != 1 || f.dismissed[0] != "toast/m8" {
		t.Fatalf("dismissed = %v", f.dismissed)
	}

	n, err := vm.DismissAll(ctx)
	if err != nil || n != 2 {
		t.Fatalf("DismissAll = %d, %v", n, err)
	}
	if len(vm.Notifications().Panel) != 0 {
		t.Fatal("panel not reloaded after DismissAll")
	}
}
