package sync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/matheus3301/huddle/internal/backend"
	"github.com/matheus3301/huddle/internal/backend/mock"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/delivery"
	"github.com/matheus3301/huddle/internal/notify"
	"github.com/matheus3301/huddle/internal/outbox"
	"github.com/matheus3301/huddle/internal/push"
	"github.com/matheus3301/huddle/internal/reconcile"
	"github.com/matheus3301/huddle/internal/store"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeConversations struct {
	opened    []string
	closed    int
	exclusive int
}

func (f *fakeConversations) OpenConversation(id string) { f.opened = append(f.opened, id) }
func (f *fakeConversations) CloseConversation()         { f.closed++ }

func (f *fakeConversations) Exclusive(ctx context.Context, fn func(context.Context) error) error {
	f.exclusive++
	return fn(ctx)
}

type testEngine struct {
	*Engine
	api   *mock.MockAPI
	store *store.Store
	toast *notify.Toast
	conv  *fakeConversations
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	ctrl := gomock.NewController(t)
	api := mock.NewMockAPI(ctrl)
	b := bus.New()
	st := store.New(b)
	logger := zap.NewNop()

	ledger, err := notify.NewMemoryLedger(64)
	if err != nil {
		t.Fatal(err)
	}
	toast := notify.NewToast(time.Minute, b)
	t.Cleanup(func() { toast.Clear(notify.ReasonDismissed) })
	d := notify.NewDispatcher(ledger, []notify.Surface{toast}, nil, logger)
	sender := outbox.NewSender(outbox.Config{}, st, api, nil, b, nil, logger)
	t.Cleanup(sender.Wait)

	e := NewEngine(api, st, reconcile.New(api, nil, logger), d, outbox.NewTracker(st), sender, b, nil, logger)
	conv := &fakeConversations{}
	e.SetDelivery(conv)
	return &testEngine{Engine: e, api: api, store: st, toast: toast, conv: conv}
}

var general = store.Conversation{ID: "c1", Kind: store.KindGroup, Name: "general"}

func incoming(id string, offset time.Duration) store.Message {
	return store.Message{
		ID:             id,
		ConversationID: "c1",
		Sender:         store.Sender{ID: "u2", Name: "Bea"},
		Content:        "hello " + id,
		Kind:           store.ContentText,
		CreatedAt:      t0.Add(offset),
		Status:         store.StatusDelivered,
	}
}

// seed runs the first refresh, which only establishes the unread baseline.
func (te *testEngine) seed(t *testing.T, total int) {
	t.Helper()
	te.api.EXPECT().UnreadTotal(gomock.Any()).Return(total, nil)
	te.api.EXPECT().Conversations(gomock.Any(), store.ConversationKind("")).Return([]store.Conversation{general}, nil)
	if err := te.Refresh(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if n := len(te.toast.Active()); n != 0 {
		t.Fatalf("seed produced %d toasts", n)
	}
}

func TestRefreshNotifiesOnUnreadIncrease(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, 2)
	if got := te.store.UnreadTotal(); got != 2 {
		t.Errorf("unread = %d, want 2", got)
	}

	te.api.EXPECT().UnreadTotal(gomock.Any()).Return(3, nil)
	te.api.EXPECT().LatestUnread(gomock.Any(), 1).Return([]store.Message{incoming("m1", 0)}, nil)
	te.api.EXPECT().Conversations(gomock.Any(), gomock.Any()).Return([]store.Conversation{general}, nil)
	if err := te.Refresh(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	active := te.toast.Active()
	if len(active) != 1 {
		t.Fatalf("got %d toasts, want 1", len(active))
	}
	if active[0].Record.ConversationName != "general" || active[0].Record.Sender != "Bea" {
		t.Errorf("record = %+v", active[0].Record)
	}
	if _, ok := te.store.Message("m1"); !ok {
		t.Error("new message not merged into the store")
	}
	if got := te.store.UnreadTotal(); got != 3 {
		t.Errorf("unread = %d, want 3", got)
	}
}

func TestRefreshWhileViewingDoesNotNotify(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, 0)
	te.store.SetMessagingOpen(true)
	if err := te.store.SelectConversation("c1"); err != nil {
		t.Fatal(err)
	}

	te.api.EXPECT().UnreadTotal(gomock.Any()).Return(1, nil)
	te.api.EXPECT().LatestUnread(gomock.Any(), 1).Return([]store.Message{incoming("m1", 0)}, nil)
	te.api.EXPECT().Conversations(gomock.Any(), gomock.Any()).Return([]store.Conversation{general}, nil)
	te.api.EXPECT().Messages(gomock.Any(), "c1").Return([]store.Message{incoming("m1", 0)}, nil)
	if err := te.Refresh(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	if n := len(te.toast.Active()); n != 0 {
		t.Errorf("got %d toasts while viewing, want 0", n)
	}
	if msgs := te.store.Messages("c1"); len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
}

func TestRefreshSyntheticEvent(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, 0)

	te.api.EXPECT().UnreadTotal(gomock.Any()).Return(2, nil)
	te.api.EXPECT().LatestUnread(gomock.Any(), 2).Return(nil, nil)
	te.api.EXPECT().Conversations(gomock.Any(), gomock.Any()).Return([]store.Conversation{general}, nil)
	if err := te.Refresh(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	active := te.toast.Active()
	if len(active) != 2 {
		t.Fatalf("toasts = %+v, want two synthetic", active)
	}
	for _, e := range active {
		if !strings.HasPrefix(e.Record.ID, "unread:0-2:") {
			t.Errorf("toast id = %q", e.Record.ID)
		}
	}
}

// refreshTotal runs one refresh where the backend reports total and, on an
// increase, returns msgs as the latest unread.
func (te *testEngine) refreshTotal(t *testing.T, total, delta int, msgs []store.Message) {
	t.Helper()
	te.api.EXPECT().UnreadTotal(gomock.Any()).Return(total, nil)
	if delta > 0 {
		te.api.EXPECT().LatestUnread(gomock.Any(), delta).Return(msgs, nil)
	}
	te.api.EXPECT().Conversations(gomock.Any(), gomock.Any()).Return([]store.Conversation{general}, nil)
	if err := te.Refresh(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
}

func TestRefreshRepeatedIncreaseNotifiesAgain(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, 3)

	te.refreshTotal(t, 5, 2, nil)
	if n := len(te.toast.Active()); n != 2 {
		t.Fatalf("after 3->5: %d toasts, want 2", n)
	}
	te.toast.Clear(notify.ReasonDismissed)

	te.refreshTotal(t, 3, 0, nil)
	te.refreshTotal(t, 5, 2, nil)
	if n := len(te.toast.Active()); n != 2 {
		t.Fatalf("after 3->5 again: %d toasts, want 2", n)
	}
}

func TestRefreshPartialFetchNotifiesDelta(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, 3)

	te.refreshTotal(t, 5, 2, []store.Message{incoming("m1", 0)})
	if n := len(te.toast.Active()); n != 2 {
		t.Fatalf("got %d toasts for an increase of 2", n)
	}
}

func TestRefreshSkipsConversationsWhenUnchanged(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, 1)

	// Polling an open conversation with no unread change fetches only its messages.
	te.api.EXPECT().UnreadTotal(gomock.Any()).Return(1, nil)
	te.api.EXPECT().Messages(gomock.Any(), "c1").Return([]store.Message{incoming("m1", 0), incoming("m2", time.Second)}, nil)
	if err := te.Refresh(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	if msgs := te.store.Messages("c1"); len(msgs) != 2 {
		t.Errorf("got %d messages, want 2", len(msgs))
	}
}

func TestFetchFailureRaisesBanner(t *testing.T) {
	te := newTestEngine(t)
	ch, unsub := te.bus.Subscribe("banner.", 4)
	defer unsub()

	te.api.EXPECT().UnreadTotal(gomock.Any()).Return(0, errors.New("503 after retries"))
	if err := te.Refresh(context.Background(), ""); err == nil {
		t.Fatal("expected error")
	}
	if te.store.Snapshot().Banner == "" {
		t.Error("banner not raised")
	}

	te.seed(t, 0)
	if b := te.store.Snapshot().Banner; b != "" {
		t.Errorf("banner = %q after recovery, want cleared", b)
	}

	for _, want := range []string{"banner.fetch_failed", "banner.cleared"} {
		select {
		case evt := <-ch:
			if evt.Kind != want {
				t.Errorf("event kind = %q, want %s", evt.Kind, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

func TestAuthFailureIsNotABanner(t *testing.T) {
	te := newTestEngine(t)

	te.api.EXPECT().UnreadTotal(gomock.Any()).Return(0, backend.ErrUnauthorized)
	err := te.Refresh(context.Background(), "")
	if !backend.IsAuth(err) {
		t.Fatalf("err = %v, want auth failure", err)
	}
	if b := te.store.Snapshot().Banner; b != "" {
		t.Errorf("banner = %q, want none", b)
	}
}

func TestReceiptSignal(t *testing.T) {
	te := newTestEngine(t)
	mine := incoming("m1", 0)
	mine.Mine = true
	mine.Status = store.StatusSent
	te.store.AppendMessage(mine)

	ctx := context.Background()
	if err := te.HandleSignal(ctx, push.Signal{Kind: push.SignalReceipt, MessageID: "m1", Status: store.StatusRead}); err != nil {
		t.Fatal(err)
	}
	// A late delivered receipt is ignored.
	if err := te.HandleSignal(ctx, push.Signal{Kind: push.SignalReceipt, MessageID: "m1", Status: store.StatusDelivered}); err != nil {
		t.Fatal(err)
	}
	if err := te.HandleSignal(ctx, push.Signal{Kind: push.SignalReceipt, MessageID: "unknown", Status: store.StatusRead}); err != nil {
		t.Fatal(err)
	}

	m, _ := te.store.Message("m1")
	if m.Status != store.StatusRead {
		t.Errorf("status = %q, want read", m.Status)
	}
}

func TestChangedSignalRefreshesSelected(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, 0)
	if err := te.store.SelectConversation("c1"); err != nil {
		t.Fatal(err)
	}

	te.api.EXPECT().UnreadTotal(gomock.Any()).Return(0, nil)
	te.api.EXPECT().Messages(gomock.Any(), "c1").Return([]store.Message{incoming("m1", 0)}, nil)
	if err := te.HandleSignal(context.Background(), push.Signal{Kind: push.SignalChanged}); err != nil {
		t.Fatal(err)
	}
	if _, ok := te.store.Message("m1"); !ok {
		t.Error("selected conversation not refreshed")
	}
}

func TestSelectConversation(t *testing.T) {
	te := newTestEngine(t)
	te.store.UpsertConversations([]store.Conversation{{ID: "c1", Kind: store.KindGroup, Unread: 2}})
	te.store.SetUnreadTotal(2)

	te.api.EXPECT().Messages(gomock.Any(), "c1").Return([]store.Message{incoming("m1", 0)}, nil)
	te.api.EXPECT().MarkRead(gomock.Any(), "c1").Return(nil)
	if err := te.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	if len(te.conv.opened) != 1 || te.conv.opened[0] != "c1" {
		t.Errorf("opened = %v, want [c1]", te.conv.opened)
	}
	if te.conv.exclusive != 1 {
		t.Errorf("message load ran outside the delivery lock (%d exclusive calls)", te.conv.exclusive)
	}
	if got := te.store.UnreadTotal(); got != 0 {
		t.Errorf("unread = %d, want 0", got)
	}
	m, _ := te.store.Message("m1")
	if m.Status != store.StatusRead {
		t.Errorf("status = %q, want read", m.Status)
	}

	te.CloseConversation()
	if te.store.Selected() != "" || te.conv.closed != 1 {
		t.Errorf("selected = %q closed = %d", te.store.Selected(), te.conv.closed)
	}
}

func TestSelectConversationMarkReadFailure(t *testing.T) {
	te := newTestEngine(t)
	te.store.UpsertConversations([]store.Conversation{{ID: "c1", Unread: 1}})
	te.store.SetUnreadTotal(1)

	te.api.EXPECT().Messages(gomock.Any(), "c1").Return(nil, nil)
	te.api.EXPECT().MarkRead(gomock.Any(), "c1").Return(errors.New("timeout"))
	if err := te.SelectConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	// The optimistic decrement stays provisional until the next fetch.
	snap := te.store.Snapshot()
	if snap.UnreadTotal != 0 || !snap.Provisional {
		t.Errorf("unread = %d provisional = %v", snap.UnreadTotal, snap.Provisional)
	}
}

func TestMessagingNavigation(t *testing.T) {
	te := newTestEngine(t)
	te.toast.Show(notify.Record{ID: "m1", ConversationID: "c1"})

	te.EnterMessaging()
	if !te.store.MessagingOpen() {
		t.Error("messaging not open")
	}
	if n := len(te.toast.Active()); n != 0 {
		t.Errorf("got %d toasts after entering messaging, want 0", n)
	}
	if got := te.store.UnreadTotal(); got != 0 {
		t.Errorf("unread changed to %d", got)
	}

	te.LeaveMessaging()
	if te.store.MessagingOpen() || te.conv.closed != 1 {
		t.Errorf("open = %v closed = %d", te.store.MessagingOpen(), te.conv.closed)
	}
}

func TestAuthEventRaisesSignInBanner(t *testing.T) {
	te := newTestEngine(t)
	te.Start(context.Background())
	defer te.Stop()

	delivery.AuthTopic.Publish(te.bus, delivery.AuthRequired{Reason: "token expired"})

	deadline := time.Now().Add(time.Second)
	for te.store.Snapshot().Banner == "" {
		if time.Now().After(deadline) {
			t.Fatal("sign-in banner not raised")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
