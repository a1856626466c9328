package client

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/notify"
	"github.com/matheus3301/huddle/internal/outbox"
	"github.com/matheus3301/huddle/internal/status"
	"github.com/matheus3301/huddle/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// engine is a minimal api.Actions backed directly by the store.
type engine struct {
	store *store.Store
}

func (e *engine) SelectConversation(_ context.Context, id string) error {
	return e.store.SelectConversation(id)
}
func (e *engine) CloseConversation() { _ = e.store.SelectConversation("") }
func (e *engine) MarkConversationRead(_ context.Context, id string) error {
	return e.store.MarkConversationRead(id)
}
func (e *engine) EnterMessaging()                             { e.store.SetMessagingOpen(true) }
func (e *engine) LeaveMessaging()                             { e.store.SetMessagingOpen(false) }
func (e *engine) Navigate(_ context.Context, id string) error { return e.store.SelectConversation(id) }

func (e *engine) SendMessage(_ context.Context, d outbox.Draft) (store.Message, error) {
	if strings.TrimSpace(d.Content) == "" {
		return store.Message{}, outbox.ErrEmpty
	}
	m := store.Message{ID: "tmp-1", ConversationID: d.ConversationID, Content: d.Content, Status: store.StatusSending, Mine: true, CreatedAt: time.Now()}
	e.store.AppendMessage(m)
	return m, nil
}

func (e *engine) RetryMessage(_ context.Context, id string) (store.Message, error) {
	return store.Message{}, outbox.ErrNotRetryable
}

type fixture struct {
	client *Client
	store  *store.Store
	bus    *bus.Bus
	toast  *notify.Toast
	health *health.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "hc-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	apiSock := filepath.Join(dir, "api.sock")
	healthSock := filepath.Join(dir, "d.sock")

	b := bus.New()
	s := store.New(b)
	s.UpsertConversations([]store.Conversation{{ID: "c1", Kind: store.KindGroup, Name: "general", Unread: 1}})
	s.SetUnreadTotal(1)
	toast := notify.NewToast(time.Minute, b)

	srv := api.New(api.Deps{
		Store:   s,
		Actions: &engine{store: s},
		Toast:   toast,
		Panel:   notify.NewPanel(time.Minute, 5, b),
		Bus:     b,
		Logger:  zap.NewNop(),
	})
	l, err := net.Listen("unix", apiSock)
	require.NoError(t, err)
	hs := httptest.NewUnstartedServer(srv.Handler())
	hs.Listener = l
	hs.Start()
	t.Cleanup(hs.Close)

	hl, err := net.Listen("unix", healthSock)
	require.NoError(t, err)
	healthSrv := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, healthSrv)
	go func() { _ = gs.Serve(hl) }()
	t.Cleanup(gs.Stop)

	c, err := New(apiSock, healthSock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return &fixture{client: c, store: s, bus: b, toast: toast, health: healthSrv}
}

func TestStateAndConversations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.client.State(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, snap.UnreadTotal)

	convs, err := f.client.Conversations(ctx, store.KindGroup)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "general", convs[0].Name)

	convs, err = f.client.Conversations(ctx, store.KindDirect)
	require.NoError(t, err)
	require.Empty(t, convs)
}

func TestSendAndMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.client.Send(ctx, "c1", "hello")
	require.NoError(t, err)
	require.Equal(t, store.StatusSending, m.Status)

	msgs, err := f.client.Messages(ctx, "c1", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Content)

	require.NoError(t, f.client.MarkRead(ctx, "c1"))
	snap, err := f.client.State(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, snap.UnreadTotal)
}

func TestAPIErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.Send(ctx, "c1", " ")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "err = %v", err)
	require.Equal(t, 400, apiErr.Status)
	require.Contains(t, apiErr.Message, "empty")

	_, err = f.client.Retry(ctx, "tmp-1")
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, 409, apiErr.Status)

	_, err = f.client.Search(ctx, "x", "", 0)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, 503, apiErr.Status)
}

func TestNotificationsRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.toast.Show(notify.Record{ID: "m1", ConversationID: "c1", Sender: "Bea"})

	n, err := f.client.Notifications(ctx)
	require.NoError(t, err)
	require.Len(t, n.Toasts, 1)

	rec, err := f.client.Open(ctx, notify.SurfaceToast, "m1")
	require.NoError(t, err)
	require.Equal(t, "c1", rec.ConversationID)
	require.Equal(t, "c1", f.store.Selected())

	dismissed, err := f.client.DismissAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, dismissed)
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var kinds []string
	err := f.client.Events(ctx, "notify.", func(e Event) error {
		kinds = append(kinds, e.Kind)
		if e.Kind == "ready" {
			f.toast.Show(notify.Record{ID: "m2", ConversationID: "c1"})
			return nil
		}
		require.Contains(t, string(e.Payload), `"id":"m2"`)
		return errors.New("done")
	})
	require.EqualError(t, err, "done")
	require.Equal(t, []string{"ready", "notify.shown"}, kinds)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.health.SetServingStatus(status.HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, err := f.client.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, h.Daemon)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, h.Delivery)
}

func TestRenderQR(t *testing.T) {
	out, err := RenderQR("https://chat.example.com/signin")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Greater(t, len(lines), 10)
	require.Contains(t, out, "█")
}

func TestSelectionAndMessaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.client.Select(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "c1", snap.Selected)

	require.NoError(t, f.client.EnterMessaging(ctx))
	require.True(t, f.store.Snapshot().MessagingOpen)

	require.NoError(t, f.client.LeaveMessaging(ctx))
	require.NoError(t, f.client.ClearSelection(ctx))
	snap = f.store.Snapshot()
	require.False(t, snap.MessagingOpen)
	require.Empty(t, snap.Selected)

	_, err = f.client.Select(ctx, "nope")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 404, apiErr.Status)
}
