package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/huddle/internal/archive"
	"github.com/matheus3301/huddle/internal/backend"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/metrics"
	"github.com/matheus3301/huddle/internal/notify"
	"github.com/matheus3301/huddle/internal/outbox"
	"github.com/matheus3301/huddle/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeActions struct {
	mu        sync.Mutex
	store     *store.Store
	calls     []string
	sendErr   error
	readErr   error
	navigated string
}

func (f *fakeActions) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeActions) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeActions) SelectConversation(_ context.Context, id string) error {
	f.record("select:" + id)
	return f.store.SelectConversation(id)
}

func (f *fakeActions) CloseConversation() { f.record("close") }

func (f *fakeActions) MarkConversationRead(_ context.Context, id string) error {
	f.record("read:" + id)
	if f.readErr != nil {
		return f.readErr
	}
	return f.store.MarkConversationRead(id)
}

func (f *fakeActions) EnterMessaging() { f.record("enter") }
func (f *fakeActions) LeaveMessaging() { f.record("leave") }

func (f *fakeActions) Navigate(_ context.Context, id string) error {
	f.record("navigate:" + id)
	f.mu.Lock()
	f.navigated = id
	f.mu.Unlock()
	return nil
}

func (f *fakeActions) SendMessage(_ context.Context, d outbox.Draft) (store.Message, error) {
	f.record("send:" + d.ConversationID)
	if f.sendErr != nil {
		return store.Message{}, f.sendErr
	}
	if strings.TrimSpace(d.Content) == "" && len(d.Attachments) == 0 {
		return store.Message{}, outbox.ErrEmpty
	}
	return store.Message{ID: "tmp-1", ConversationID: d.ConversationID, Content: d.Content, Attachments: d.Attachments, Status: store.StatusSending, Mine: true}, nil
}

func (f *fakeActions) RetryMessage(_ context.Context, id string) (store.Message, error) {
	f.record("retry:" + id)
	if id != "tmp-failed" {
		return store.Message{}, fmt.Errorf("retry %s: %w", id, outbox.ErrNotRetryable)
	}
	return store.Message{ID: "tmp-2", Status: store.StatusSending}, nil
}

type fakeArchive struct {
	before time.Time
}

func (f *fakeArchive) ListMessages(conversationID string, before time.Time, limit int) ([]store.Message, error) {
	f.before = before
	return []store.Message{{ID: "old-1", ConversationID: conversationID}}, nil
}

func (f *fakeArchive) SearchMessages(query, conversationID string, limit int) ([]archive.SearchResult, error) {
	return []archive.SearchResult{{Message: store.Message{ID: "m1"}, Snippet: "[" + query + "]"}}, nil
}

type fakePermissions struct {
	p notify.Permission
}

func (f *fakePermissions) Permission() notify.Permission     { return f.p }
func (f *fakePermissions) SetPermission(p notify.Permission) { f.p = p }

type testServer struct {
	*Server
	store   *store.Store
	actions *fakeActions
	archive *fakeArchive
	perms   *fakePermissions
	bus     *bus.Bus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	b := bus.New()
	s := store.New(b)
	s.UpsertConversations([]store.Conversation{
		{ID: "c1", Kind: store.KindGroup, Name: "general", Unread: 2},
		{ID: "c2", Kind: store.KindDirect, Name: "Bea"},
	})
	s.SetUnreadTotal(2)

	ts := &testServer{
		store:   s,
		actions: &fakeActions{store: s},
		archive: &fakeArchive{},
		perms:   &fakePermissions{p: notify.PermissionDefault},
		bus:     b,
	}
	ts.Server = New(Deps{
		Store:       s,
		Actions:     ts.actions,
		Archive:     ts.archive,
		Toast:       notify.NewToast(time.Minute, b),
		Native:      notify.NewNative(time.Minute, ts.notifier(), b, zap.NewNop()),
		Panel:       notify.NewPanel(time.Minute, 5, b),
		Permissions: ts.perms,
		Bus:         b,
		Metrics:     metrics.New(),
		Logger:      zap.NewNop(),
	})
	return ts
}

// notifier backs the native surface with the same permission the API
// toggles.
func (ts *testServer) notifier() notify.Notifier {
	return &permNotifier{perms: ts.perms}
}

type permNotifier struct {
	perms *fakePermissions
}

func (n *permNotifier) Permission() notify.Permission { return n.perms.Permission() }
func (n *permNotifier) Notify(notify.Record) error    { return nil }

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestState(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/v1/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[store.Snapshot](t, w)
	require.Equal(t, 2, snap.UnreadTotal)
	require.Equal(t, "disconnected", snap.Connection)
	require.Len(t, snap.Conversations, 2)
}

func TestConversations(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/v1/conversations?kind=direct", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		Conversations []store.Conversation `json:"conversations"`
	}](t, w)
	require.Len(t, resp.Conversations, 1)
	require.Equal(t, "c2", resp.Conversations[0].ID)

	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/conversations?kind=channel", "").Code)
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/conversations/nope", "").Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/conversations/c1", "").Code)
}

func TestMessagesFromStoreAndArchive(t *testing.T) {
	ts := newTestServer(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ts.store.AppendMessage(store.Message{ID: fmt.Sprintf("m%d", i), ConversationID: "c1", CreatedAt: base.Add(time.Duration(i) * time.Second), Status: store.StatusSent})
	}

	w := ts.do(t, http.MethodGet, "/v1/conversations/c1/messages?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		Messages []store.Message `json:"messages"`
		HasMore  bool            `json:"has_more"`
	}](t, w)
	require.True(t, resp.HasMore)
	require.Equal(t, "m1", resp.Messages[0].ID)
	require.Equal(t, "m2", resp.Messages[1].ID)

	w = ts.do(t, http.MethodGet, "/v1/conversations/c1/messages?before=2026-03-01T12:00:00Z", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "old-1")
	require.True(t, ts.archive.before.Equal(base))

	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/conversations/c1/messages?limit=-1", "").Code)
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/conversations/c1/messages?before=yesterday", "").Code)
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/conversations/zz/messages", "").Code)
}

func TestSelectionAndNavigation(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/v1/selection", `{"conversation_id":"c1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[store.Snapshot](t, w)
	require.Equal(t, "c1", snap.Selected)
	require.Equal(t, 0, snap.UnreadTotal)

	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/v1/selection", `{"conversation_id":"zz"}`).Code)
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/selection", `{}`).Code)
	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/v1/selection", "").Code)
	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/v1/navigation/messaging", "").Code)
	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/v1/navigation/messaging", "").Code)

	require.Equal(t, []string{"select:c1", "select:zz", "close", "enter", "leave"}, ts.actions.Calls())
}

func TestMarkRead(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/v1/conversations/c1/read", "").Code)

	ts.actions.readErr = fmt.Errorf("mark read c1: %w", backend.ErrUnauthorized)
	w := ts.do(t, http.MethodPost, "/v1/conversations/c1/read", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "unauthorized")
}

func TestSendAndRetry(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/v1/messages", `{"conversation_id":"c1","content":"hello"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	m := decode[store.Message](t, w)
	require.Equal(t, store.StatusSending, m.Status)
	require.Equal(t, "hello", m.Content)

	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/messages", `{"conversation_id":"c1","content":"  "}`).Code)
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/messages", `{"content":"x"}`).Code)

	w = ts.do(t, http.MethodPost, "/v1/messages", `{"conversation_id":"c1","kind":"file","attachments":[{"name":"a.png","url":"https://files.example/a.png"}]}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	m = decode[store.Message](t, w)
	require.Len(t, m.Attachments, 1)
	require.Equal(t, "a.png", m.Attachments[0].Name)

	require.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/v1/messages/tmp-failed/retry", "").Code)
	require.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/v1/messages/m1/retry", "").Code)

	ts.actions.sendErr = fmt.Errorf("send to zz: %w", store.ErrUnknownConversation)
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/v1/messages", `{"conversation_id":"zz","content":"x"}`).Code)
}

func TestNotifications(t *testing.T) {
	ts := newTestServer(t)
	rec := notify.Record{ID: "m9", ConversationID: "c2", Sender: "Bea", Snippet: "hey", At: time.Now()}
	ts.deps.Toast.Show(rec)
	ts.deps.Panel.Show(rec)
	ts.deps.Panel.Show(notify.Record{ID: "m10", ConversationID: "c1"})

	w := ts.do(t, http.MethodGet, "/v1/notifications", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[notificationsResponse](t, w)
	require.Len(t, list.Toasts, 1)
	require.Empty(t, list.Native, "permission not granted")
	require.Len(t, list.Panel, 2)
	require.Equal(t, notify.PermissionDefault, list.Permission)

	w = ts.do(t, http.MethodPost, "/v1/notifications/toast/m9/open", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "c2", ts.actions.navigated)
	require.Empty(t, ts.deps.Toast.Active())

	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/v1/notifications/toast/m9/open", "").Code)
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/notifications/banner/m9/open", "").Code)

	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/v1/notifications/panel/m9", "").Code)
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/v1/notifications/panel/m9", "").Code)
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodDelete, "/v1/notifications/native/m9", "").Code)

	w = ts.do(t, http.MethodDelete, "/v1/notifications", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"dismissed":1}`, w.Body.String())
	require.Empty(t, ts.deps.Panel.Entries())
}

func TestPermission(t *testing.T) {
	ts := newTestServer(t)

	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPut, "/v1/notifications/permission", `{"permission":"maybe"}`).Code)
	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPut, "/v1/notifications/permission", `{"permission":"granted"}`).Code)
	require.Equal(t, notify.PermissionGranted, ts.perms.Permission())

	require.True(t, ts.deps.Native.Show(notify.Record{ID: "m1", ConversationID: "c1"}))
	w := ts.do(t, http.MethodPost, "/v1/notifications/native/m1/open", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "c1", ts.actions.navigated)
}

func TestSearch(t *testing.T) {
	ts := newTestServer(t)

	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/search", "").Code)
	w := ts.do(t, http.MethodGet, "/v1/search?q=deploy", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"snippet":"[deploy]"`)

	ts.deps.Archive = nil
	require.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodGet, "/v1/search?q=deploy", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.deps.Metrics.UnreadTotal(7)

	w := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "huddle_")
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events?kind=notify.", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	// The subscription exists once the response has started.
	ts.deps.Toast.Show(notify.Record{ID: "m1", ConversationID: "c1"})
	ts.store.SetBanner("ignored by the kind filter")

	var names []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			name = strings.TrimSpace(name)
			names = append(names, name)
		}
		if data, ok := strings.CutPrefix(line, "data:"); ok && strings.Contains(data, `"kind":"notify.shown"`) {
			require.Contains(t, data, `"id":"m1"`)
			break
		}
	}
	require.Equal(t, []string{"ready", "notify.shown"}, names)
}
