package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/matheus3301/huddle/internal/archive"
	"github.com/matheus3301/huddle/internal/notify"
	"github.com/matheus3301/huddle/internal/status"
	"github.com/matheus3301/huddle/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// APIError is a non-2xx answer from the daemon API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.Status)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

type errorBody struct {
	Error string `json:"error"`
}

// Notifications lists what each surface currently holds.
type Notifications struct {
	Toasts     []notify.Entry    `json:"toasts"`
	Native     []notify.Entry    `json:"native"`
	Panel      []notify.Entry    `json:"panel"`
	Permission notify.Permission `json:"permission,omitempty"`
}

// Health is the daemon's gRPC health report.
type Health struct {
	Daemon   healthpb.HealthCheckResponse_ServingStatus
	Delivery healthpb.HealthCheckResponse_ServingStatus
}

// Client talks to a session daemon: the HTTP API on one Unix socket and the
// gRPC health service on another.
type Client struct {
	http   *resty.Client
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// New prepares clients for both sockets. Nothing is dialed until first use.
func New(apiSocket, healthSocket string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+healthSocket,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", apiSocket)
		},
	}
	r := resty.New().
		SetTransport(transport).
		SetBaseURL("http://huddle").
		SetHeader("Accept", "application/json")

	return &Client{http: r, conn: conn, health: healthpb.NewHealthClient(conn)}, nil
}

// Close closes the gRPC connection and idle HTTP connections.
func (c *Client) Close() error {
	c.http.GetClient().CloseIdleConnections()
	return c.conn.Close()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var apiErr errorBody
	req := c.http.R().SetContext(ctx).SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return &APIError{Status: resp.StatusCode(), Message: apiErr.Error}
	}
	return nil
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// Health checks the daemon and its delivery channel.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return h, fmt.Errorf("health check: %w", err)
	}
	h.Daemon = resp.Status
	resp, err = c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: status.HealthService})
	if err != nil {
		return h, fmt.Errorf("delivery health check: %w", err)
	}
	h.Delivery = resp.Status
	return h, nil
}

func (c *Client) State(ctx context.Context) (store.Snapshot, error) {
	var snap store.Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/state", nil, &snap)
	return snap, err
}

func (c *Client) Conversations(ctx context.Context, kind store.ConversationKind) ([]store.Conversation, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", string(kind))
	}
	var out struct {
		Conversations []store.Conversation `json:"conversations"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("/v1/conversations", q), nil, &out)
	return out.Conversations, err
}

// Messages returns a conversation's newest messages, or with a non-zero
// before, archived ones older than it.
func (c *Client) Messages(ctx context.Context, conversationID string, before time.Time, limit int) ([]store.Message, error) {
	q := url.Values{}
	if !before.IsZero() {
		q.Set("before", before.UTC().Format(time.RFC3339))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Messages []store.Message `json:"messages"`
	}
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	err := c.do(ctx, http.MethodGet, withQuery(path, q), nil, &out)
	return out.Messages, err
}

// Send submits a text message and returns the optimistic local copy.
func (c *Client) Send(ctx context.Context, conversationID, content string) (store.Message, error) {
	var m store.Message
	body := map[string]string{"conversation_id": conversationID, "content": content}
	err := c.do(ctx, http.MethodPost, "/v1/messages", body, &m)
	return m, err
}

func (c *Client) Retry(ctx context.Context, id string) (store.Message, error) {
	var m store.Message
	err := c.do(ctx, http.MethodPost, "/v1/messages/"+url.PathEscape(id)+"/retry", nil, &m)
	return m, err
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil)
}

// Select makes conversationID the selected conversation and returns the
// resulting state.
func (c *Client) Select(ctx context.Context, conversationID string) (store.Snapshot, error) {
	var snap store.Snapshot
	err := c.do(ctx, http.MethodPost, "/v1/selection", map[string]string{"conversation_id": conversationID}, &snap)
	return snap, err
}

func (c *Client) ClearSelection(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/selection", nil, nil)
}

// EnterMessaging tells the daemon a messaging view is open. While it is, new
// messages for the selected conversation are not notified.
func (c *Client) EnterMessaging(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/navigation/messaging", nil, nil)
}

func (c *Client) LeaveMessaging(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/navigation/messaging", nil, nil)
}

func (c *Client) Notifications(ctx context.Context) (Notifications, error) {
	var n Notifications
	err := c.do(ctx, http.MethodGet, "/v1/notifications", nil, &n)
	return n, err
}

func (c *Client) Dismiss(ctx context.Context, surface, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/notifications/"+url.PathEscape(surface)+"/"+url.PathEscape(id), nil, nil)
}

// DismissAll clears the notification panel.
func (c *Client) DismissAll(ctx context.Context) (int, error) {
	var out struct {
		Dismissed int `json:"dismissed"`
	}
	err := c.do(ctx, http.MethodDelete, "/v1/notifications", nil, &out)
	return out.Dismissed, err
}

// Open acts like a click on a notification and opens its conversation.
func (c *Client) Open(ctx context.Context, surface, id string) (notify.Record, error) {
	var rec notify.Record
	err := c.do(ctx, http.MethodPost, "/v1/notifications/"+url.PathEscape(surface)+"/"+url.PathEscape(id)+"/open", nil, &rec)
	return rec, err
}

func (c *Client) SetPermission(ctx context.Context, p notify.Permission) error {
	return c.do(ctx, http.MethodPut, "/v1/notifications/permission", map[string]notify.Permission{"permission": p}, nil)
}

func (c *Client) Search(ctx context.Context, query, conversationID string, limit int) ([]archive.SearchResult, error) {
	q := url.Values{"q": {query}}
	if conversationID != "" {
		q.Set("conversation_id", conversationID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Results []archive.SearchResult `json:"results"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("/v1/search", q), nil, &out)
	return out.Results, err
}
