package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/huddle/internal/store"
	"go.uber.org/zap"
)

// Config configures the REST client.
type Config struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	Retries      int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
}

// Client talks to the collaboration backend over REST. Reads are retried with
// bounded attempts and backoff; writes are attempted once.
type Client struct {
	read   *resty.Client
	write  *resty.Client
	expiry time.Time
	now    func() time.Time
	logger *zap.Logger
}

// NewClient creates a backend client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	c := &Client{
		read:   newResty(cfg),
		write:  newResty(cfg),
		now:    time.Now,
		logger: logger,
	}
	c.read.
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(retryable).
		AddRetryHook(func(resp *resty.Response, err error) {
			fields := []zap.Field{zap.Error(err)}
			if resp != nil && resp.Request != nil {
				fields = append(fields, zap.String("url", resp.Request.URL), zap.Int("attempt", resp.Request.Attempt), zap.Int("status", resp.StatusCode()))
			}
			logger.Debug("retrying backend request", fields...)
		})
	if exp, ok := TokenExpiry(cfg.Token); ok {
		c.expiry = exp
	}
	return c
}

func newResty(cfg Config) *resty.Client {
	r := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		r.SetAuthToken(cfg.Token)
	}
	return r
}

// retryable retries transport errors, throttling and server errors. Client
// errors, including auth failures, are final.
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= 500
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// Opaque tokens report false.
func TokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (c *Client) checkToken(method, path string) error {
	if !c.expiry.IsZero() && !c.now().Before(c.expiry) {
		return fmt.Errorf("%s %s: token expired at %s: %w", method, path, c.expiry.Format(time.RFC3339), ErrUnauthorized)
	}
	return nil
}

func (c *Client) do(req *resty.Request, method, path string) (*resty.Response, error) {
	if err := c.checkToken(method, path); err != nil {
		return nil, err
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.IsError():
		return nil, &StatusError{Method: method, Path: path, Code: code}
	}
	return resp, nil
}

type unreadCountResponse struct {
	Total int `json:"total"`
}

type messagesResponse struct {
	Messages []store.Message `json:"messages"`
}

type conversationsResponse struct {
	Conversations []store.Conversation `json:"conversations"`
}

type messageResponse struct {
	Message store.Message `json:"message"`
}

// UnreadTotal returns the unread total for the session user.
func (c *Client) UnreadTotal(ctx context.Context) (int, error) {
	var out unreadCountResponse
	if _, err := c.do(c.read.R().SetContext(ctx).SetResult(&out), http.MethodGet, "/api/v1/messages/unread/count"); err != nil {
		return 0, err
	}
	return max(out.Total, 0), nil
}

// LatestUnread returns up to limit of the newest unread messages, oldest first.
func (c *Client) LatestUnread(ctx context.Context, limit int) ([]store.Message, error) {
	var out messagesResponse
	req := c.read.R().SetContext(ctx).SetResult(&out).SetQueryParam("limit", strconv.Itoa(limit))
	if _, err := c.do(req, http.MethodGet, "/api/v1/messages/unread"); err != nil {
		return nil, err
	}
	return normalizeMessages(out.Messages, ""), nil
}

// Conversations lists conversations of the given kind (all when empty).
func (c *Client) Conversations(ctx context.Context, kind store.ConversationKind) ([]store.Conversation, error) {
	var out conversationsResponse
	req := c.read.R().SetContext(ctx).SetResult(&out)
	if kind != "" {
		req.SetQueryParam("kind", string(kind))
	}
	if _, err := c.do(req, http.MethodGet, "/api/v1/conversations"); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// Messages lists the messages of a conversation.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]store.Message, error) {
	var out messagesResponse
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if _, err := c.do(c.read.R().SetContext(ctx).SetResult(&out), http.MethodGet, path); err != nil {
		return nil, err
	}
	return normalizeMessages(out.Messages, conversationID), nil
}

// SendMessage posts a message and returns the server-confirmed copy.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (store.Message, error) {
	var out messageResponse
	path := "/api/v1/conversations/" + url.PathEscape(req.ConversationID) + "/messages"
	if _, err := c.do(c.write.R().SetContext(ctx).SetBody(req).SetResult(&out), http.MethodPost, path); err != nil {
		return store.Message{}, err
	}
	msg := normalizeMessages([]store.Message{out.Message}, req.ConversationID)[0]
	if msg.ClientID == "" {
		msg.ClientID = req.ClientID
	}
	msg.Mine = true
	return msg, nil
}

// MarkRead marks every message of a conversation read for the session user.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/read"
	_, err := c.do(c.write.R().SetContext(ctx), http.MethodPost, path)
	return err
}

// normalizeMessages fills defaults the backend may omit.
func normalizeMessages(msgs []store.Message, conversationID string) []store.Message {
	for i := range msgs {
		m := &msgs[i]
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		if m.Kind == "" {
			m.Kind = store.ContentText
		}
		if !m.Status.Valid() {
			m.Status = store.StatusSent
		}
	}
	return msgs
}
