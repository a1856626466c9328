package push

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/huddle/internal/backend"
	"go.uber.org/zap"
)

// Config configures the websocket push client.
type Config struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	// WriteWait bounds a single control write.
	WriteWait time.Duration
	// PingPeriod must be less than PongWait.
	PingPeriod time.Duration
	PongWait   time.Duration
}

// Client is a websocket push transport. Each Connect replaces the previous
// connection; callbacks from a replaced or disconnected connection are dropped.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.Logger

	mu     sync.Mutex
	gen    uint64
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// Keepalive defaults.
const (
	defaultWriteWait  = 3 * time.Second
	defaultPingPeriod = 20 * time.Second
	defaultPongWait   = 25 * time.Second
)

// NewClient creates a push client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.PongWait <= cfg.PingPeriod {
		cfg.PongWait = cfg.PingPeriod + defaultPongWait - defaultPingPeriod
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger,
	}
}

// Connect dials in the background and reports the outcome to l.
func (c *Client) Connect(ctx context.Context, l Listener) {
	c.mu.Lock()
	c.closeLocked()
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.run(ctx, gen, l)
}

// Disconnect closes the current connection, if any. No failure is reported for it.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.closeLocked()
	c.mu.Unlock()
}

func (c *Client) closeLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(c.cfg.WriteWait))
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Client) run(ctx context.Context, gen uint64, l Listener) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			err = backend.ErrUnauthorized
		}
		if ctx.Err() == nil && c.current(gen) {
			l.OnFailure(fmt.Errorf("push dial: %w", err))
		}
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})
	go c.keepalive(ctx, conn)

	c.logger.Info("push connected", zap.String("url", c.cfg.URL))
	l.OnReady()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && c.current(gen) {
				l.OnFailure(fmt.Errorf("push read: %w", err))
			}
			return
		}
		if !c.current(gen) {
			return
		}
		l.OnSignal(Decode(frame))
	}
}

// keepalive pings the server and closes the socket once ctx ends so the
// blocked reader returns.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.logger.Debug("push ping failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}
