package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/huddle/internal/backend"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/metrics"
	"github.com/matheus3301/huddle/internal/push"
	"github.com/matheus3301/huddle/internal/status"
	"go.uber.org/zap"
)

// ErrConnectTimeout is reported when the push transport neither becomes
// ready nor fails within Config.ConnectTimeout.
var ErrConnectTimeout = errors.New("push connect timed out")

// Transport is the push channel driven by the manager. Connect must return
// without invoking the listener; outcomes arrive later on another goroutine.
type Transport interface {
	Connect(ctx context.Context, l push.Listener)
	Disconnect()
}

// Refresher pulls fresh state from the backend.
type Refresher interface {
	// Refresh reconciles the unread total and, when conversationID is not
	// empty, that conversation's messages.
	Refresh(ctx context.Context, conversationID string) error
	// HandleSignal applies one push signal.
	HandleSignal(ctx context.Context, sig push.Signal) error
}

// AuthRequired is published when an auth failure tears the session down.
type AuthRequired struct {
	Reason    string `json:"reason"`
	SignInURL string `json:"sign_in_url,omitempty"`
}

// AuthTopic carries AuthRequired events.
var AuthTopic = bus.NewTopic[AuthRequired](bus.KindAuthRequired)

// Config holds delivery timings.
type Config struct {
	PollInterval        time.Duration
	ConnectTimeout      time.Duration
	ReconnectMin        time.Duration
	ReconnectMax        time.Duration
	ReconnectMultiplier float64
	// SignInURL is attached to AuthRequired events.
	SignInURL string
}

const (
	defaultPollInterval        = 3 * time.Second
	defaultConnectTimeout      = 10 * time.Second
	defaultReconnectMin        = 1 * time.Second
	defaultReconnectMax        = 60 * time.Second
	defaultReconnectMultiplier = 1.5
)

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = defaultReconnectMin
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = max(defaultReconnectMax, c.ReconnectMin)
	}
	if c.ReconnectMultiplier < 1 {
		c.ReconnectMultiplier = defaultReconnectMultiplier
	}
	return c
}

// Manager arbitrates between the push transport and a conversation-scoped
// poll loop. At most one of them is active at any instant.
type Manager struct {
	cfg       Config
	machine   *status.Machine
	transport Transport
	refresher Refresher
	bus       *bus.Bus
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu           sync.Mutex
	running      bool
	ctx          context.Context
	cancel       context.CancelFunc
	attempt      uint64
	pushFailed   bool
	conversation string
	pollCancel   context.CancelFunc
	pollConv     string
	reconnect    *time.Timer
	connectTimer *time.Timer
	backoff      *backoff.ExponentialBackOff

	// fetchMu keeps backend refreshes from overlapping, whichever path issued them.
	fetchMu sync.Mutex
}

// NewManager creates a delivery manager in the Disconnected state.
func NewManager(cfg Config, machine *status.Machine, transport Transport, refresher Refresher, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Manager {
	cfg = cfg.withDefaults()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.ReconnectMin
	bo.MaxInterval = cfg.ReconnectMax
	bo.Multiplier = cfg.ReconnectMultiplier
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &Manager{
		cfg:       cfg,
		machine:   machine,
		transport: transport,
		refresher: refresher,
		bus:       b,
		metrics:   m,
		logger:    logger,
		backoff:   bo,
	}
}

// State returns the current delivery state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// Mode reports whether push delivery and the poll loop are active.
func (m *Manager) Mode() (pushActive, pollActive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.Current() == status.ConnectedPush, m.pollCancel != nil
}

// Start begins connecting. Calling it while already started is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	if err := m.machine.Transition(status.Connecting); err != nil {
		return fmt.Errorf("start delivery: %w", err)
	}
	m.metrics.DeliveryState(string(status.Connecting))
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.pushFailed = false
	m.backoff.Reset()
	m.connectLocked()
	return nil
}

// Stop moves to Disconnected and cancels the poll loop, pending reconnects
// and the transport. It is safe to call any number of times.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	m.attempt++
	m.stopPollLocked()
	m.stopTimersLocked()
	m.cancel()
	m.transport.Disconnect()
	m.transitionLocked(status.Disconnected)
	m.logger.Info("delivery stopped")
}

// Reconnect forces a fresh push attempt, starting the manager if needed.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return m.Start(ctx)
	}
	defer m.mu.Unlock()
	if m.machine.Current() == status.ConnectedPush {
		return nil
	}
	m.stopTimersLocked()
	m.backoff.Reset()
	m.connectLocked()
	return nil
}

// OpenConversation records id as the open conversation. While push is down
// it is polled at the fixed interval.
func (m *Manager) OpenConversation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == m.conversation {
		return
	}
	m.conversation = id
	if id == "" {
		m.closePollingLocked()
		return
	}
	if m.running && m.pushFailed {
		m.startPollLocked()
	}
}

// CloseConversation stops polling for the open conversation immediately.
func (m *Manager) CloseConversation() {
	m.OpenConversation("")
}

func (m *Manager) closePollingLocked() {
	if m.pollCancel == nil {
		return
	}
	m.stopPollLocked()
	m.transitionLocked(status.Connecting)
}

func (m *Manager) connectLocked() {
	m.attempt++
	attempt := m.attempt
	m.connectTimer = time.AfterFunc(m.cfg.ConnectTimeout, func() {
		m.onFailure(attempt, ErrConnectTimeout)
	})
	m.transport.Connect(m.ctx, &listener{m: m, attempt: attempt})
}

func (m *Manager) stopTimersLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	if m.connectTimer != nil {
		m.connectTimer.Stop()
		m.connectTimer = nil
	}
}

func (m *Manager) transitionLocked(to status.State) {
	if m.machine.Current() == to {
		return
	}
	if err := m.machine.Transition(to); err != nil {
		m.logger.Error("delivery transition rejected", zap.Error(err))
		return
	}
	m.metrics.DeliveryState(string(to))
}

func (m *Manager) startPollLocked() {
	if m.pollCancel != nil && m.pollConv == m.conversation {
		return
	}
	m.stopPollLocked()
	ctx, cancel := context.WithCancel(m.ctx)
	m.pollCancel = cancel
	m.pollConv = m.conversation
	m.transitionLocked(status.Polling)
	go m.pollLoop(ctx, m.conversation)
	m.logger.Info("polling started", zap.String("conversation", m.conversation), zap.Duration("interval", m.cfg.PollInterval))
}

func (m *Manager) stopPollLocked() {
	if m.pollCancel == nil {
		return
	}
	m.pollCancel()
	m.pollCancel = nil
	m.logger.Info("polling stopped", zap.String("conversation", m.pollConv))
	m.pollConv = ""
}

func (m *Manager) pollLoop(ctx context.Context, conversationID string) {
	m.fetch(ctx, "poll", func(ctx context.Context) error {
		return m.refresher.Refresh(ctx, conversationID)
	})

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.fetch(ctx, "poll", func(ctx context.Context) error {
				return m.refresher.Refresh(ctx, conversationID)
			})
		}
	}
}

// Exclusive runs a user-driven fetch under the lock polls and push refreshes
// hold, so it never overlaps one of them. fn must not call back into the
// manager's fetch path. Its error is returned to the caller.
func (m *Manager) Exclusive(ctx context.Context, fn func(context.Context) error) error {
	m.fetchMu.Lock()
	defer m.fetchMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	err := fn(ctx)
	m.metrics.Fetch("select", err)
	return err
}

// fetch runs fn exclusively. Failures are logged; auth failures stop the session.
func (m *Manager) fetch(ctx context.Context, source string, fn func(context.Context) error) {
	m.fetchMu.Lock()
	defer m.fetchMu.Unlock()
	if ctx.Err() != nil {
		return
	}
	err := fn(ctx)
	m.metrics.Fetch(source, err)
	switch {
	case err == nil:
	case backend.IsAuth(err):
		m.authFailed(err)
	case ctx.Err() != nil:
	default:
		m.logger.Warn("refresh failed", zap.String("source", source), zap.Error(err))
	}
}

func (m *Manager) authFailed(err error) {
	m.logger.Warn("auth failure, disconnecting", zap.Error(err))
	m.Stop()
	AuthTopic.Publish(m.bus, AuthRequired{Reason: err.Error(), SignInURL: m.cfg.SignInURL})
}

func (m *Manager) onReady(attempt uint64) {
	m.mu.Lock()
	if !m.running || attempt != m.attempt {
		m.mu.Unlock()
		return
	}
	m.stopTimersLocked()
	m.stopPollLocked()
	m.pushFailed = false
	m.backoff.Reset()
	m.transitionLocked(status.ConnectedPush)
	ctx, conv := m.ctx, m.conversation
	m.mu.Unlock()

	m.logger.Info("push ready")
	go m.fetch(ctx, "catchup", func(ctx context.Context) error {
		return m.refresher.Refresh(ctx, conv)
	})
}

func (m *Manager) onSignal(attempt uint64, sig push.Signal) {
	m.mu.Lock()
	if !m.running || attempt != m.attempt {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.mu.Unlock()

	m.fetch(ctx, "push", func(ctx context.Context) error {
		return m.refresher.HandleSignal(ctx, sig)
	})
}

func (m *Manager) onFailure(attempt uint64, err error) {
	m.mu.Lock()
	if !m.running || attempt != m.attempt {
		m.mu.Unlock()
		return
	}
	if backend.IsAuth(err) {
		m.mu.Unlock()
		m.authFailed(err)
		return
	}
	// Later callbacks from the failed attempt are ignored.
	m.attempt++
	m.stopTimersLocked()
	m.transport.Disconnect()
	m.pushFailed = true
	if m.conversation != "" {
		m.startPollLocked()
	} else {
		m.stopPollLocked()
		m.transitionLocked(status.Connecting)
	}
	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = m.cfg.ReconnectMax
	}
	m.reconnect = time.AfterFunc(delay, m.retry)
	m.mu.Unlock()

	m.logger.Warn("push unavailable", zap.Error(err), zap.Duration("retry_in", delay))
}

func (m *Manager) retry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.machine.Current() == status.ConnectedPush {
		return
	}
	m.reconnect = nil
	m.metrics.Reconnect()
	m.connectLocked()
}

type listener struct {
	m       *Manager
	attempt uint64
}

func (l *listener) OnReady()               { l.m.onReady(l.attempt) }
func (l *listener) OnSignal(s push.Signal) { l.m.onSignal(l.attempt, s) }
func (l *listener) OnFailure(err error)    { l.m.onFailure(l.attempt, err) }
