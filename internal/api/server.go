package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/huddle/internal/archive"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/metrics"
	"github.com/matheus3301/huddle/internal/notify"
	"github.com/matheus3301/huddle/internal/outbox"
	"github.com/matheus3301/huddle/internal/store"
	"go.uber.org/zap"
)

// Actions are the user intents the API forwards to the sync engine.
type Actions interface {
	SelectConversation(ctx context.Context, id string) error
	CloseConversation()
	MarkConversationRead(ctx context.Context, id string) error
	EnterMessaging()
	LeaveMessaging()
	Navigate(ctx context.Context, conversationID string) error
	SendMessage(ctx context.Context, d outbox.Draft) (store.Message, error)
	RetryMessage(ctx context.Context, id string) (store.Message, error)
}

// Archive serves history that is no longer held in memory.
type Archive interface {
	ListMessages(conversationID string, before time.Time, limit int) ([]store.Message, error)
	SearchMessages(query, conversationID string, limit int) ([]archive.SearchResult, error)
}

// PermissionSetter records the user's answer to the OS notification prompt.
type PermissionSetter interface {
	Permission() notify.Permission
	SetPermission(p notify.Permission)
}

// Deps holds everything the API reads from or drives. Archive, Permissions
// and Metrics are optional.
type Deps struct {
	Store       *store.Store
	Actions     Actions
	Archive     Archive
	Toast       *notify.Toast
	Native      *notify.Native
	Panel       *notify.Panel
	Permissions PermissionSetter
	Bus         *bus.Bus
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Server is the local HTTP API, served on a Unix domain socket.
type Server struct {
	deps       Deps
	router     *gin.Engine
	http       *http.Server
	listener   net.Listener
	socketPath string
}

// New builds the router. Nothing listens until Listen is called.
func New(d Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Logger))

	s := &Server{deps: d, router: r}
	s.routes()
	s.http = &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen binds the socket, replacing a stale one left by a crashed daemon.
func (s *Server) Listen(socketPath string) error {
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = l.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = l
	s.socketPath = socketPath
	return nil
}

// Serve handles requests until Shutdown. Blocks.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("api server is not listening")
	}
	s.deps.Logger.Info("api server starting", zap.String("socket", s.socketPath))
	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and removes
// the socket file. Open event streams end when ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Logger.Info("api server stopping")
	err := s.http.Shutdown(ctx)
	if s.socketPath != "" {
		_ = os.Remove(s.socketPath)
	}
	return err
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("api request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
