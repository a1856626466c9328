package daemon

import (
	"context"
	"errors"
	"io"

	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/archive"
	"github.com/matheus3301/huddle/internal/backend"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/config"
	"github.com/matheus3301/huddle/internal/delivery"
	"github.com/matheus3301/huddle/internal/lock"
	"github.com/matheus3301/huddle/internal/logging"
	"github.com/matheus3301/huddle/internal/metrics"
	"github.com/matheus3301/huddle/internal/notify"
	"github.com/matheus3301/huddle/internal/outbox"
	"github.com/matheus3301/huddle/internal/push"
	"github.com/matheus3301/huddle/internal/reconcile"
	"github.com/matheus3301/huddle/internal/session"
	"github.com/matheus3301/huddle/internal/status"
	"github.com/matheus3301/huddle/internal/store"
	intsync "github.com/matheus3301/huddle/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	// Optional overrides for testing; empty means the session default.
	SocketPath    string
	APISocketPath string
	// Config replaces ~/.huddle/config.toml when set.
	Config *config.Config
}

func (p Params) apiSocketPath() string {
	if p.APISocketPath != "" {
		return p.APISocketPath
	}
	return session.APISocketPath(p.SessionName)
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMetrics,
			provideStateMachine,
			provideLock,
			provideStore,
			provideArchive,
			provideBackend,
			providePush,
			provideReconciler,
			provideLedger,
			provideNotifier,
			provideSurfaces,
			provideDispatcher,
			outbox.NewTracker,
			provideSender,
			provideEngine,
			provideDelivery,
			provideRecorder,
			provideAPI,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		loaded, err := config.LoadOrDefault(session.ConfigPath())
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(b *bus.Bus) *store.Store {
	return store.New(b)
}

// provideArchive depends on the lock so two daemons never migrate the same file.
func provideArchive(p Params, _ *lock.Lock, logger *zap.Logger) (*archive.DB, error) {
	path := session.ArchivePath(p.SessionName)
	db, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("archive opened", zap.String("path", path))
	return db, nil
}

func provideBackend(cfg *config.Config, logger *zap.Logger) backend.API {
	return backend.NewClient(backend.Config{
		BaseURL:      cfg.Backend.BaseURL,
		Token:        cfg.Backend.Token,
		Timeout:      cfg.Backend.Timeout.Duration,
		Retries:      cfg.Backend.Retries,
		RetryWait:    cfg.Backend.RetryWait.Duration,
		RetryMaxWait: cfg.Backend.RetryMaxWait.Duration,
	}, logger.Named("backend"))
}

func providePush(cfg *config.Config, logger *zap.Logger) (*push.Client, error) {
	url, err := cfg.PushURL()
	if err != nil {
		return nil, err
	}
	return push.NewClient(push.Config{
		URL:              url,
		Token:            cfg.Backend.Token,
		HandshakeTimeout: cfg.Push.HandshakeTimeout.Duration,
		WriteWait:        cfg.Push.WriteWait.Duration,
		PingPeriod:       cfg.Push.PingPeriod.Duration,
		PongWait:         cfg.Push.PongWait.Duration,
	}, logger.Named("push")), nil
}

func provideReconciler(client backend.API, db *archive.DB, logger *zap.Logger) *reconcile.Reconciler {
	return reconcile.New(client, db, logger.Named("reconcile"))
}

// provideLedger prefers the persistent ledger; without it a restart may
// re-notify recent messages, which is better than not starting.
func provideLedger(p Params, cfg *config.Config, logger *zap.Logger) (notify.Ledger, error) {
	path := session.LedgerPath(p.SessionName)
	l, err := notify.OpenBoltLedger(path, cfg.Notify.LedgerTTL.Duration)
	if err == nil {
		return l, nil
	}
	logger.Warn("persistent notification ledger unavailable, using memory", zap.String("path", path), zap.Error(err))
	return notify.NewMemoryLedger(cfg.Notify.LedgerSize)
}

func provideNotifier(cfg *config.Config) *notify.DesktopNotifier {
	return notify.NewDesktopNotifier(cfg.Notify.NativeEnabled, cfg.Notify.Icon)
}

func provideSurfaces(cfg *config.Config, n *notify.DesktopNotifier, b *bus.Bus, logger *zap.Logger) (*notify.Toast, *notify.Native, *notify.Panel) {
	return notify.NewToast(cfg.Notify.ToastTTL.Duration, b),
		notify.NewNative(cfg.Notify.NativeTTL.Duration, n, b, logger.Named("native")),
		notify.NewPanel(cfg.Notify.PanelTTL.Duration, cfg.Notify.PanelLimit, b)
}

func provideDispatcher(ledger notify.Ledger, toast *notify.Toast, native *notify.Native, panel *notify.Panel, m *metrics.Metrics, logger *zap.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(ledger, []notify.Surface{toast, native, panel}, m, logger.Named("notify"))
}

func provideSender(cfg *config.Config, s *store.Store, client backend.API, db *archive.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(outbox.Config{SendTimeout: cfg.Outbox.SendTimeout.Duration}, s, client, db, b, m, logger.Named("outbox"))
}

func provideEngine(client backend.API, s *store.Store, r *reconcile.Reconciler, d *notify.Dispatcher, t *outbox.Tracker, snd *outbox.Sender, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(client, s, r, d, t, snd, b, m, logger.Named("sync"))
}

func provideDelivery(cfg *config.Config, machine *status.Machine, transport *push.Client, engine *intsync.Engine, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *delivery.Manager {
	return delivery.NewManager(delivery.Config{
		PollInterval:        cfg.Delivery.PollInterval.Duration,
		ConnectTimeout:      cfg.Delivery.ConnectTimeout.Duration,
		ReconnectMin:        cfg.Delivery.ReconnectMin.Duration,
		ReconnectMax:        cfg.Delivery.ReconnectMax.Duration,
		ReconnectMultiplier: cfg.Delivery.ReconnectMultiplier,
		SignInURL:           cfg.Backend.SignInURL,
	}, machine, transport, engine, b, m, logger.Named("delivery"))
}

func provideRecorder(db *archive.DB, s *store.Store, b *bus.Bus, logger *zap.Logger) *archive.Recorder {
	return archive.NewRecorder(db, s, b, logger.Named("archive"))
}

func provideAPI(cfg *config.Config, s *store.Store, engine *intsync.Engine, db *archive.DB, toast *notify.Toast, native *notify.Native, panel *notify.Panel, n *notify.DesktopNotifier, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *api.Server {
	d := api.Deps{
		Store:       s,
		Actions:     engine,
		Archive:     db,
		Toast:       toast,
		Native:      native,
		Panel:       panel,
		Permissions: n,
		Bus:         b,
		Logger:      logger.Named("api"),
	}
	if cfg.API.Metrics {
		d.Metrics = m
	}
	return api.New(d)
}

type lifecycleParams struct {
	fx.In

	Params   Params
	Server   *Server
	API      *api.Server
	Lock     *lock.Lock
	Archive  *archive.DB
	Recorder *archive.Recorder
	Ledger   notify.Ledger
	Store    *store.Store
	Engine   *intsync.Engine
	Delivery *delivery.Manager
	Sender   *outbox.Sender
	Machine  *status.Machine
	Logger   *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, p lifecycleParams) {
	logger := p.Logger
	ctx, cancel := context.WithCancel(context.Background())

	p.Engine.SetDelivery(p.Delivery)
	p.Machine.Watch(func(c status.StatusChange) {
		p.Store.SetConnection(c.To.Connection())
		p.Server.SetDeliveryState(c.To)
	})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Stale-but-present content before the first fetch.
			if _, err := p.Archive.Warm(p.Store, logger); err != nil {
				logger.Warn("failed to warm store from archive", zap.Error(err))
			}
			p.Recorder.Start(ctx)
			p.Engine.Start(ctx)

			go func() {
				if err := p.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := p.API.Listen(p.Params.apiSocketPath()); err != nil {
				return err
			}
			go func() {
				if err := p.API.Serve(); err != nil {
					logger.Error("api server error", zap.Error(err))
				}
			}()

			if err := p.Delivery.Start(ctx); err != nil {
				return err
			}
			go func() {
				if err := p.Engine.Refresh(ctx, ""); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("initial refresh failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			p.Delivery.Stop()
			if err := p.API.Shutdown(stopCtx); err != nil {
				logger.Warn("api server shutdown", zap.Error(err))
			}
			p.Engine.Stop()
			p.Sender.Wait()
			cancel()
			p.Recorder.Stop()
			p.Server.Stop(stopCtx)
			if c, ok := p.Ledger.(io.Closer); ok {
				if err := c.Close(); err != nil {
					logger.Warn("error closing notification ledger", zap.Error(err))
				}
			}
			if err := p.Archive.Close(); err != nil {
				logger.Warn("error closing archive", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
