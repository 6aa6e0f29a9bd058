package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"campuswire/internal/api"
	"campuswire/internal/auth"
	"campuswire/internal/broker"
	"campuswire/internal/config"
	"campuswire/internal/database"
	"campuswire/internal/directory"
	"campuswire/internal/forum"
	"campuswire/internal/hub"
	"campuswire/internal/notify"
	"campuswire/internal/presence"
	"campuswire/internal/room"
	"campuswire/internal/router"
	"campuswire/internal/websocket"
	"campuswire/pkg/interfaces"
	dbconfig "campuswire/pkg/database"
)

const rateLimitCleanupInterval = time.Minute

// Application owns every component of one server process
type Application struct {
	config    *config.Config
	logger    *zap.Logger
	store     *database.Manager
	broker    interfaces.Broker
	hub       *hub.Hub
	tracker   *presence.Tracker
	directory *directory.Directory
	resolver  *room.Resolver
	router    *router.Router
	bridge    *notify.Bridge
	forum     *forum.Service
	auth      *auth.Authenticator
	websocket *websocket.Handler
	server    *api.Server

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewApplication builds the component graph in dependency order:
// store, broker, hub, presence, directory, resolver, router, bridge,
// forum, auth, websocket, api
func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Auth.JWTSecret == config.DefaultJWTSecret {
		logger.Warn("Using the development JWT secret; set CAMPUSWIRE_AUTH_JWT_SECRET in production")
	}

	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	b, err := OpenBroker(ctx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	h := hub.NewHub(b, hub.Config{
		RemoteBuffer:   cfg.Notify.QueueSize,
		PublishTimeout: cfg.Broker.PublishTimeout,
	}, logger)
	tracker := presence.NewTracker(h, logger)
	dir := directory.New(store, logger)
	resolver := room.NewResolver(dir, dir, dir)

	rt := router.NewRouter(h, resolver, tracker, store, dir, router.Config{
		HistoryLimit:       cfg.Chat.HistoryLimit,
		MaxMessageLength:   cfg.Chat.MaxMessageLength,
		PersistTimeout:     cfg.Chat.PersistTimeout,
		RateLimitPerMinute: cfg.Chat.RateLimitPerMinute,
	}, logger)

	bridge := notify.NewBridge(h, cfg.Notify.QueueSize, logger)
	forumService := forum.NewService(store, dir, bridge, logger)

	authenticator, err := auth.NewAuthenticator(auth.Config{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		TokenTTL: cfg.Auth.TokenTTL,
	})
	if err != nil {
		if b != nil {
			_ = b.Close()
		}
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize authenticator: %w", err)
	}

	wsHandler := websocket.NewHandler(rt, authenticator, websocket.HandlerConfig{
		Connection: websocket.Options{
			SendBuffer:   cfg.WebSocket.BufferSize,
			WriteTimeout: cfg.WebSocket.WriteTimeout,
			PingInterval: cfg.WebSocket.PingInterval,
			ReadTimeout:  cfg.WebSocket.ReadTimeout,
			IdleTimeout:  cfg.WebSocket.IdleTimeout,
			MaxFrameSize: cfg.WebSocket.MaxFrameSize,
		},
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
	}, logger)

	server := api.NewServer(api.Options{
		Address:      cfg.HTTP.Address(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		Debug:        cfg.HTTP.Debug,
	}, api.Dependencies{
		Auth:     authenticator,
		Forum:    forumService,
		Resolver: resolver,
		Messages: store,
		Health:   store,
		Stats: map[string]api.StatsSource{
			"hub":       h,
			"bridge":    bridge,
			"websocket": wsHandler,
		},
		WebSocket: wsHandler,
	}, logger)

	return &Application{
		config:    cfg,
		logger:    logger,
		store:     store,
		broker:    b,
		hub:       h,
		tracker:   tracker,
		directory: dir,
		resolver:  resolver,
		router:    rt,
		bridge:    bridge,
		forum:     forumService,
		auth:      authenticator,
		websocket: wsHandler,
		server:    server,
	}, nil
}

// OpenStore connects to the configured database and applies migrations
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.Manager, error) {
	if err := ensureDataDir(cfg.Database); err != nil {
		return nil, err
	}
	store, err := database.Open(ctx, &dbconfig.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}, database.Options{
		WriteRetries: cfg.Database.WriteRetries,
		RetryDelay:   cfg.Database.RetryDelay,
		WriteTimeout: cfg.Database.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return store, nil
}

// ensureDataDir creates the parent directory of a file-backed SQLite DSN
func ensureDataDir(cfg *config.DatabaseConfig) error {
	if cfg.Driver != dbconfig.DriverSQLite || cfg.DSN == ":memory:" || strings.HasPrefix(cfg.DSN, "file:") {
		return nil
	}
	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return nil
}

// OpenBroker returns the configured cross-process broker, or nil when
// the process runs alone
func OpenBroker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (interfaces.Broker, error) {
	if cfg.Broker.Driver != config.BrokerRedis {
		return nil, nil
	}
	b, err := broker.NewRedis(ctx, broker.RedisConfig{
		Addr:           cfg.Broker.RedisAddr,
		Password:       cfg.Broker.RedisPassword,
		DB:             cfg.Broker.RedisDB,
		ChannelPrefix:  cfg.Broker.ChannelPrefix,
		PublishRetries: cfg.Broker.PublishRetries,
		RetryDelay:     cfg.Broker.RetryDelay,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	return b, nil
}

// StartServices starts the background components without listening.
// Start calls it; tests serving Handler through httptest call it directly.
func (app *Application) StartServices(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	if err := app.hub.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start hub: %w", err)
	}
	if err := app.bridge.Start(runCtx); err != nil {
		cancel()
		_ = app.hub.Stop()
		return fmt.Errorf("failed to start notification bridge: %w", err)
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.router.RunCleanup(runCtx, rateLimitCleanupInterval)
	}()
	return nil
}

// Start brings up the background components and then the HTTP listener.
// It returns once the listener has had a moment to fail.
func (app *Application) Start(ctx context.Context) error {
	if err := app.StartServices(ctx); err != nil {
		return err
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.server.Start(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.stopServices()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("Campuswire started", zap.String("address", app.config.HTTP.Address()))
		return nil
	case <-ctx.Done():
		app.stopServices()
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP, bridge, hub,
// broker, store. Safe to call more than once.
func (app *Application) Stop(ctx context.Context) error {
	var firstErr error
	app.stopOnce.Do(func() {
		app.logger.Info("Shutting down campuswire")
		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Warn("HTTP server shutdown error", zap.Error(err))
			firstErr = err
		}
		app.stopServices()
		if app.broker != nil {
			if err := app.broker.Close(); err != nil {
				app.logger.Warn("Broker shutdown error", zap.Error(err))
			}
		}
		if err := app.store.Close(); err != nil {
			app.logger.Warn("Database shutdown error", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		app.logger.Info("Campuswire shutdown complete")
	})
	return firstErr
}

func (app *Application) stopServices() {
	if err := app.bridge.Stop(); err != nil && err != notify.ErrBridgeNotRunning {
		app.logger.Warn("Notification bridge shutdown error", zap.Error(err))
	}
	if err := app.hub.Stop(); err != nil && err != hub.ErrHubNotRunning {
		app.logger.Warn("Hub shutdown error", zap.Error(err))
	}
	if app.cancel != nil {
		app.cancel()
	}
	app.wg.Wait()
}

// Handler serves the API and websocket endpoints
func (app *Application) Handler() http.Handler {
	return app.server
}

// Bridge accepts in-process notifications from forum producers
func (app *Application) Bridge() *notify.Bridge {
	return app.bridge
}

func (app *Application) Forum() *forum.Service {
	return app.forum
}

func (app *Application) Directory() *directory.Directory {
	return app.directory
}

func (app *Application) Authenticator() *auth.Authenticator {
	return app.auth
}

func (app *Application) Presence() *presence.Tracker {
	return app.tracker
}

// Addr returns the configured listen address
func (app *Application) Addr() string {
	return app.config.HTTP.Address()
}
