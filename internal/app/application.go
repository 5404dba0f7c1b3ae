// Package app wires the store, the realtime layer and the REST API into a
// single HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roomcast/internal/api"
	"roomcast/internal/config"
	"roomcast/internal/database"
	"roomcast/internal/hub"
	"roomcast/internal/metrics"
	"roomcast/internal/router"
	"roomcast/internal/session"
	"roomcast/internal/websocket"
	dbconfig "roomcast/pkg/database"
)

// Application owns every long-lived component.
type Application struct {
	config     *config.Config
	logger     *slog.Logger
	registry   *prometheus.Registry
	dbManager  *database.Manager
	conns      *websocket.Registry
	messageHub *hub.Hub
	sessions   *session.Manager
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// NewApplication builds the component graph in dependency order:
// database, registry, hub, sessions, router, handlers.
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	dbConfig := dbconfig.DefaultConfig(cfg.Database.Path)
	dbManager, err := database.NewManager(dbConfig, cfg.Database.Timeout, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	if err := dbManager.Migrate(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	logger.Info("database ready", "path", cfg.Database.Path)

	connections := websocket.NewRegistry()
	connections.OnChange(func(conns, rooms int) {
		m.ActiveConnections.Set(float64(conns))
		m.OccupiedRooms.Set(float64(rooms))
	})

	messageHub := hub.NewHub(connections, logger, m)
	sessions := session.NewManager(connections, messageHub, logger)

	wsCfg := cfg.WebSocket
	limiter := router.NewRateLimiter(wsCfg.FramesPerSecond, wsCfg.FrameBurst)
	messageRouter := router.NewRouter(sessions, limiter, logger, m)

	wsHandler := websocket.NewHandler(messageRouter, websocket.Options{
		PingInterval:   wsCfg.PingInterval,
		PongWait:       wsCfg.ReadTimeout,
		WriteTimeout:   wsCfg.WriteTimeout,
		BufferSize:     wsCfg.BufferSize,
		MaxMessageSize: wsCfg.MaxMessageBytes,
		AllowedOrigins: wsCfg.AllowedOrigins,
	}, logger)

	apiServer := api.NewServer(dbManager, messageHub, messageHub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/", apiServer)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		registry:   reg,
		dbManager:  dbManager,
		conns:      connections,
		messageHub: messageHub,
		sessions:   sessions,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start starts the hub and begins serving. The listener is bound before
// Start returns, so address errors surface here.
func (app *Application) Start(ctx context.Context) error {
	if err := app.messageHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.messageHub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	app.mu.Lock()
	app.listener = ln
	app.serveErr = make(chan error, 1)
	app.mu.Unlock()

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(app.serveErr)
	}()

	app.logger.Info("roomcast started", "addr", ln.Addr().String())
	return nil
}

// Errors reports a fatal serve error. It is closed when the server stops.
func (app *Application) Errors() <-chan error {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.serveErr
}

// Stop shuts down in reverse order: HTTP, hub, database.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	app.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound address once started, else the configured one.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the root mux.
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}
