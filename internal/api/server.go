package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/drivelink/internal/command"
	"github.com/nerrad567/drivelink/internal/connection"
	"github.com/nerrad567/drivelink/internal/infrastructure/config"
	"github.com/nerrad567/drivelink/internal/infrastructure/logging"
	"github.com/nerrad567/drivelink/internal/journal"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// WebSocket fallbacks for unset config values.
const (
	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30 // seconds
	defaultWSPongTimeout    = 10 // seconds
)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Manager *connection.Manager

	// Executor runs console lines. If nil, one is created on Manager.
	Executor *command.Executor

	// Journal backs GET /api/odrive/events. Optional.
	Journal *journal.Repository

	// ExternalHub, if set, is used instead of a hub owned by the server.
	ExternalHub *Hub

	Version string
}

// Server is the HTTP API server.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	manager     *connection.Manager
	executor    *command.Executor
	journal     *journal.Repository
	version     string
	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("connection manager is required")
	}

	ws := deps.WS
	if ws.MaxMessageSize <= 0 {
		ws.MaxMessageSize = defaultWSMaxMessageSize
	}
	if ws.PingInterval <= 0 {
		ws.PingInterval = defaultWSPingInterval
	}
	if ws.PongTimeout <= 0 {
		ws.PongTimeout = defaultWSPongTimeout
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    ws,
		logger:   deps.Logger,
		manager:  deps.Manager,
		executor: deps.Executor,
		journal:  deps.Journal,
		version:  deps.Version,
	}
	if s.executor == nil {
		s.executor = command.NewExecutor(deps.Manager)
		s.executor.SetLogger(deps.Logger.Component("command"))
	}
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the WebSocket hub, creating it if Start has not run yet.
// The caller registers it as a connection.Sink.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		s.hub.SetSnapshot(s.manager.Status)
	}
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
// ctx bounds the hub; the listener is stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.Hub().Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close waits up to gracefulShutdownTimeout for in-flight requests, then
// closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
