package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/emberfield/hearth-core/internal/device"
	"github.com/emberfield/hearth-core/internal/dispatch"
	"github.com/emberfield/hearth-core/internal/eventbus"
	"github.com/emberfield/hearth-core/internal/infrastructure/config"
	"github.com/emberfield/hearth-core/internal/infrastructure/logging"
	"github.com/emberfield/hearth-core/internal/infrastructure/telemetry"
	"github.com/emberfield/hearth-core/internal/plugin"
	"github.com/emberfield/hearth-core/internal/voice"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HistorySource answers device history queries. Satisfied by
// *telemetry.Client; kept as an interface so the server runs without a
// time-series backend configured.
type HistorySource interface {
	QueryDeviceHistory(ctx context.Context, deviceID, measurement string, start, end time.Time) ([]telemetry.Reading, error)
}

// Interpreter handles transcribed voice commands. Satisfied by
// *voice.Interpreter.
type Interpreter interface {
	Interpret(ctx context.Context, text string) (*voice.Response, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Devices    *device.Registry
	Plugins    *plugin.Registry
	Dispatcher *dispatch.Dispatcher
	Voice      Interpreter   // optional: voice endpoint returns 503 when nil
	History    HistorySource // optional: history endpoint returns 503 when nil
	Bus        *eventbus.Bus // optional: WebSocket event streaming disabled when nil
	Version    string
}

// Server is the HTTP API server for Hearth Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	devices    *device.Registry
	plugins    *plugin.Registry
	dispatcher *dispatch.Dispatcher
	voice      Interpreter
	history    HistorySource
	bus        *eventbus.Bus
	version    string
	started    time.Time
	server     *http.Server
	hub        *Hub
	tickets    *ticketStore
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registries, dispatcher)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Plugins == nil {
		return nil, fmt.Errorf("plugin registry is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		devices:    deps.Devices,
		plugins:    deps.Plugins,
		dispatcher: deps.Dispatcher,
		voice:      deps.Voice,
		history:    deps.History,
		bus:        deps.Bus,
		version:    deps.Version,
		tickets:    newTicketStore(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to the event bus for real-time
// WebSocket broadcast, and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.started = time.Now()

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	// Periodic ticket cleanup to prevent memory leaks.
	go s.tickets.cleanLoop(srvCtx)

	// Relay hub events to subscribed WebSocket clients.
	if s.bus != nil {
		go s.runEventPump(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, event pump, ticket cleanup).
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

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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
