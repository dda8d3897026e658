package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/spherolink/internal/audit"
	"github.com/nerrad567/spherolink/internal/auth"
	"github.com/nerrad567/spherolink/internal/automation"
	"github.com/nerrad567/spherolink/internal/fleet"
	"github.com/nerrad567/spherolink/internal/infrastructure/config"
	"github.com/nerrad567/spherolink/internal/infrastructure/logging"
	"github.com/nerrad567/spherolink/internal/process"
	"github.com/nerrad567/spherolink/internal/protocol/notify"
	"github.com/nerrad567/spherolink/internal/registry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Fleet    *fleet.Fleet
	Registry *registry.Registry
	Auth     *auth.Service
	Audit    *audit.Recorder
	Version  string

	// Routines and Engine enable the /routines endpoints when both are set.
	Routines *automation.Registry
	Engine   *automation.Engine

	// Adapter is the supervised adapter process, if spherod runs one.
	Adapter ProcessReporter
}

// ProcessReporter reports the state of a supervised process.
type ProcessReporter interface {
	Stats() process.Stats
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	fleet    *fleet.Fleet
	registry *registry.Registry
	auth     *auth.Service
	audit    *audit.Recorder
	routines *automation.Registry
	engine   *automation.Engine
	adapter  ProcessReporter
	version  string
	started  time.Time

	server  *http.Server
	hub     *Hub
	tickets *ticketStore

	cancel   context.CancelFunc // cancels background goroutines on Close()
	unlisten func()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, fleet, registry, auth, audit)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Fleet == nil:
		return nil, fmt.Errorf("fleet is required")
	case deps.Registry == nil:
		return nil, fmt.Errorf("toy registry is required")
	case deps.Auth == nil:
		return nil, fmt.Errorf("auth service is required")
	case deps.Audit == nil:
		return nil, fmt.Errorf("audit recorder is required")
	}

	logger := deps.Logger.Component("api")
	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   logger,
		fleet:    deps.Fleet,
		registry: deps.Registry,
		auth:     deps.Auth,
		audit:    deps.Audit,
		routines: deps.Routines,
		engine:   deps.Engine,
		adapter:  deps.Adapter,
		version:  deps.Version,
		started:  time.Now(),
		hub:      NewHub(deps.WS, logger),
		tickets:  newTicketStore(),
	}, nil
}

// Handler returns the router. Start serves it; tests drive it directly.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays fleet state changes and notifications
// to it, and launches the HTTP listener in a background goroutine. The
// listener is bound before Start returns so a busy port is reported here.
//
// Parameters:
//   - ctx: Parent context for background goroutines (not the listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)
	s.relayFleet()
	if s.engine != nil {
		s.engine.SetBroadcaster(routineRelay{s.hub})
	}

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// relayFleet forwards fleet activity to WebSocket subscribers.
func (s *Server) relayFleet() {
	s.fleet.Observe(func(sc fleet.StateChange) {
		s.hub.Broadcast(ChannelState, sc.Toy, stateEvent(sc))
	})
	s.unlisten = s.fleet.Listen(func(name string, ev notify.Event) {
		s.hub.Broadcast(ChannelEvent, name, notificationEvent(name, ev))
	})
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

	if s.unlisten != nil {
		s.unlisten()
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
