package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-zwave/internal/audit"
	"github.com/nerrad567/gray-logic-zwave/internal/bridges/zwave"
	"github.com/nerrad567/gray-logic-zwave/internal/broker"
	"github.com/nerrad567/gray-logic-zwave/internal/device"
	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// CommandDispatcher sends host commands to the Z-Wave gateway.
// Satisfied by *zwave.Bridge.
type CommandDispatcher interface {
	Command(ctx context.Context, ref zwave.EntityRef, cmd zwave.Command) (zwave.DispatchResult, error)
}

// MappingSource exposes the learned device mapping table.
// Satisfied by *zwave.Discovery.
type MappingSource interface {
	Snapshot() *zwave.Table
}

// ClientLister lists gateway clients connected to the embedded broker.
// Satisfied by *broker.ClientSet.
type ClientLister interface {
	List() []broker.ClientInfo
}

// AuditStore records and lists dispatched commands.
// Satisfied by *audit.SQLiteRepository.
type AuditStore interface {
	Create(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Commands CommandDispatcher // Optional: command endpoint returns 503 without it
	Mappings MappingSource     // Optional
	Clients  ClientLister      // Optional
	Audit    AuditStore        // Optional: commands are not recorded without it
	Version  string
}

// Server is the HTTP API server for the Z-Wave bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	registry *device.Registry
	commands CommandDispatcher
	mappings MappingSource
	clients  ClientLister
	audit    AuditStore
	version  string
	limiter  *rate.Limiter
	server   *http.Server
	hub      *Hub
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("entity registry is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		logger:   deps.Logger,
		registry: deps.Registry,
		commands: deps.Commands,
		mappings: deps.Mappings,
		clients:  deps.Clients,
		audit:    deps.Audit,
		version:  deps.Version,
		hub:      NewHub(deps.WS, deps.Logger),
	}

	if rl := deps.Security.RateLimit; rl.Enabled && rl.RequestsPerMinute > 0 {
		burst := max(rl.Burst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(float64(rl.RequestsPerMinute)/60), burst)
	}

	// Registry events fan out to WebSocket subscribers.
	deps.Registry.Subscribe(s.broadcastEntityEvent)

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
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

// HealthCheck verifies the API server is running and responsive.
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

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }
