package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/benchtop-core/internal/bench"
	"github.com/nerrad567/benchtop-core/internal/infrastructure/config"
	"github.com/nerrad567/benchtop-core/internal/infrastructure/database"
	"github.com/nerrad567/benchtop-core/internal/infrastructure/logging"
	"github.com/nerrad567/benchtop-core/internal/instrument"
	"github.com/nerrad567/benchtop-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// PollerStatus reports telemetry poller activity. *telemetry.Poller
// satisfies it.
type PollerStatus interface {
	Stats() telemetry.Stats
}

// SessionLister reports the open instrument sessions. *instrument.Registry
// satisfies it.
type SessionLister interface {
	Sessions() []instrument.SessionInfo
}

// LatestSource returns the most recent poll result. *bench.Sink satisfies it.
type LatestSource interface {
	Latest() (telemetry.Snapshot, telemetry.Reading, bool)
}

// HealthChecker reports whether a dependency is usable. *mqtt.Client and
// *influxdb.Client satisfy it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Database is the store checked by /health and reported by /status.
// *database.DB satisfies it.
type Database interface {
	HealthChecker
	GetMigrationStatus(ctx context.Context) ([]database.MigrationRecord, []database.Migration, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Controller *bench.Controller
	Readings   telemetry.ReadingRepository
	Poller     PollerStatus
	Sessions   SessionLister
	Latest     LatestSource
	Database   Database
	MQTT       HealthChecker // Optional; nil when the bus is disabled
	Metrics    HealthChecker // Optional; nil when InfluxDB export is disabled
	Hub        *Hub          // If set, the server uses this hub instead of creating its own
	Version    string
}

// Server is the HTTP API server for the bench.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	controller  *bench.Controller
	readings    telemetry.ReadingRepository
	poller      PollerStatus
	sessions    SessionLister
	latest      LatestSource
	database    Database
	mqtt        HealthChecker
	metrics     HealthChecker
	version     string
	started     time.Time
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, controller); the rest are optional
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("bench controller is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		controller: deps.Controller,
		readings:   deps.Readings,
		poller:     deps.Poller,
		sessions:   deps.Sessions,
		latest:     deps.Latest,
		database:   deps.Database,
		mqtt:       deps.MQTT,
		metrics:    deps.Metrics,
		version:    deps.Version,
		started:    time.Now(),
	}

	// The sink broadcasts through the hub, so it is usually created first.
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless one was injected), builds the router
// and launches the HTTP listener in a background goroutine. The server can
// be stopped with Close().
//
// Parameters:
//   - ctx: Context for background goroutines (not the listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
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

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.buildRouter()
}
