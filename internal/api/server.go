package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-devicelink/internal/router"
	"github.com/nerrad567/gray-logic-devicelink/internal/session"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 5 * time.Second

// StatusSource provides the connection snapshot. *session.Manager satisfies it.
type StatusSource interface {
	Status() session.Status
}

// StatsSource provides message counters. *router.Router satisfies it.
type StatsSource interface {
	Stats() router.Stats
}

// HealthChecker is an optional dependency probed by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the server's collaborators.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Status  StatusSource
	Stats   StatsSource
	Checks  map[string]HealthChecker
	Version string
}

// Server is the status HTTP server.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	status    StatusSource
	stats     StatsSource
	checks    map[string]HealthChecker
	version   string
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New validates deps and creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Status == nil:
		return nil, fmt.Errorf("status source is required")
	case deps.Stats == nil:
		return nil, fmt.Errorf("stats source is required")
	}
	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		status:    deps.Status,
		stats:     deps.Stats,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start binds the listener and serves in the background. Bind errors are
// returned here rather than logged later.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	read := time.Duration(s.cfg.Timeouts.Read) * time.Second
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       read,
		ReadHeaderTimeout: read,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close drains in-flight requests and stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
