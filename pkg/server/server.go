package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/tally/pkg/clock"
	"mercator-hq/tally/pkg/config"
	"mercator-hq/tally/pkg/telemetry/health"
	"mercator-hq/tally/pkg/telemetry/metrics"
	"mercator-hq/tally/pkg/telemetry/tracing"
)

// Options wires a Server.
type Options struct {
	// Accountant is required.
	Accountant Accountant

	Server    config.ServerConfig
	Telemetry config.TelemetryConfig

	// Resolver defaults to a HeaderResolver built from Server.
	Resolver IdentityResolver

	// Checker serves /ready. Optional.
	Checker *health.Checker

	// Metrics serves /metrics. Optional.
	Metrics *metrics.Collector

	Tracer *tracing.Tracer
	Clock  clock.Clock
	Logger *slog.Logger

	// Version, Commit and BuildTime are reported by /version.
	Version   string
	Commit    string
	BuildTime string
}

// Server is the HTTP front end.
type Server struct {
	opts         Options
	accountant   Accountant
	resolver     IdentityResolver
	checker      *health.Checker
	clock        clock.Clock
	logger       *slog.Logger
	maxBodyBytes int64

	mu         sync.Mutex
	httpServer *http.Server
	isRunning  bool
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Accountant == nil {
		return nil, errors.New("server: accountant is required")
	}
	defaults := &config.Config{Server: opts.Server, Telemetry: opts.Telemetry}
	config.ApplyDefaults(defaults)
	opts.Server, opts.Telemetry = defaults.Server, defaults.Telemetry

	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewHeaderResolver(opts.Server)
	}
	checker := opts.Checker
	if checker == nil {
		checker = health.New(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		opts:         opts,
		accountant:   opts.Accountant,
		resolver:     resolver,
		checker:      checker,
		clock:        clock.Or(opts.Clock),
		logger:       logger.With("component", "server"),
		maxBodyBytes: opts.Server.MaxBodyBytes,
	}, nil
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/consume", s.handleConsume)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("GET /v1/usage/stats", s.handleStats)
	mux.HandleFunc("GET /v1/status/breaker", s.handleBreaker)

	mux.Handle(s.opts.Telemetry.Health.LivenessPath, s.checker.LivenessHandler())
	mux.Handle(s.opts.Telemetry.Health.ReadinessPath, s.checker.ReadinessHandler())
	mux.Handle("/version", health.VersionHandler(s.opts.Version, s.opts.Commit, s.opts.BuildTime))
	if s.opts.Telemetry.Metrics.Enabled && s.opts.Metrics != nil {
		mux.Handle(s.opts.Telemetry.Metrics.Path, s.opts.Metrics.Handler())
	}

	var handler http.Handler = mux
	handler = LoggingMiddleware(s.logger)(handler)
	handler = TracingMiddleware(s.opts.Tracer)(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(s.logger)(handler)
	return handler
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Server.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Server.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		_ = ln.Close()
		return fmt.Errorf("server is already running")
	}
	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    s.opts.Server.ReadTimeout,
		WriteTimeout:   s.opts.Server.WriteTimeout,
		IdleTimeout:    s.opts.Server.IdleTimeout,
		MaxHeaderBytes: s.opts.Server.MaxHeaderBytes,
		BaseContext:    func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.isRunning = true
	srv := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		if ok {
			return err
		}
		return nil
	}
}

// Shutdown drains in-flight requests, bounded by the shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	running := s.isRunning
	s.isRunning = false
	s.mu.Unlock()

	if !running || srv == nil {
		return nil
	}

	s.logger.Info("Initiating graceful shutdown", "timeout", s.opts.Server.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(ctx, s.opts.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Error during server shutdown", "error", err)
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.logger.Info("Server stopped")
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
