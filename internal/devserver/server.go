// Package devserver serves the scheduler wire protocol over a local state
// store. It records applied plans without executing any warehouse work and
// is meant for local development and end-to-end tests of the client.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Store is the state the server exposes.
type Store interface {
	SubmitPlan(ctx context.Context, p *core.Plan) error
	GetEnvironment(ctx context.Context, name string) (*core.Environment, error)
	ListEnvironments(ctx context.Context) ([]*core.Environment, error)
	GetSnapshot(ctx context.Context, name, identifier string) (*core.Snapshot, error)
	ListSnapshots(ctx context.Context, name string) ([]*core.Snapshot, error)
	GetSnapshotIdentifiersForVersion(ctx context.Context, name, version string) ([]string, error)
	GetDagRunState(ctx context.Context, dagID, runID string) (string, error)
}

// Config holds configuration for the server.
type Config struct {
	Store Store
	// Addr is the listen address (default :8080)
	Addr string
	// Username and Password enable basic auth on the API when set
	Username string
	Password string
	Logger   *slog.Logger
	// Registry collects the server metrics served on /metrics. A fresh
	// registry is used when nil.
	Registry *prometheus.Registry
}

// Server is the development scheduler.
type Server struct {
	store    Store
	addr     string
	username string
	password string
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics
	handler  http.Handler
}

// NewServer creates a server instance.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("devserver: store is required")
	}
	s := &Server{
		store:    cfg.Store,
		addr:     cfg.Addr,
		username: cfg.Username,
		password: cfg.Password,
		logger:   cfg.Logger,
		registry: cfg.Registry,
	}
	if s.addr == "" {
		s.addr = ":8080"
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}

	m, err := newMetrics(s.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	s.metrics = m
	s.handler = s.routes()
	return s, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		s.logRequests,
		middleware.Recoverer,
	)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	r.Group(func(r chi.Router) {
		if s.username != "" || s.password != "" {
			r.Use(middleware.BasicAuth("leapmesh", map[string]string{s.username: s.password}))
		}
		r.Post("/sqlmesh/api/v1/plans", s.applyPlan)
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/variables", s.listVariables)
			r.Get("/variables/{key}", s.getVariable)
			r.Get("/dags/{dagID}/dagRuns/{runID}", s.getDagRun)
		})
	})
	return r
}

// Serve listens on the configured address and blocks until ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln and blocks until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting scheduler server", "addr", ln.Addr().String())

	eg, egctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler: s.handler,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down scheduler server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.metrics.request(r.Method, route, status)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
