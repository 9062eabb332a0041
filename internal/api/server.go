// Package api exposes the queue over HTTP: a JSON API under /api/v1, the
// wallet bridge websocket and the Prometheus scrape endpoint.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/slok/go-http-metrics/middleware"
	metricsprom "github.com/slok/go-http-metrics/metrics/prometheus"

	"github.com/livinlefevreloca/stakequeue/internal/app"
	"github.com/livinlefevreloca/stakequeue/internal/notifier"
	"github.com/livinlefevreloca/stakequeue/internal/queue"
)

// Backend is what the handlers need from the application
type Backend interface {
	Enqueue(ctx context.Context, input queue.Input) (queue.Operation, error)
	Get(id string) (queue.Operation, error)
	List(account string) ([]queue.Operation, error)
	Cancel(id string) error
	Snapshot(account string) (*queue.Snapshot, error)
	RefreshSnapshot(ctx context.Context, account string) error
	Projection(account string) (app.Projection, error)
	RequestSync()
	SetOnline(online bool)
	SetActiveAccount(account string) error
	Status() (app.Status, error)
	Notifications(limit int) []notifier.Notification
}

var _ Backend = (*app.Service)(nil)

// Options are the optional parts of the server
type Options struct {
	// Signer serves the wallet bridge websocket at /ws/signer
	Signer http.Handler

	// Registry is served at /metrics and records HTTP request metrics
	Registry *prometheus.Registry
}

// Server is the HTTP front end
type Server struct {
	backend Backend
	logger  *slog.Logger
	router  *mux.Router
	http    *http.Server

	errCh chan error
}

// NewServer builds the router and an http.Server listening on addr
func NewServer(addr string, backend Backend, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		backend: backend,
		logger:  logger,
		errCh:   make(chan error, 1),
	}

	router := mux.NewRouter().StrictSlash(true)
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(LoggingMiddleware(logger))
	if opts.Registry != nil {
		recorder := metricsprom.NewRecorder(metricsprom.Config{
			Prefix:   "stakequeue",
			Registry: opts.Registry,
		})
		v1.Use(MetricsMiddleware(middleware.New(middleware.Config{Recorder: recorder})))
	}

	for _, route := range s.routes() {
		v1.Methods(route.Method).
			Path(route.Pattern).
			Name(route.Name).
			HandlerFunc(route.HandlerFunc)
	}

	if opts.Signer != nil {
		router.Handle("/ws/signer", opts.Signer).Name("Signer")
	}
	if opts.Registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})).Name("Metrics")
	}

	s.router = router
	s.http = &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens in the background. A listen failure is reported by Err.
func (s *Server) Start() {
	go func() {
		s.logger.Info("http server listening", "address", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
			s.errCh <- err
		}
	}()
}

// Err delivers the error that stopped the listener, if any
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
