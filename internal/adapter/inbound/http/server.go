package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keywarden/keywarden/internal/adapter/outbound/cel"
	"github.com/keywarden/keywarden/internal/service"
)

// Server is the inbound REST adapter over the policy service.
type Server struct {
	service *service.PolicyService
	filters *cel.FilterEvaluator
	logger  *slog.Logger

	addr       string
	secretHash string
	registry   *prometheus.Registry
	metrics    *Metrics
	server     *http.Server
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithSecretHash enables bearer-secret auth; the value is the SHA-256
// digest of the secret in "sha256:<hex>" form.
func WithSecretHash(hash string) Option {
	return func(s *Server) {
		s.secretHash = hash
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRegistry sets the Prometheus registry. A fresh registry with the
// standard Go and process collectors is used when unset.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// NewServer creates a Server wrapping the given policy service.
func NewServer(svc *service.PolicyService, filters *cel.FilterEvaluator, opts ...Option) *Server {
	s := &Server{
		service: svc,
		filters: filters,
		addr:    "127.0.0.1:8080",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = NewMetrics(s.registry)
	return s
}

// Handler builds the full route table with the middleware chain applied
// to the API routes. /healthz and /metrics stay unauthenticated.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /v1/policies", s.handleListPolicies)
	api.HandleFunc("PUT /v1/policies", s.handleReplacePolicies)
	api.HandleFunc("DELETE /v1/policies", s.handleClearPolicies)
	api.HandleFunc("PUT /v1/policies/{id}", s.handleUpsertPolicy)
	api.HandleFunc("GET /v1/policies/applies", s.handlePolicyApplies)
	api.HandleFunc("GET /v1/policies/reset-password", s.handleResetPasswordOptions)
	api.HandleFunc("POST /v1/policies/token", s.handleTokenPolicies)
	api.HandleFunc("POST /v1/passwords/evaluate", s.handleEvaluatePassword)

	// Middleware order (outermost first): metrics, request id, auth.
	var handler http.Handler = api
	handler = SecretAuthMiddleware(s.secretHash)(handler)
	handler = RequestIDMiddleware(s.logger)(handler)
	handler = MetricsMiddleware(s.metrics)(handler)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))
	mux.Handle("/", handler)
	return mux
}

// Start begins serving and blocks until ctx is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}
