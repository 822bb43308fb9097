package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/session"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// Options carries the optional parts of the server.
type Options struct {
	Bus          domain.EventBus
	AsyncEnabled bool
	Metrics      domain.MetricsConfig
	Version      string
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, service *scoring.Service, engine *rules.Engine, sessions *session.Store, opts Options) *Server {
	handler := NewHandler(service, engine, sessions, opts.Bus, opts.Version, opts.AsyncEnabled)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(metrics.Middleware)     // Prometheus request metrics
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	if opts.Metrics.Enabled {
		path := opts.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.Method(http.MethodGet, path, metrics.Handler())
	}

	// Feature layout and rules
	router.Get("/schema", handler.Schema)
	router.Get("/rules", handler.ListRules)

	// Sessions
	router.Post("/sessions", handler.CreateSession)
	router.Route("/sessions/{id}", func(r chi.Router) {
		r.Delete("/", handler.EndSession)
		r.Post("/score", handler.Score)
		r.Post("/score/async", handler.ScoreAsync)
		r.Get("/history", handler.GetHistory)
		r.Delete("/history", handler.ClearHistory)
		r.Get("/evaluations", handler.ListSessionEvaluations)
	})

	// Evaluation retrieval
	router.Get("/evaluations/{id}", handler.GetEvaluation)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
