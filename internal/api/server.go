package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/fl-sean03/agentgate/internal/artifacts"
	"github.com/fl-sean03/agentgate/internal/diagnostics"
	"github.com/fl-sean03/agentgate/internal/logging"
	"github.com/fl-sean03/agentgate/internal/progress"
	"github.com/fl-sean03/agentgate/internal/queue"
)

// Server is the HTTP/Stream Surface (component K): it serves the
// work-order and run REST API, SSE/WebSocket streaming, health checks,
// and Prometheus metrics over the Work-Order Queue and Artifact Store.
type Server struct {
	router  chi.Router
	store   *artifacts.Store
	queue   *queue.Queue
	bus     *progress.Bus
	metrics *progress.Metrics
	log     *logging.Logger
	ready   func() bool
	apiKey  string

	resourceMonitor *diagnostics.ResourceMonitor
}

// Option configures a Server.
type Option func(*Server)

// WithAPIKey requires `Authorization: Bearer <key>` on mutating routes.
func WithAPIKey(key string) Option { return func(s *Server) { s.apiKey = key } }

// WithReadyCheck overrides the /health/ready predicate (defaults to
// always-ready).
func WithReadyCheck(fn func() bool) Option { return func(s *Server) { s.ready = fn } }

// New creates a Server wired to the queue/store/bus/metrics and builds
// its route tree.
func New(store *artifacts.Store, q *queue.Queue, bus *progress.Bus, metrics *progress.Metrics, log *logging.Logger, opts ...Option) *Server {
	if log == nil {
		log = logging.NewNop()
	}
	s := &Server{
		store:   store,
		queue:   q,
		bus:     bus,
		metrics: metrics,
		log:     log,
		ready:   func() bool { return true },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the http.Handler serving every route.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(s.loggingMiddleware)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}).Handler)

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	r.Get("/health/live", s.handleLive)
	r.Get("/health/deep", s.handleDeepHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/work-orders", func(r chi.Router) {
			r.Get("/", s.handleListWorkOrders)
			r.With(requireAPIKey(s.apiKey)).Post("/", s.handleCreateWorkOrder)
			r.Get("/{id}", s.handleGetWorkOrder)
			r.With(requireAPIKey(s.apiKey)).Delete("/{id}", s.handleCancelWorkOrder)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
			r.Get("/{id}/stream", s.handleRunStream)
		})

		r.Get("/config", s.handleGetConfig)
		r.With(requireAPIKey(s.apiKey)).Post("/config/validate", s.handleValidateConfig)
	})

	r.Get("/ws", s.handleWebSocket)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// ListenAndServe starts the HTTP server, shutting down gracefully when
// ctx is canceled (mirrors the teacher's server lifecycle).
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info("starting API server", "addr", addr)
	return srv.ListenAndServe()
}
