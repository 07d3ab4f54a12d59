package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/lazypower/permanence/internal/engine"
	"github.com/lazypower/permanence/internal/metrics"
	"github.com/lazypower/permanence/internal/store"
)

// Server is the permanence HTTP API server.
type Server struct {
	db      *store.DB
	engine  *engine.Engine
	metrics *metrics.Metrics
	logger  zerolog.Logger
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server around a running engine.
func New(db *store.DB, eng *engine.Engine, m *metrics.Metrics, logger zerolog.Logger, version string) *Server {
	s := &Server{
		db:      db,
		engine:  eng,
		metrics: m,
		logger:  logger.With().Str("component", "server").Logger(),
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		r.Post("/items", s.handleCreateItem)
		r.Get("/items/{itemID}", s.handleGetVisibility)
		r.Get("/items/{itemID}/explain", s.handleExplain)
		r.Get("/items/{itemID}/events", s.handleListEvents)
		r.Post("/items/{itemID}/events", s.handleRecordEvent)
		r.Post("/items/{itemID}/archive", s.handleForceArchive)

		r.Post("/sweep", s.handleSweep)
		r.Get("/sweeps/{runID}", s.handleGetSweep)
		r.Post("/sweeps/{runID}/resume", s.handleResumeSweep)

		r.Get("/users/{userID}/archive", s.handleListArchive)
	})

	s.router = r
}

// instrument records per-route request metrics and a debug access log line.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = r.Method + " " + rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.RecordRequest(route, strconv.Itoa(status), elapsed.Seconds())
		}
		s.logger.Debug().
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.PingContext(r.Context()); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}
