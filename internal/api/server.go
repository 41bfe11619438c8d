// Package api provides the read-only HTTP API for kchart charts, songs and
// scheduler state.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kchartio/kchart/internal/cache"
	"github.com/kchartio/kchart/internal/logger"
	"github.com/kchartio/kchart/internal/scheduler"
	"github.com/kchartio/kchart/internal/service"
	"github.com/kchartio/kchart/internal/store"
)

// Version is reported in the OpenAPI document.
const Version = "1.0.0"

// Services groups the business services used by the API server.
type Services struct {
	Charts     *service.ChartService
	Aggregates *service.AggregateService
	Songs      *service.SongService
	Search     *service.SearchService
	Scheduler  *scheduler.Scheduler
}

// Options configures a Server.
type Options struct {
	CORSOrigins []string
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	store    store.Store
	cache    cache.Cache
	services *Services
	router   *chi.Mux
	api      huma.API
	logger   *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(st store.Store, c cache.Cache, services *Services, opts Options, log *slog.Logger) *Server {
	s := &Server{
		store:    st,
		cache:    c,
		services: services,
		router:   chi.NewRouter(),
		logger:   logger.OrDiscard(log),
	}

	s.setupMiddleware(opts)

	humaConfig := huma.DefaultConfig("kchart API", Version)
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.registerHealthRoutes()
	s.registerChartRoutes()
	s.registerSongRoutes()
	s.registerSearchRoutes()
	s.registerTaskRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API exposes the huma API, mainly for tests and OpenAPI export.
func (s *Server) API() huma.API {
	return s.api
}

func (s *Server) setupMiddleware(opts Options) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
}

// requestLogger logs each request at debug level, and failed ones at warn.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
