package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/prn-tf/filevault/internal/metrics"
)

// ObjectRoutePrefix is where a locally served object store is mounted.
const ObjectRoutePrefix = "/objects"

// Router assembles the HTTP API.
type Router struct {
	authHandler    *AuthHandler
	fileHandler    *FileHandler
	healthHandler  http.Handler
	objectHandler  http.Handler
	authMiddleware func(http.Handler) http.Handler
	rateLimiter    func(http.Handler) http.Handler
	corsOrigins    []string
	logger         zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	AuthHandler    *AuthHandler
	FileHandler    *FileHandler
	HealthHandler  http.Handler
	AuthMiddleware func(http.Handler) http.Handler

	// ObjectHandler serves signed object URLs when the local backend is used.
	// Nil for remote object stores.
	ObjectHandler http.Handler

	// RateLimiter guards /api. Nil disables rate limiting.
	RateLimiter func(http.Handler) http.Handler

	// CORSOrigins lists the allowed origins. Empty allows every origin.
	CORSOrigins []string

	Logger zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	return &Router{
		authHandler:    config.AuthHandler,
		fileHandler:    config.FileHandler,
		healthHandler:  config.HealthHandler,
		objectHandler:  config.ObjectHandler,
		authMiddleware: config.AuthMiddleware,
		rateLimiter:    config.RateLimiter,
		corsOrigins:    config.CORSOrigins,
		logger:         config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(rt.logger))
	r.Use(hlog.RequestIDHandler("request_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(rt.logAccess))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(rt.cors())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	if rt.healthHandler != nil {
		r.Method(http.MethodGet, "/health", rt.healthHandler)
	}

	if rt.objectHandler != nil {
		r.Handle(ObjectRoutePrefix+"/*", rt.objectHandler)
	}

	r.Route("/api", func(r chi.Router) {
		if rt.rateLimiter != nil {
			r.Use(rt.rateLimiter)
		}

		r.Route("/auth", func(r chi.Router) {
			rt.authHandler.RegisterRoutes(r, rt.authMiddleware)
		})

		r.Route("/files", func(r chi.Router) {
			r.Use(rt.authMiddleware)
			rt.fileHandler.RegisterRoutes(r)
		})
	})

	return r
}

func (rt *Router) cors() func(http.Handler) http.Handler {
	origins := rt.corsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	})
}

func (rt *Router) logAccess(r *http.Request, status, size int, duration time.Duration) {
	event := hlog.FromRequest(r).Info()
	switch {
	case status >= http.StatusInternalServerError:
		event = hlog.FromRequest(r).Error()
	case status >= http.StatusBadRequest:
		event = hlog.FromRequest(r).Warn()
	}
	event.
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Str("remote_addr", r.RemoteAddr).
		Msg("request")
}
