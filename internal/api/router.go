package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/omnirouter/internal/api/middleware"
	"github.com/eldtechnologies/omnirouter/internal/handlers"
	"github.com/eldtechnologies/omnirouter/internal/store"
)

// maxBodyBytes bounds ingest payloads; attachments travel by URL.
const maxBodyBytes = 64 * 1024

// NewRouter creates and configures the admin and ingest HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, redisStore *store.RedisStore, limits middleware.RateLimiterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	r.Use(middleware.RequireJSON)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger, limits)
		r.Use(limiter.Middleware)
	}

	// Web chat widgets post from customer sites.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)
	r.Get("/api", h.Root)

	r.Post("/ingest", h.Ingest)
	r.Post("/triage", h.Triage)
	r.Get("/status/{id}", h.Status)

	return r
}
