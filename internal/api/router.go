package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shubhsaxena/cinesearch/internal/config"
)

const defaultMaxConcurrent = 1000

func NewRouter(handler *Handler, live *LiveHandler, health *HealthHandler, cfg config.ServerConfig, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware (applied to all routes)
	r.Use(RecoveryMiddleware(logger))
	r.Use(CORSMiddleware(cfg.AllowedOrigins))
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	// Health and metrics endpoints are registered BEFORE the rate limiter
	// so Kubernetes health checks and Prometheus scrapes are never rejected under load.
	r.Get("/healthz", health.Liveness)
	r.Get("/readyz", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	rl := NewRateLimiter(maxConcurrent, logger)

	r.Route("/api/v1", func(r chi.Router) {
		// Live sessions hold their connection open, so they do not take a
		// concurrency slot.
		r.Get("/search/live", live.ServeHTTP)

		// Rate limiter only applies to request/response routes below
		r.Group(func(r chi.Router) {
			r.Use(rl.Middleware)

			r.Get("/search", handler.Search)
			r.Post("/search", handler.Search)
			r.Delete("/cache", handler.ClearCache)
		})
	})

	return r
}
