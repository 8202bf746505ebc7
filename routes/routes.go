package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/llm-resilience/app"
	"github.com/upb/llm-resilience/handlers"
)

// SetupRoutes configures the status API routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// Health check endpoints
	r.Get("/healthz", handlers.HealthCheck(deps))
	r.Get("/readyz", handlers.ReadinessCheck(deps))

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", handlers.StatusHandler(deps))

		r.Route("/health", func(r chi.Router) {
			r.Get("/", handlers.HealthSnapshotHandler(deps))
			r.Post("/check", handlers.ForceCheckHandler(deps))
		})

		r.Get("/metrics", handlers.MetricsHandler(deps))
		r.Get("/recommendations", handlers.RecommendationsHandler(deps))
		r.Get("/benchmark", handlers.BenchmarkHandler(deps))
		r.Get("/cache", handlers.CacheStatsHandler(deps))

		r.Post("/select", handlers.SelectHandler(deps))
		r.Post("/models/load", handlers.ModelLoadHandler(deps))
		r.Get("/providers/recommended", handlers.RecommendedProvidersHandler(deps))
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
