package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/scenarist/scenarist/pkg/config"
)

// SetupRouter initializes the Chi router and defines the API endpoints.
func SetupRouter(api *API, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Permissive CORS for development. Restrict AllowedOrigins before
	// exposing this anywhere that matters.
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	r.Use(corsMiddleware.Handler)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(StructuredRequestLogger(api.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	// Basic health check endpoint
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Scenario submission and per-test run listing
		r.Route("/tests/{testId}/runs", func(r chi.Router) {
			r.Post("/", api.HandleSubmitScenario)
			r.Get("/", api.HandleGetTestRuns)
		})

		// Polling read path for a single run
		r.Get("/runs/{runId}", api.HandleGetRun)

		// Queue inspection
		r.Get("/queues/{name}/status", api.HandleGetQueueStatus)
	})

	return r
}
