package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	apiMiddleware "github.com/phrazzld/snippet-runner/internal/api/middleware"
)

// NewRouter creates the status API router with its middleware and routes.
func NewRouter(source StatusSource, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(logger))

	// The status endpoints are read-only and polled by dashboards.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	h := NewStatusHandler(source)
	r.Get("/health", h.Health)
	r.Route("/status", func(r chi.Router) {
		r.Get("/", h.Status)
		r.Get("/counts", h.Counts)
	})

	return r
}
