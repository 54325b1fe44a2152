package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a chi router with the health probe and the run API.
// authEnabled controls whether Bearer token auth is enforced under /api.
// sseHandler, if non-nil, is mounted at GET /api/events inside the auth group.
func NewRouter(svc *Service, authEnabled bool, token string, sseHandler http.Handler, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := NewHandler(svc, logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logger))

	r.Get("/health/live", h.Live)

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token))

		r.Get("/runs", h.ListRuns)
		r.Post("/runs", h.TriggerRun)
		r.Get("/runs/latest", h.LatestRun)

		// SSE endpoint (protected by same auth middleware).
		if sseHandler != nil {
			r.Get("/events", sseHandler.ServeHTTP)
		}
	})

	return r
}
