// Package http exposes the service's REST surface: project and session
// management, telemetry ingestion, finalization, and result retrieval.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"playtest-telemetry-service/internal/observability"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger)

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/projects", func(r chi.Router) {
			r.Post("/", h.CreateProject)
			r.Get("/{projectID}", h.GetProject)
			r.Put("/{projectID}/specs", h.UpdateProjectSpecs)
			r.Get("/{projectID}/aggregate", h.ProjectAggregate)
			r.Post("/{projectID}/sessions", h.CreateSession)
		})
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/readings/{stream}", h.AppendReadings)
			r.Post("/chunks", h.AppendChunk)
			r.Post("/finalize", h.Finalize)
			r.Get("/rows", h.FusedRows)
			r.Get("/verdicts", h.Verdicts)
			r.Get("/events", h.TimelineEvents)
			r.Get("/score", h.Score)
		})
	})

	return r
}
