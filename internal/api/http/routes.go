package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/walhalax/tk-auto-save/internal/service"
)

// NewRouter creates the HTTP router with configured routes, middleware, and
// handlers: session control, task status, the SSE change stream, health
// check, and the Prometheus metrics endpoint.
func NewRouter(orch *service.Orchestrator, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	h := NewControlHandler(orch, logger)

	r.Route("/control", func(r chi.Router) {
		r.Post("/start", h.StartSession)
		r.Post("/resume", h.ResumeSession)
		r.Post("/stop", h.StopSession)
		r.Post("/reset-failed", h.ResetFailed)
		r.Post("/reset-all", h.ResetAll)
	})

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", h.SubmitTask)
		r.Get("/", h.ListTasks)
		r.Get("/{taskID}", h.GetTask)
	})

	r.Get("/events", h.Events)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
