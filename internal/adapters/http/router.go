package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter registers the operator routes and middleware stack.
// Centralizing routes here keeps error and logging behavior consistent.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)

	r.Route("/admin/v1", func(r chi.Router) {
		r.Get("/cache/stats", handler.cacheStats)
		r.Post("/cache/invalidate", handler.cacheInvalidate)
		r.Post("/cache/warm/{strategy}", handler.cacheWarm)
		r.Post("/cache/clear", handler.cacheClear)
		r.Get("/alerts", handler.listAlerts)
		r.Get("/metrics", handler.metricNames)
		r.Get("/metrics/{name}", handler.metricSummary)
		r.Get("/events", handler.eventHistory)
	})

	return r
}
