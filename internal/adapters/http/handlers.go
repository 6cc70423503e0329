package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opsledger/treasury-infra/internal/application"
	"github.com/opsledger/treasury-infra/internal/domain"
)

// Handler is the HTTP adapter entrypoint for the operator surface.
// Keeping only the application dependency here preserves clean adapter boundaries.
type Handler struct {
	service *application.Service
}

// NewHandler constructs an HTTP handler bound to the application service.
func NewHandler(service *application.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	// Ready even with the shared store down: local-only is a supported mode.
	// The stats payload tells the operator which mode the process is in.
	writeSuccess(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"shared_available": h.service.CacheStats(r.Context()).SharedAvailable,
	})
}

func (h *Handler) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, h.service.CacheStats(r.Context()))
}

type invalidateRequest struct {
	Key     string   `json:"key,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

func (h *Handler) cacheInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}

	switch {
	case req.Key != "":
		if err := h.service.InvalidateKey(r.Context(), req.Key); err != nil {
			status, code, msg := mapDomainError(err)
			writeError(w, status, code, msg)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"invalidated": 1, "key": req.Key})
	case req.Pattern != "":
		count, err := h.service.InvalidatePattern(r.Context(), req.Pattern)
		if err != nil {
			status, code, msg := mapDomainError(err)
			writeError(w, status, code, msg)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"invalidated": count, "pattern": req.Pattern})
	case len(req.Tags) > 0:
		count := h.service.InvalidateByTags(r.Context(), req.Tags)
		writeSuccess(w, http.StatusOK, map[string]any{"invalidated": count, "tags": req.Tags})
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "one of key, pattern or tags is required")
	}
}

func (h *Handler) cacheWarm(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "strategy")
	result, err := h.service.WarmCache(r.Context(), name)
	if err != nil {
		status, code, msg := mapDomainError(err)
		writeError(w, status, code, msg)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

func (h *Handler) cacheClear(w http.ResponseWriter, r *http.Request) {
	count := h.service.ClearCache(r.Context())
	writeSuccess(w, http.StatusOK, map[string]any{"cleared": count})
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	level := domain.AlertLevel(r.URL.Query().Get("level"))
	source := r.URL.Query().Get("source")
	limit := queryInt(r, "limit", 50)

	alerts, err := h.service.Alerts(level, source, limit)
	if err != nil {
		status, code, msg := mapDomainError(err)
		writeError(w, status, code, msg)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

func (h *Handler) metricNames(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{"metrics": h.service.MetricNames()})
}

func (h *Handler) metricSummary(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	summary, err := h.service.MetricSummary(name)
	if err != nil {
		status, code, msg := mapDomainError(err)
		writeError(w, status, code, msg)
		return
	}
	writeSuccess(w, http.StatusOK, summary)
}

func (h *Handler) eventHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	events := h.service.EventHistory(r.Context(), limit)
	writeSuccess(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
