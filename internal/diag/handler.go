package diag

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Handler exposes the event log read path. Mounted under /api/debug/,
// so it passes through the same session Bearer-token gate as every
// other /api/ route (internal/session.Middleware) without this
// package needing to know anything about authentication.
type Handler struct {
	log *EventLog
}

// NewHandler builds a Handler reading from log.
func NewHandler(log *EventLog) *Handler {
	return &Handler{log: log}
}

// RegisterRoutes mounts GET /api/debug/events.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/debug/events", h.handleEvents)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	rows, err := h.log.Recent(r.Context(), topic, limit)
	if err != nil {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":   "https://oobe.dev/problems/internal-error",
			"title":  "Internal Server Error",
			"status": http.StatusInternalServerError,
			"detail": "failed to query event log",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"events": rows})
}
