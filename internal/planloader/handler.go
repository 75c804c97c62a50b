package planloader

import (
	"encoding/json"
	"net/http"
)

// Handler exposes the plan diagnostic surface named in spec E2E-4.
type Handler struct {
	store *Store
}

// NewHandler builds a Handler reporting on store's in-force plan.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts GET /plan/version.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /plan/version", h.handleVersion)
}

type versionResponse struct {
	Version string `json:"version"`
}

func (h *Handler) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(versionResponse{Version: h.store.Version()})
}
