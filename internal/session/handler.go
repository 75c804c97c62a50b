package session

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Handler serves the three session endpoints mounted under
// /api/auth/<apiKey>/sessions.
type Handler struct {
	gate   *Gate
	logger *zap.Logger
}

// NewHandler creates a session Handler.
func NewHandler(gate *Gate, logger *zap.Logger) *Handler {
	return &Handler{gate: gate, logger: logger}
}

// RegisterRoutes mounts the session endpoints on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/{apiKey}/sessions", h.handleCreate)
	mux.HandleFunc("GET /api/auth/{apiKey}/sessions/{sessionId}", h.handleRefresh)
	mux.HandleFunc("DELETE /api/auth/{apiKey}/sessions/{sessionId}", h.handleRevoke)
}

// handleCreate opens a new session for the given API key.
//
//	@Summary		Create session
//	@Description	Authenticate with an API key and secret, opening a new session.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			apiKey	path		string			true	"API key"
//	@Param			request	body		createRequest	true	"API secret"
//	@Success		200		{object}	createResponse
//	@Failure		400		{object}	problemResponse
//	@Failure		401		{object}	problemResponse
//	@Router			/auth/{apiKey}/sessions [post]
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	apiKey := r.PathValue("apiKey")

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.APISecret == "" {
		writeAuthError(w, http.StatusBadRequest, "api_secret is required")
		return
	}

	sessionID, token, err := h.gate.CreateSession(r.Context(), apiKey, req.APISecret)
	if err != nil {
		if errors.Is(err, ErrUnknownAPIKey) || errors.Is(err, ErrBadSecret) {
			writeAuthError(w, http.StatusUnauthorized, "invalid api key or secret")
			return
		}
		h.logger.Error("session create error", zap.Error(err))
		writeAuthError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, createResponse{SessionID: sessionID, Token: token})
}

// handleRefresh reissues a bearer token for an existing session.
//
//	@Summary		Refresh session
//	@Description	Reissue a bearer token for an existing session.
//	@Tags			auth
//	@Produce		json
//	@Param			apiKey		path		string	true	"API key"
//	@Param			sessionId	path		string	true	"Session ID"
//	@Success		200			{object}	refreshResponse
//	@Failure		401			{object}	problemResponse
//	@Router			/auth/{apiKey}/sessions/{sessionId} [get]
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	apiKey := r.PathValue("apiKey")
	sessionID := r.PathValue("sessionId")

	token, err := h.gate.RefreshSession(r.Context(), apiKey, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeAuthError(w, http.StatusUnauthorized, "session not found")
			return
		}
		h.logger.Error("session refresh error", zap.Error(err))
		writeAuthError(w, http.StatusInternalServerError, "failed to refresh session")
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{Token: token})
}

// handleRevoke ends a session.
//
//	@Summary		Revoke session
//	@Description	End a session, invalidating any bearer tokens issued for it.
//	@Tags			auth
//	@Param			apiKey		path	string	true	"API key"
//	@Param			sessionId	path	string	true	"Session ID"
//	@Success		204	"No Content"
//	@Router			/auth/{apiKey}/sessions/{sessionId} [delete]
func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	apiKey := r.PathValue("apiKey")
	sessionID := r.PathValue("sessionId")

	h.gate.RevokeSession(r.Context(), apiKey, sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeAuthError writes an RFC 7807 problem response.
func writeAuthError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://oobe.dev/problems/auth-error",
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
