package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/watchroom/backend/internal/broker"
	"github.com/watchroom/backend/internal/logging"
	"github.com/watchroom/backend/internal/middleware"
	"github.com/watchroom/backend/internal/models"
	"github.com/watchroom/backend/internal/services"
	"github.com/watchroom/backend/internal/session"
	"github.com/watchroom/backend/internal/videos"
)

// SessionHandler manages session lifecycle: creation, joining by token,
// lookups, and deletion.
type SessionHandler struct {
	store            *session.Store
	engine           *session.Engine
	registry         *broker.Registry
	joinTokenService *services.JoinTokenService
	validator        *videos.Validator
}

// NewSessionHandler creates a SessionHandler with the required dependencies.
func NewSessionHandler(store *session.Store, engine *session.Engine, registry *broker.Registry, joinTokenService *services.JoinTokenService, validator *videos.Validator) *SessionHandler {
	return &SessionHandler{
		store:            store,
		engine:           engine,
		registry:         registry,
		joinTokenService: joinTokenService,
		validator:        validator,
	}
}

// Create registers a new watch session with the caller as host. The first
// video is validated and becomes the playlist's only entry.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())

	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	videoID, err := h.validator.ValidateRef(req.VideoRef)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unrecognized video reference")
		return
	}

	joinToken, err := h.joinTokenService.Generate()
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to generate join token", err)
		return
	}

	sessionID := uuid.New().String()
	if _, err := h.store.Create(sessionID, claims.UserID, joinToken, videoID, req.Public); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusCreated, models.CreateSessionResponse{
		SessionID: sessionID,
		JoinToken: joinToken,
	})
}

// Join adds the caller to the session named by the join token and returns
// the current state for the late joiner to converge on.
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())

	var req models.JoinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.JoinToken == "" {
		writeError(w, http.StatusBadRequest, "joinToken is required")
		return
	}

	sessionID, err := h.store.ResolveJoinToken(req.JoinToken)
	if err != nil {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventBadJoinToken, "invalid join token")
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	snap, err := h.store.Join(sessionID, claims.UserID)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse(snap, claims.UserID))
}

// Get returns the session's current state. Members only.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	claims := middleware.GetClaims(r.Context())

	snap, err := h.store.Get(sessionID)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	if !h.store.IsMember(sessionID, claims.UserID) && !snap.Public {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse(snap, claims.UserID))
}

// ListMine returns the sessions the caller hosts.
func (h *SessionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())

	snaps := h.store.ListByHost(claims.UserID)
	resp := make([]models.SessionResponse, len(snaps))
	for i, snap := range snaps {
		resp[i] = sessionResponse(snap, claims.UserID)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Leave removes the caller from the session's membership and disconnects
// their live subscriptions on the session topic.
func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	claims := middleware.GetClaims(r.Context())

	h.store.Leave(sessionID, claims.UserID)
	h.registry.EvictUser(broker.SessionTopic(sessionID), claims.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Delete tears down a session: host only. All topic subscribers are
// disconnected and the session's actor is stopped.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	claims := middleware.GetClaims(r.Context())

	if err := h.store.Delete(sessionID, claims.UserID); err != nil {
		if errors.Is(err, session.ErrForbidden) {
			logging.LogSecurityEvent(r.Context(), logging.SecurityEventNonHostDelete, "non-host attempted session deletion")
		}
		writeDomainError(r.Context(), w, err)
		return
	}

	h.engine.Evict(sessionID)
	h.registry.EvictTopic(broker.SessionTopic(sessionID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionResponse converts a snapshot to its API shape.
func sessionResponse(snap session.Snapshot, userID string) models.SessionResponse {
	return models.SessionResponse{
		SessionID:      snap.SessionID,
		HostID:         snap.HostID,
		Playlist:       snap.Playlist,
		CurrentIndex:   snap.CurrentIndex,
		CurrentVideo:   snap.CurrentVideo(),
		State:          int(snap.Phase),
		Position:       snap.Position,
		AllowSeekAhead: snap.AllowSeekAhead,
		Public:         snap.Public,
		IsHost:         snap.HostID == userID,
		CreatedAt:      snap.CreatedAt,
	}
}
