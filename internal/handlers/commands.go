package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/watchroom/backend/internal/middleware"
	"github.com/watchroom/backend/internal/models"
	"github.com/watchroom/backend/internal/session"
)

// CommandHandler accepts playback and playlist commands and submits them to
// the convergence engine. Responses carry only acceptance; resulting state
// reaches clients over the session's broadcast topic.
type CommandHandler struct {
	engine *session.Engine
}

// NewCommandHandler creates a CommandHandler over the given engine.
func NewCommandHandler(engine *session.Engine) *CommandHandler {
	return &CommandHandler{engine: engine}
}

// SyncState applies a seek and/or phase change. A request may carry either
// field or both; each field is submitted as its own command, seek first.
// Both are last-write-wins registers, so ordering between them is free.
func (h *CommandHandler) SyncState(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	claims := middleware.GetClaims(r.Context())

	var req models.SyncStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.State == nil && req.Time == nil {
		writeError(w, http.StatusBadRequest, "state or time is required")
		return
	}

	if req.Time != nil {
		allowSeekAhead := true
		if req.AllowSeekAhead != nil {
			allowSeekAhead = *req.AllowSeekAhead
		}
		cmd := session.Command{
			Kind:           session.CmdSeek,
			Time:           *req.Time,
			AllowSeekAhead: allowSeekAhead,
		}
		if err := h.engine.Apply(r.Context(), sessionID, claims.UserID, cmd); err != nil {
			writeDomainError(r.Context(), w, err)
			return
		}
	}

	if req.State != nil {
		cmd := session.Command{
			Kind:  session.CmdSetPhase,
			Phase: session.Phase(*req.State),
		}
		if err := h.engine.Apply(r.Context(), sessionID, claims.UserID, cmd); err != nil {
			writeDomainError(r.Context(), w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SyncPlaylistState aligns index and position together, used when a client
// reports where it actually is after a playlist transition.
func (h *CommandHandler) SyncPlaylistState(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	claims := middleware.GetClaims(r.Context())

	var req models.SyncPlaylistStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cmd := session.Command{
		Kind:        session.CmdPlaylistSync,
		TargetIndex: req.CurrentIndex,
		Time:        req.Time,
	}
	if err := h.engine.Apply(r.Context(), sessionID, claims.UserID, cmd); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SwitchVideo requests a playlist navigation. A switch that lost its race
// against a concurrent navigation is still a 200: the caller converges on
// the broadcast state like everyone else.
func (h *CommandHandler) SwitchVideo(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	claims := middleware.GetClaims(r.Context())

	var req models.SwitchVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cmd := session.Command{
		Kind:        session.CmdSwitchPlaylistIndex,
		Action:      session.SwitchAction(req.Action),
		TargetIndex: req.TargetIndex,
	}
	if err := h.engine.Apply(r.Context(), sessionID, claims.UserID, cmd); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// QueueVideo appends a video to the session's playlist.
func (h *CommandHandler) QueueVideo(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	claims := middleware.GetClaims(r.Context())

	var req models.QueueVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cmd := session.Command{
		Kind:     session.CmdAddToQueue,
		VideoRef: req.VideoRef,
	}
	if err := h.engine.Apply(r.Context(), sessionID, claims.UserID, cmd); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
