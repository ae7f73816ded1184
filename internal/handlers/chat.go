package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/watchroom/backend/internal/middleware"
	"github.com/watchroom/backend/internal/models"
	"github.com/watchroom/backend/internal/session"
)

const maxChatMessageLength = 500

// ChatHandler serves session-scoped live chat.
type ChatHandler struct {
	store  *session.Store
	engine *session.Engine
}

// NewChatHandler creates a ChatHandler over the given store and engine.
func NewChatHandler(store *session.Store, engine *session.Engine) *ChatHandler {
	return &ChatHandler{store: store, engine: engine}
}

// Send appends a chat message and broadcasts it on the session topic. The
// sender identity comes from the JWT claims, never the request body.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	claims := middleware.GetClaims(r.Context())

	var req models.SendChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" || len(message) > maxChatMessageLength {
		writeError(w, http.StatusBadRequest, "message must be 1-500 characters")
		return
	}

	msg := session.ChatMessage{
		UserID:        claims.UserID,
		From:          claims.Name,
		ChatNameColor: claims.ChatNameColor,
		Message:       message,
		SentAt:        time.Now().UTC(),
	}
	if err := h.engine.AppendChat(r.Context(), sessionID, msg); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// History returns the retained chat window for late joiners, oldest first.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	claims := middleware.GetClaims(r.Context())

	if !h.store.IsMember(sessionID, claims.UserID) {
		if _, err := h.store.Get(sessionID); err != nil {
			writeDomainError(r.Context(), w, err)
			return
		}
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	history, err := h.store.ChatHistory(sessionID)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	resp := make([]models.ChatMessageResponse, len(history))
	for i, msg := range history {
		resp[i] = models.ChatMessageResponse{
			UserID:        msg.UserID,
			From:          msg.From,
			ChatNameColor: msg.ChatNameColor,
			Message:       msg.Message,
			SentAt:        msg.SentAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
