package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/watchroom/backend/internal/db"
	"github.com/watchroom/backend/internal/ledger"
	"github.com/watchroom/backend/internal/middleware"
	"github.com/watchroom/backend/internal/models"
)

// DirectMessageHandler serves persisted one-to-one chats between friends.
type DirectMessageHandler struct {
	ledger *ledger.Ledger
}

// NewDirectMessageHandler creates a DirectMessageHandler over the given ledger.
func NewDirectMessageHandler(l *ledger.Ledger) *DirectMessageHandler {
	return &DirectMessageHandler{ledger: l}
}

// Send persists a message in the chat and notifies both participants.
func (h *DirectMessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	claims := middleware.GetClaims(r.Context())

	var req models.SendDirectMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.ledger.SendDirectMessage(r.Context(), claims.UserID, chatID, req.Message)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusCreated, directMessageResponse(msg))
}

// List returns one page of the chat's history, newest first. Query
// parameters: page (from 1) and limit.
func (h *DirectMessageHandler) List(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	claims := middleware.GetClaims(r.Context())

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := h.ledger.Messages(r.Context(), claims.UserID, chatID, page, limit)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	resp := make([]models.DirectMessageResponse, len(msgs))
	for i, msg := range msgs {
		resp[i] = directMessageResponse(msg)
	}
	writeJSON(w, http.StatusOK, resp)
}

// MarkRead flips one received message to read. Repeating the call is a
// no-op that still returns 200.
func (h *DirectMessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	claims := middleware.GetClaims(r.Context())

	if err := h.ledger.MarkRead(r.Context(), claims.UserID, messageID); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func directMessageResponse(msg db.DirectMessage) models.DirectMessageResponse {
	return models.DirectMessageResponse{
		ID:         msg.ID,
		ChatID:     msg.ChatID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Message:    msg.Message,
		IsRead:     msg.IsRead,
		CreatedAt:  msg.CreatedAt,
	}
}
