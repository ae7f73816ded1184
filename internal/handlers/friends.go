package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/watchroom/backend/internal/db"
	"github.com/watchroom/backend/internal/ledger"
	"github.com/watchroom/backend/internal/middleware"
	"github.com/watchroom/backend/internal/models"
)

// FriendHandler serves the friendship lifecycle: requests, responses,
// removal, and the friend list with unread counters.
type FriendHandler struct {
	ledger *ledger.Ledger
}

// NewFriendHandler creates a FriendHandler over the given ledger.
func NewFriendHandler(l *ledger.Ledger) *FriendHandler {
	return &FriendHandler{ledger: l}
}

// Request sends a friend request to another user.
func (h *FriendHandler) Request(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())

	var req models.SendFriendRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	friendship, err := h.ledger.SendFriendRequest(r.Context(),
		ledger.Participant{ID: claims.UserID, Name: claims.Name},
		ledger.Participant{ID: req.ReceiverID, Name: req.ReceiverName})
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusCreated, friendshipResponse(friendship))
}

// Accept accepts a pending request the caller received. The response
// carries the newly assigned chat id.
func (h *FriendHandler) Accept(w http.ResponseWriter, r *http.Request) {
	senderID := chi.URLParam(r, "senderId")
	claims := middleware.GetClaims(r.Context())

	friendship, err := h.ledger.AcceptFriendRequest(r.Context(), claims.UserID, senderID)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, friendshipResponse(friendship))
}

// Decline declines a pending request the caller received.
func (h *FriendHandler) Decline(w http.ResponseWriter, r *http.Request) {
	senderID := chi.URLParam(r, "senderId")
	claims := middleware.GetClaims(r.Context())

	if err := h.ledger.DeclineFriendRequest(r.Context(), claims.UserID, senderID); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Remove deletes the friendship between the caller and another user.
func (h *FriendHandler) Remove(w http.ResponseWriter, r *http.Request) {
	friendID := chi.URLParam(r, "friendId")
	claims := middleware.GetClaims(r.Context())

	if err := h.ledger.RemoveFriend(r.Context(), claims.UserID, friendID); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// List returns the caller's accepted friends with each chat's latest
// message and unread count. The optional name query narrows by counterpart
// name.
func (h *FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())

	summaries, err := h.ledger.FriendList(r.Context(), claims.UserID, r.URL.Query().Get("name"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	resp := make([]models.FriendSummaryResponse, len(summaries))
	for i, s := range summaries {
		entry := models.FriendSummaryResponse{
			FriendID:    s.CounterpartID(claims.UserID),
			FriendName:  s.CounterpartName(claims.UserID),
			Status:      s.Friendship.Status,
			UnreadCount: s.UnreadCount,
		}
		if s.Friendship.ChatID.Valid {
			entry.ChatID = s.Friendship.ChatID.String
		}
		if s.LatestMessage != nil {
			latest := directMessageResponse(*s.LatestMessage)
			entry.LatestMessage = &latest
		}
		resp[i] = entry
	}
	writeJSON(w, http.StatusOK, resp)
}

// Pending returns the requests awaiting the caller's response.
func (h *FriendHandler) Pending(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())

	pending, err := h.ledger.PendingRequests(r.Context(), claims.UserID)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	resp := make([]models.FriendshipResponse, len(pending))
	for i, f := range pending {
		resp[i] = friendshipResponse(f)
	}
	writeJSON(w, http.StatusOK, resp)
}

func friendshipResponse(f db.Friendship) models.FriendshipResponse {
	resp := models.FriendshipResponse{
		ID:           f.ID,
		SenderID:     f.SenderID,
		ReceiverID:   f.ReceiverID,
		SenderName:   f.SenderName,
		ReceiverName: f.ReceiverName,
		Status:       f.Status,
		CreatedAt:    f.CreatedAt,
	}
	if f.ChatID.Valid {
		resp.ChatID = f.ChatID.String
	}
	if f.RespondedAt.Valid {
		t := f.RespondedAt.Time
		resp.RespondedAt = &t
	}
	return resp
}
