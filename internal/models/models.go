// Package models defines the JSON request and response shapes of the HTTP
// API. All server errors share ErrorResponse.
package models

import "time"

// Session management
type CreateSessionRequest struct {
	VideoRef string `json:"videoRef"`
	Public   bool   `json:"public"`
}

type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
	JoinToken string `json:"joinToken"`
}

type JoinSessionRequest struct {
	JoinToken string `json:"joinToken"`
}

type SessionResponse struct {
	SessionID      string    `json:"sessionId"`
	HostID         string    `json:"hostId"`
	Playlist       []string  `json:"playlist"`
	CurrentIndex   int       `json:"currentIndex"`
	CurrentVideo   string    `json:"currentVideo,omitempty"`
	State          int       `json:"state"`
	Position       float64   `json:"position"`
	AllowSeekAhead bool      `json:"allowSeekAhead"`
	Public         bool      `json:"public"`
	IsHost         bool      `json:"isHost"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Playback commands
type SyncStateRequest struct {
	State *int     `json:"state,omitempty"`
	Time  *float64 `json:"time,omitempty"`
	// AllowSeekAhead defaults to true when omitted, matching player seeks.
	AllowSeekAhead *bool `json:"allowSeekAhead,omitempty"`
}

type SyncPlaylistStateRequest struct {
	CurrentIndex int     `json:"currentIndex"`
	Time         float64 `json:"time"`
}

type SwitchVideoRequest struct {
	Action      string `json:"action"` // "next" or "prev"
	TargetIndex int    `json:"targetIndex"`
}

type QueueVideoRequest struct {
	VideoRef string `json:"videoRef"`
}

// Session chat
type SendChatMessageRequest struct {
	Message string `json:"message"`
}

type ChatMessageResponse struct {
	UserID        string    `json:"userId"`
	From          string    `json:"from"`
	ChatNameColor string    `json:"chatNameColor"`
	Message       string    `json:"message"`
	SentAt        time.Time `json:"sentAt"`
}

// Direct messages
type SendDirectMessageRequest struct {
	Message string `json:"message"`
}

type DirectMessageResponse struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chatId"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Message    string    `json:"message"`
	IsRead     bool      `json:"isRead"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Friendships
type SendFriendRequestRequest struct {
	ReceiverID   string `json:"receiverId"`
	ReceiverName string `json:"receiverName"`
}

type FriendshipResponse struct {
	ID           string     `json:"id"`
	SenderID     string     `json:"senderId"`
	ReceiverID   string     `json:"receiverId"`
	SenderName   string     `json:"senderName"`
	ReceiverName string     `json:"receiverName"`
	Status       string     `json:"status"`
	ChatID       string     `json:"chatId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	RespondedAt  *time.Time `json:"respondedAt,omitempty"`
}

type FriendSummaryResponse struct {
	FriendID      string                 `json:"friendId"`
	FriendName    string                 `json:"friendName"`
	ChatID        string                 `json:"chatId,omitempty"`
	Status        string                 `json:"status"`
	UnreadCount   int64                  `json:"unreadCount"`
	LatestMessage *DirectMessageResponse `json:"latestMessage,omitempty"`
}

// Error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
