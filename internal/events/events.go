// Package events defines the typed broadcast events that fan out to topic
// subscribers, and the wire names clients key their handlers on.
package events

import (
	"encoding/json"
	"time"
)

// Event names as they appear on the wire.
const (
	NameSessionState  = "video.sync"
	NameChatMessage   = "chat.message"
	NameDirectMessage = "direct-message.message"
	NameFriendship    = "friendship.notification"
)

// DriftThresholdSeconds is the protocol contract for drift suppression:
// a receiving player must only force-seek when the gap between the
// broadcast position and its local position exceeds this value.
const DriftThresholdSeconds = 3.0

// Envelope is a single broadcast unit: an event name plus its
// already-marshaled payload. Payloads are marshaled once at emit time so
// fan-out to N subscribers does not re-encode N times.
type Envelope struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// New marshals payload and wraps it in an Envelope.
func New(name string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Name: name, Data: data}, nil
}

// SeekTo mirrors the player seek instruction clients apply on sync events.
type SeekTo struct {
	Seconds        float64 `json:"seconds"`
	AllowSeekAhead bool    `json:"allowSeekAhead"`
}

// SessionStatePayload carries the full authoritative session state. Every
// accepted playback command emits the complete state rather than a delta,
// so a client that missed earlier events converges on the next one.
type SessionStatePayload struct {
	SessionID    string   `json:"sessionId"`
	State        int      `json:"state"`
	SeekTo       SeekTo   `json:"seekTo"`
	Playlist     []string `json:"playlist"`
	CurrentIndex int      `json:"currentIndex"`
}

// ChatMessagePayload is a session-scoped live chat message.
type ChatMessagePayload struct {
	SessionID     string    `json:"sessionId"`
	UserID        string    `json:"userId"`
	From          string    `json:"from"`
	ChatNameColor string    `json:"chatNameColor"`
	Message       string    `json:"message"`
	SentAt        time.Time `json:"sentAt"`
}

// DirectMessagePayload notifies both participants' private topics about a
// newly persisted direct message.
type DirectMessagePayload struct {
	MessageID  string    `json:"messageId"`
	ChatID     string    `json:"chatId"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

// FriendshipPayload notifies the counterpart of a friendship transition.
// Status is one of "pending", "accepted", "declined", or "removed"; the
// last is never stored, it only marks a deleted friendship on the wire.
type FriendshipPayload struct {
	Status     string `json:"status"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	SenderName string `json:"senderName"`
	ChatID     string `json:"chatId,omitempty"`
}
