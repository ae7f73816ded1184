// Package db is the query layer over the sqlite database. Queries wraps
// database/sql with one method per statement, mirroring how the rest of
// the codebase consumes persisted direct messages and friendships.
package db

import (
	"database/sql"
	"time"
)

// Friendship status values. A pair of users has at most one relationship
// row; pending is the only non-terminal state.
const (
	FriendshipPending  = "pending"
	FriendshipAccepted = "accepted"
	FriendshipDeclined = "declined"
)

// Friendship is one relationship row keyed by the (sender, receiver)
// direction the request was sent in. Display names are snapshotted at
// request time; user records live outside this service.
type Friendship struct {
	ID           string
	SenderID     string
	ReceiverID   string
	SenderName   string
	ReceiverName string
	Status       string
	ChatID       sql.NullString
	CreatedAt    time.Time
	RespondedAt  sql.NullTime
}

// DirectMessage is one persisted message within a chat. The read flag only
// ever transitions unread -> read.
type DirectMessage struct {
	ID         string
	ChatID     string
	SenderID   string
	ReceiverID string
	Message    string
	IsRead     bool
	CreatedAt  time.Time
}
