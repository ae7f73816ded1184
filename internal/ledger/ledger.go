// Package ledger owns the durable social layer: friendships, direct
// messages, and the unread counters derived from them. Every mutation is
// persisted first and only then announced on the participants' private
// topics, so a missed notification never loses data.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/watchroom/backend/internal/broker"
	"github.com/watchroom/backend/internal/db"
	"github.com/watchroom/backend/internal/events"
)

var (
	// ErrNotFound means the message, chat, or friendship does not exist
	// for the acting user.
	ErrNotFound = errors.New("ledger: not found")
	// ErrForbidden means the acting user is not a participant of the
	// chat or friendship they addressed.
	ErrForbidden = errors.New("ledger: forbidden")
	// ErrConflict means a friendship between the pair already exists.
	ErrConflict = errors.New("ledger: friendship already exists")
	// ErrInvalidInput means a request field failed validation.
	ErrInvalidInput = errors.New("ledger: invalid input")
)

const (
	maxMessageLength = 2000
	defaultPageSize  = 50
	maxPageSize      = 100
)

// StatusRemoved is the wire-only friendship status for a deleted
// friendship. It never appears in the database.
const StatusRemoved = "removed"

// MessageStore is the persistence surface for direct messages.
// *db.Queries satisfies it.
type MessageStore interface {
	CreateDirectMessage(ctx context.Context, arg db.CreateDirectMessageParams) (db.DirectMessage, error)
	ListDirectMessagesByChat(ctx context.Context, arg db.ListDirectMessagesByChatParams) ([]db.DirectMessage, error)
	GetDirectMessageByID(ctx context.Context, id string) (db.DirectMessage, error)
	MarkDirectMessageRead(ctx context.Context, arg db.MarkDirectMessageReadParams) (int64, error)
	CountUnread(ctx context.Context, arg db.CountUnreadParams) (int64, error)
	GetLatestMessageByChat(ctx context.Context, chatID string) (db.DirectMessage, error)
}

// FriendshipStore is the persistence surface for friendships.
// *db.Queries satisfies it.
type FriendshipStore interface {
	CreateFriendship(ctx context.Context, arg db.CreateFriendshipParams) (db.Friendship, error)
	FindFriendshipBetween(ctx context.Context, arg db.FindFriendshipBetweenParams) (db.Friendship, error)
	GetFriendshipByChatID(ctx context.Context, chatID string) (db.Friendship, error)
	UpdateFriendshipStatus(ctx context.Context, arg db.UpdateFriendshipStatusParams) (int64, error)
	DeleteFriendship(ctx context.Context, arg db.DeleteFriendshipParams) (int64, error)
	ListPendingForUser(ctx context.Context, userID string) ([]db.Friendship, error)
	ListAcceptedForUser(ctx context.Context, userID string) ([]db.Friendship, error)
	SearchAcceptedForUser(ctx context.Context, arg db.SearchAcceptedForUserParams) ([]db.Friendship, error)
}

// Publisher fans an event out to a topic's subscribers.
type Publisher interface {
	Publish(topic string, ev events.Envelope)
}

// Ledger coordinates friendship and direct-message operations.
type Ledger struct {
	messages    MessageStore
	friendships FriendshipStore
	publisher   Publisher
}

// New creates a Ledger over the given stores and publisher.
func New(messages MessageStore, friendships FriendshipStore, publisher Publisher) *Ledger {
	return &Ledger{messages: messages, friendships: friendships, publisher: publisher}
}

// FriendSummary is one entry of a user's friend list: the friendship, the
// chat's most recent message if any, and how many of the counterpart's
// messages the user has not read yet.
type FriendSummary struct {
	Friendship    db.Friendship
	LatestMessage *db.DirectMessage
	UnreadCount   int64
}

// CounterpartID returns the other participant relative to userID.
func (s FriendSummary) CounterpartID(userID string) string {
	if s.Friendship.SenderID == userID {
		return s.Friendship.ReceiverID
	}
	return s.Friendship.SenderID
}

// CounterpartName returns the other participant's name relative to userID.
func (s FriendSummary) CounterpartName(userID string) string {
	if s.Friendship.SenderID == userID {
		return s.Friendship.ReceiverName
	}
	return s.Friendship.SenderName
}

// SendDirectMessage persists a message in the chat and notifies both
// participants' direct-message topics. The sender must be a participant of
// an accepted friendship owning the chat.
func (l *Ledger) SendDirectMessage(ctx context.Context, senderID, chatID, message string) (db.DirectMessage, error) {
	message = strings.TrimSpace(message)
	if message == "" || len(message) > maxMessageLength {
		return db.DirectMessage{}, ErrInvalidInput
	}

	friendship, err := l.chatFriendship(ctx, chatID)
	if err != nil {
		return db.DirectMessage{}, err
	}
	receiverID, ok := counterpart(friendship, senderID)
	if !ok {
		return db.DirectMessage{}, ErrForbidden
	}
	if friendship.Status != db.FriendshipAccepted {
		return db.DirectMessage{}, ErrForbidden
	}

	msg, err := l.messages.CreateDirectMessage(ctx, db.CreateDirectMessageParams{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Message:    message,
	})
	if err != nil {
		return db.DirectMessage{}, fmt.Errorf("creating direct message: %w", err)
	}

	payload := events.DirectMessagePayload{
		MessageID:  msg.ID,
		ChatID:     msg.ChatID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Message:    msg.Message,
		CreatedAt:  msg.CreatedAt,
	}
	// Both sides get the event so the sender's other devices render the
	// message too.
	l.publish(events.NameDirectMessage, payload,
		broker.DirectMessageTopic(msg.ReceiverID),
		broker.DirectMessageTopic(msg.SenderID))
	return msg, nil
}

// MarkRead flips one message to read on behalf of its receiver. Marking a
// message that is already read succeeds and changes nothing; a caller who
// is not the message's receiver gets ErrForbidden.
func (l *Ledger) MarkRead(ctx context.Context, userID, messageID string) error {
	msg, err := l.messages.GetDirectMessageByID(ctx, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("loading message: %w", err)
	}
	if msg.ReceiverID != userID {
		return ErrForbidden
	}

	if _, err := l.messages.MarkDirectMessageRead(ctx, db.MarkDirectMessageReadParams{
		ID:         messageID,
		ReceiverID: userID,
	}); err != nil {
		return fmt.Errorf("marking message read: %w", err)
	}
	return nil
}

// Messages returns one page of a chat's history, newest first. Page counts
// from 1; limit is clamped to the server maximum.
func (l *Ledger) Messages(ctx context.Context, userID, chatID string, page, limit int) ([]db.DirectMessage, error) {
	friendship, err := l.chatFriendship(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if _, ok := counterpart(friendship, userID); !ok {
		return nil, ErrForbidden
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return l.messages.ListDirectMessagesByChat(ctx, db.ListDirectMessagesByChatParams{
		ChatID: chatID,
		Limit:  int64(limit),
		Offset: int64(page-1) * int64(limit),
	})
}

// Participant identifies one side of a friendship.
type Participant struct {
	ID   string
	Name string
}

// SendFriendRequest creates a pending friendship and notifies the receiver.
// A declined request between the pair is replaced; a pending or accepted
// one is a conflict.
func (l *Ledger) SendFriendRequest(ctx context.Context, sender, receiver Participant) (db.Friendship, error) {
	if sender.ID == "" || receiver.ID == "" || sender.ID == receiver.ID {
		return db.Friendship{}, ErrInvalidInput
	}

	existing, err := l.friendships.FindFriendshipBetween(ctx, db.FindFriendshipBetweenParams{
		UserA: sender.ID,
		UserB: receiver.ID,
	})
	switch {
	case err == nil:
		if existing.Status != db.FriendshipDeclined {
			return db.Friendship{}, ErrConflict
		}
		// Declined requests don't block retries.
		if _, err := l.friendships.DeleteFriendship(ctx, db.DeleteFriendshipParams{
			UserA: sender.ID,
			UserB: receiver.ID,
		}); err != nil {
			return db.Friendship{}, fmt.Errorf("replacing declined friendship: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return db.Friendship{}, fmt.Errorf("looking up friendship: %w", err)
	}

	friendship, err := l.friendships.CreateFriendship(ctx, db.CreateFriendshipParams{
		ID:           uuid.NewString(),
		SenderID:     sender.ID,
		ReceiverID:   receiver.ID,
		SenderName:   sender.Name,
		ReceiverName: receiver.Name,
	})
	if err != nil {
		return db.Friendship{}, fmt.Errorf("creating friendship: %w", err)
	}

	l.publish(events.NameFriendship, friendshipPayload(friendship),
		broker.NotificationsTopic(receiver.ID))
	return friendship, nil
}

// AcceptFriendRequest accepts a pending request addressed to receiverID,
// assigns the pair's chat, and notifies the original sender.
func (l *Ledger) AcceptFriendRequest(ctx context.Context, receiverID, senderID string) (db.Friendship, error) {
	chatID := uuid.NewString()
	n, err := l.friendships.UpdateFriendshipStatus(ctx, db.UpdateFriendshipStatusParams{
		Status:     db.FriendshipAccepted,
		ChatID:     sql.NullString{String: chatID, Valid: true},
		SenderID:   senderID,
		ReceiverID: receiverID,
	})
	if err != nil {
		return db.Friendship{}, fmt.Errorf("accepting friendship: %w", err)
	}
	if n == 0 {
		return db.Friendship{}, ErrNotFound
	}

	friendship, err := l.friendships.FindFriendshipBetween(ctx, db.FindFriendshipBetweenParams{
		UserA: senderID,
		UserB: receiverID,
	})
	if err != nil {
		return db.Friendship{}, fmt.Errorf("loading accepted friendship: %w", err)
	}

	l.publish(events.NameFriendship, friendshipPayload(friendship),
		broker.NotificationsTopic(senderID))
	return friendship, nil
}

// DeclineFriendRequest declines a pending request addressed to receiverID
// and notifies the original sender.
func (l *Ledger) DeclineFriendRequest(ctx context.Context, receiverID, senderID string) error {
	n, err := l.friendships.UpdateFriendshipStatus(ctx, db.UpdateFriendshipStatusParams{
		Status:     db.FriendshipDeclined,
		SenderID:   senderID,
		ReceiverID: receiverID,
	})
	if err != nil {
		return fmt.Errorf("declining friendship: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	l.publish(events.NameFriendship, events.FriendshipPayload{
		Status:     db.FriendshipDeclined,
		SenderID:   senderID,
		ReceiverID: receiverID,
	}, broker.NotificationsTopic(senderID))
	return nil
}

// RemoveFriend deletes the friendship between userID and otherID, whoever
// initiated it, and notifies the counterpart.
func (l *Ledger) RemoveFriend(ctx context.Context, userID, otherID string) error {
	n, err := l.friendships.DeleteFriendship(ctx, db.DeleteFriendshipParams{
		UserA: userID,
		UserB: otherID,
	})
	if err != nil {
		return fmt.Errorf("removing friendship: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	l.publish(events.NameFriendship, events.FriendshipPayload{
		Status:     StatusRemoved,
		SenderID:   userID,
		ReceiverID: otherID,
	}, broker.NotificationsTopic(otherID))
	return nil
}

// FriendList returns the user's accepted friendships with each chat's
// latest message and unread count. nameFilter, when non-empty, narrows the
// list to counterparts whose name contains it.
func (l *Ledger) FriendList(ctx context.Context, userID, nameFilter string) ([]FriendSummary, error) {
	var (
		friendships []db.Friendship
		err         error
	)
	if nameFilter = strings.TrimSpace(nameFilter); nameFilter != "" {
		friendships, err = l.friendships.SearchAcceptedForUser(ctx, db.SearchAcceptedForUserParams{
			UserID:      userID,
			NamePattern: "%" + escapeLike(nameFilter) + "%",
		})
	} else {
		friendships, err = l.friendships.ListAcceptedForUser(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("listing friendships: %w", err)
	}

	summaries := make([]FriendSummary, 0, len(friendships))
	for _, friendship := range friendships {
		summary := FriendSummary{Friendship: friendship}
		if friendship.ChatID.Valid {
			other, _ := counterpart(friendship, userID)
			latest, err := l.messages.GetLatestMessageByChat(ctx, friendship.ChatID.String)
			switch {
			case err == nil:
				summary.LatestMessage = &latest
			case !errors.Is(err, sql.ErrNoRows):
				return nil, fmt.Errorf("loading latest message: %w", err)
			}
			summary.UnreadCount, err = l.messages.CountUnread(ctx, db.CountUnreadParams{
				ChatID:     friendship.ChatID.String,
				ReceiverID: userID,
				SenderID:   other,
			})
			if err != nil {
				return nil, fmt.Errorf("counting unread: %w", err)
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// PendingRequests returns the requests awaiting the user's response.
func (l *Ledger) PendingRequests(ctx context.Context, userID string) ([]db.Friendship, error) {
	return l.friendships.ListPendingForUser(ctx, userID)
}

func (l *Ledger) chatFriendship(ctx context.Context, chatID string) (db.Friendship, error) {
	friendship, err := l.friendships.GetFriendshipByChatID(ctx, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return db.Friendship{}, ErrNotFound
	}
	if err != nil {
		return db.Friendship{}, fmt.Errorf("looking up chat: %w", err)
	}
	return friendship, nil
}

func (l *Ledger) publish(name string, payload any, topics ...string) {
	ev, err := events.New(name, payload)
	if err != nil {
		slog.Error("Failed to encode event", "event", name, "error", err)
		return
	}
	for _, topic := range topics {
		l.publisher.Publish(topic, ev)
	}
}

// counterpart returns the other participant of a friendship, and false if
// userID is not a participant at all.
func counterpart(f db.Friendship, userID string) (string, bool) {
	switch userID {
	case f.SenderID:
		return f.ReceiverID, true
	case f.ReceiverID:
		return f.SenderID, true
	default:
		return "", false
	}
}

func friendshipPayload(f db.Friendship) events.FriendshipPayload {
	payload := events.FriendshipPayload{
		Status:     f.Status,
		SenderID:   f.SenderID,
		ReceiverID: f.ReceiverID,
		SenderName: f.SenderName,
	}
	if f.ChatID.Valid {
		payload.ChatID = f.ChatID.String
	}
	return payload
}

// escapeLike strips LIKE wildcards from user input.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "%", "")
	return strings.ReplaceAll(s, "_", "")
}
