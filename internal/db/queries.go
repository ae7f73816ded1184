package db

import (
	"context"
	"database/sql"
)

// DBTX is the subset of *sql.DB / *sql.Tx that Queries needs.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries bundles all prepared statements against the database.
type Queries struct {
	db DBTX
}

// New creates a Queries over the given database handle.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

const createDirectMessage = `
INSERT INTO direct_messages (id, chat_id, sender_id, receiver_id, message, is_read)
VALUES (?, ?, ?, ?, ?, 0)
RETURNING id, chat_id, sender_id, receiver_id, message, is_read, created_at
`

// CreateDirectMessageParams are the inputs for CreateDirectMessage.
type CreateDirectMessageParams struct {
	ID         string
	ChatID     string
	SenderID   string
	ReceiverID string
	Message    string
}

// CreateDirectMessage persists a new, unread direct message.
func (q *Queries) CreateDirectMessage(ctx context.Context, arg CreateDirectMessageParams) (DirectMessage, error) {
	row := q.db.QueryRowContext(ctx, createDirectMessage,
		arg.ID, arg.ChatID, arg.SenderID, arg.ReceiverID, arg.Message)
	var m DirectMessage
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.ReceiverID, &m.Message, &m.IsRead, &m.CreatedAt)
	return m, err
}

const listDirectMessagesByChat = `
SELECT id, chat_id, sender_id, receiver_id, message, is_read, created_at
FROM direct_messages
WHERE chat_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?
`

// ListDirectMessagesByChatParams are the inputs for ListDirectMessagesByChat.
type ListDirectMessagesByChatParams struct {
	ChatID string
	Limit  int64
	Offset int64
}

// ListDirectMessagesByChat returns one page of a chat's messages, newest
// first.
func (q *Queries) ListDirectMessagesByChat(ctx context.Context, arg ListDirectMessagesByChatParams) ([]DirectMessage, error) {
	rows, err := q.db.QueryContext(ctx, listDirectMessagesByChat, arg.ChatID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []DirectMessage
	for rows.Next() {
		var m DirectMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.ReceiverID, &m.Message, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

const getDirectMessageByID = `
SELECT id, chat_id, sender_id, receiver_id, message, is_read, created_at
FROM direct_messages
WHERE id = ?
`

// GetDirectMessageByID fetches one message by id.
func (q *Queries) GetDirectMessageByID(ctx context.Context, id string) (DirectMessage, error) {
	row := q.db.QueryRowContext(ctx, getDirectMessageByID, id)
	var m DirectMessage
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.ReceiverID, &m.Message, &m.IsRead, &m.CreatedAt)
	return m, err
}

const markDirectMessageRead = `
UPDATE direct_messages
SET is_read = 1
WHERE id = ? AND receiver_id = ?
`

// MarkDirectMessageReadParams are the inputs for MarkDirectMessageRead.
type MarkDirectMessageReadParams struct {
	ID         string
	ReceiverID string
}

// MarkDirectMessageRead flips a message's read flag. Returns the number of
// matched rows: 0 means the message doesn't exist for that receiver.
// Marking an already-read message matches and is a no-op.
func (q *Queries) MarkDirectMessageRead(ctx context.Context, arg MarkDirectMessageReadParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, markDirectMessageRead, arg.ID, arg.ReceiverID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const countUnread = `
SELECT COUNT(*)
FROM direct_messages
WHERE chat_id = ? AND receiver_id = ? AND sender_id = ? AND is_read = 0
`

// CountUnreadParams are the inputs for CountUnread.
type CountUnreadParams struct {
	ChatID     string
	ReceiverID string
	SenderID   string
}

// CountUnread derives the unread counter for one (chat, counterpart) pair
// straight from the message table; there is no second store to drift from.
func (q *Queries) CountUnread(ctx context.Context, arg CountUnreadParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, countUnread, arg.ChatID, arg.ReceiverID, arg.SenderID)
	var n int64
	err := row.Scan(&n)
	return n, err
}

const getLatestMessageByChat = `
SELECT id, chat_id, sender_id, receiver_id, message, is_read, created_at
FROM direct_messages
WHERE chat_id = ?
ORDER BY created_at DESC, id DESC
LIMIT 1
`

// GetLatestMessageByChat returns a chat's most recent message.
func (q *Queries) GetLatestMessageByChat(ctx context.Context, chatID string) (DirectMessage, error) {
	row := q.db.QueryRowContext(ctx, getLatestMessageByChat, chatID)
	var m DirectMessage
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.ReceiverID, &m.Message, &m.IsRead, &m.CreatedAt)
	return m, err
}

const createFriendship = `
INSERT INTO friendships (id, sender_id, receiver_id, sender_name, receiver_name, status)
VALUES (?, ?, ?, ?, ?, 'pending')
RETURNING id, sender_id, receiver_id, sender_name, receiver_name, status, chat_id, created_at, responded_at
`

// CreateFriendshipParams are the inputs for CreateFriendship.
type CreateFriendshipParams struct {
	ID           string
	SenderID     string
	ReceiverID   string
	SenderName   string
	ReceiverName string
}

// CreateFriendship inserts a new pending friendship request.
func (q *Queries) CreateFriendship(ctx context.Context, arg CreateFriendshipParams) (Friendship, error) {
	row := q.db.QueryRowContext(ctx, createFriendship,
		arg.ID, arg.SenderID, arg.ReceiverID, arg.SenderName, arg.ReceiverName)
	return scanFriendship(row)
}

const findFriendshipBetween = `
SELECT id, sender_id, receiver_id, sender_name, receiver_name, status, chat_id, created_at, responded_at
FROM friendships
WHERE (sender_id = ?1 AND receiver_id = ?2) OR (sender_id = ?2 AND receiver_id = ?1)
LIMIT 1
`

// FindFriendshipBetweenParams are the inputs for FindFriendshipBetween.
type FindFriendshipBetweenParams struct {
	UserA string
	UserB string
}

// FindFriendshipBetween looks up the relationship between two users in
// either direction.
func (q *Queries) FindFriendshipBetween(ctx context.Context, arg FindFriendshipBetweenParams) (Friendship, error) {
	row := q.db.QueryRowContext(ctx, findFriendshipBetween, arg.UserA, arg.UserB)
	return scanFriendship(row)
}

const getFriendshipByChatID = `
SELECT id, sender_id, receiver_id, sender_name, receiver_name, status, chat_id, created_at, responded_at
FROM friendships
WHERE chat_id = ?
`

// GetFriendshipByChatID looks up the friendship owning a chat.
func (q *Queries) GetFriendshipByChatID(ctx context.Context, chatID string) (Friendship, error) {
	row := q.db.QueryRowContext(ctx, getFriendshipByChatID, chatID)
	return scanFriendship(row)
}

const updateFriendshipStatus = `
UPDATE friendships
SET status = ?, chat_id = COALESCE(?, chat_id), responded_at = CURRENT_TIMESTAMP
WHERE sender_id = ? AND receiver_id = ? AND status = 'pending'
`

// UpdateFriendshipStatusParams are the inputs for UpdateFriendshipStatus.
// ChatID is set when a request is accepted, assigning the pair's chat.
type UpdateFriendshipStatusParams struct {
	Status     string
	ChatID     sql.NullString
	SenderID   string
	ReceiverID string
}

// UpdateFriendshipStatus transitions a pending request and returns the
// number of matched rows; 0 means no pending request exists in that
// direction.
func (q *Queries) UpdateFriendshipStatus(ctx context.Context, arg UpdateFriendshipStatusParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateFriendshipStatus,
		arg.Status, arg.ChatID, arg.SenderID, arg.ReceiverID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteFriendship = `
DELETE FROM friendships
WHERE (sender_id = ?1 AND receiver_id = ?2) OR (sender_id = ?2 AND receiver_id = ?1)
`

// DeleteFriendshipParams are the inputs for DeleteFriendship.
type DeleteFriendshipParams struct {
	UserA string
	UserB string
}

// DeleteFriendship removes the relationship between two users, whichever
// direction it was created in. Returns the number of deleted rows.
func (q *Queries) DeleteFriendship(ctx context.Context, arg DeleteFriendshipParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteFriendship, arg.UserA, arg.UserB)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listPendingForUser = `
SELECT id, sender_id, receiver_id, sender_name, receiver_name, status, chat_id, created_at, responded_at
FROM friendships
WHERE receiver_id = ? AND status = 'pending'
ORDER BY created_at DESC
`

// ListPendingForUser returns the requests awaiting the user's response.
func (q *Queries) ListPendingForUser(ctx context.Context, userID string) ([]Friendship, error) {
	return q.listFriendships(ctx, listPendingForUser, userID)
}

const listAcceptedForUser = `
SELECT id, sender_id, receiver_id, sender_name, receiver_name, status, chat_id, created_at, responded_at
FROM friendships
WHERE (sender_id = ?1 OR receiver_id = ?1) AND status = 'accepted'
ORDER BY created_at DESC
`

// ListAcceptedForUser returns the user's accepted friendships.
func (q *Queries) ListAcceptedForUser(ctx context.Context, userID string) ([]Friendship, error) {
	return q.listFriendships(ctx, listAcceptedForUser, userID)
}

const searchAcceptedForUser = `
SELECT id, sender_id, receiver_id, sender_name, receiver_name, status, chat_id, created_at, responded_at
FROM friendships
WHERE status = 'accepted'
  AND ((sender_id = ?1 AND receiver_name LIKE ?2) OR (receiver_id = ?1 AND sender_name LIKE ?2))
ORDER BY created_at DESC
`

// SearchAcceptedForUserParams are the inputs for SearchAcceptedForUser.
// NamePattern is a SQL LIKE pattern matched against the counterpart's name.
type SearchAcceptedForUserParams struct {
	UserID      string
	NamePattern string
}

// SearchAcceptedForUser returns the user's accepted friendships whose
// counterpart name matches the pattern.
func (q *Queries) SearchAcceptedForUser(ctx context.Context, arg SearchAcceptedForUserParams) ([]Friendship, error) {
	return q.listFriendships(ctx, searchAcceptedForUser, arg.UserID, arg.NamePattern)
}

func (q *Queries) listFriendships(ctx context.Context, query string, args ...any) ([]Friendship, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Friendship
	for rows.Next() {
		var f Friendship
		if err := rows.Scan(&f.ID, &f.SenderID, &f.ReceiverID, &f.SenderName, &f.ReceiverName,
			&f.Status, &f.ChatID, &f.CreatedAt, &f.RespondedAt); err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

func scanFriendship(row *sql.Row) (Friendship, error) {
	var f Friendship
	err := row.Scan(&f.ID, &f.SenderID, &f.ReceiverID, &f.SenderName, &f.ReceiverName,
		&f.Status, &f.ChatID, &f.CreatedAt, &f.RespondedAt)
	return f, err
}
