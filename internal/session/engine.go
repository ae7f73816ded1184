package session

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/watchroom/backend/internal/broker"
	"github.com/watchroom/backend/internal/events"
)

// mailboxDepth bounds each session's pending command queue. A full mailbox
// fails the command fast with ErrBusy instead of blocking the caller.
const mailboxDepth = 64

// Publisher is the single capability the engine needs for fan-out.
type Publisher interface {
	Publish(topic string, ev events.Envelope)
}

// RefValidator resolves a raw video reference to a recognized video
// identifier before it may be enqueued.
type RefValidator interface {
	ValidateRef(ref string) (string, error)
}

// Engine applies playback commands to session state with per-session total
// ordering. Each active session gets one actor goroutine owning its
// mutation path; different sessions run fully in parallel. Every accepted
// command emits the full resulting state to the session's topic, so any
// client that missed earlier events converges on the next one it sees.
type Engine struct {
	store     *Store
	publisher Publisher
	validator RefValidator

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
}

// actor is one session's serial mutation queue.
type actor struct {
	mailbox chan command
}

// command pairs a Command with its originator and a reply path. The reply
// carries only success/failure; resulting state reaches callers over the
// broadcast topic.
type command struct {
	userID string
	cmd    Command
	reply  chan error
}

// NewEngine creates an Engine over the given store, publisher, and video
// reference validator.
func NewEngine(store *Store, publisher Publisher, validator RefValidator) *Engine {
	return &Engine{
		store:     store,
		publisher: publisher,
		validator: validator,
		actors:    make(map[string]*actor),
	}
}

// Apply submits a command for a session and waits for it to be applied (or
// rejected). Validation and authorization failures come back to the caller
// only; they are never broadcast. Apply returns as soon as state is
// updated; fan-out completes asynchronously relative to the subscribers.
func (e *Engine) Apply(ctx context.Context, sessionID, userID string, cmd Command) error {
	// Fail fast before queueing: unknown session, non-member, malformed
	// command.
	if !e.store.IsMember(sessionID, userID) {
		if _, err := e.store.Get(sessionID); err != nil {
			return err
		}
		return ErrForbidden
	}
	if err := validate(cmd); err != nil {
		return err
	}

	env := command{userID: userID, cmd: cmd, reply: make(chan error, 1)}
	return e.submit(ctx, sessionID, env)
}

// AppendChat records a live chat message and broadcasts it on the session
// topic. Chat flows through the same per-session actor as playback
// commands, so chat and state events share one emit order.
func (e *Engine) AppendChat(ctx context.Context, sessionID string, msg ChatMessage) error {
	if !e.store.IsMember(sessionID, msg.UserID) {
		if _, err := e.store.Get(sessionID); err != nil {
			return err
		}
		return ErrForbidden
	}
	if msg.Message == "" {
		return ErrInvalidCommand
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	env := command{
		userID: msg.UserID,
		cmd:    Command{Kind: cmdChat, chat: msg},
		reply:  make(chan error, 1),
	}
	return e.submit(ctx, sessionID, env)
}

// Shutdown stops every session actor and drops pending commands.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, a := range e.actors {
		close(a.mailbox)
		delete(e.actors, id)
	}
}

// Evict stops the actor for a deleted session.
func (e *Engine) Evict(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.actors[sessionID]; ok {
		close(a.mailbox)
		delete(e.actors, sessionID)
	}
}

// submit queues a command on the session's actor, starting one if needed,
// then waits for the actor's verdict. The enqueue happens under the engine
// mutex so it can never race an Evict/Shutdown closing the mailbox.
func (e *Engine) submit(ctx context.Context, sessionID string, env command) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrNotFound
	}
	a, ok := e.actors[sessionID]
	if !ok {
		a = &actor{mailbox: make(chan command, mailboxDepth)}
		e.actors[sessionID] = a
		go e.run(sessionID, a)
	}
	select {
	case a.mailbox <- env:
		e.mu.Unlock()
	default:
		e.mu.Unlock()
		return ErrBusy
	}

	select {
	case err := <-env.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the actor loop: apply each command in arrival order, then emit.
func (e *Engine) run(sessionID string, a *actor) {
	for env := range a.mailbox {
		env.reply <- e.apply(sessionID, env)
	}
}

// apply mutates session state for one command and broadcasts the result.
// Discarded (stale) switch commands return nil without emitting anything:
// losing a navigation race is an expected outcome, not a fault.
func (e *Engine) apply(sessionID string, env command) error {
	cmd := env.cmd
	discarded := false
	var chatMsg ChatMessage

	snap, err := e.store.mutate(sessionID, func(s *Snapshot, chat *[]ChatMessage) error {
		switch cmd.Kind {
		case CmdSeek:
			s.Position = cmd.Time
			s.AllowSeekAhead = cmd.AllowSeekAhead

		case CmdSetPhase:
			s.Phase = cmd.Phase

		case CmdSwitchPlaylistIndex:
			accepted := (cmd.Action == SwitchNext && cmd.TargetIndex > s.CurrentIndex) ||
				(cmd.Action == SwitchPrev && cmd.TargetIndex < s.CurrentIndex)
			if !accepted || cmd.TargetIndex < 0 || cmd.TargetIndex >= len(s.Playlist) {
				discarded = true
				return nil
			}
			s.CurrentIndex = cmd.TargetIndex
			s.Position = 0
			s.Phase = PhasePlaying

		case CmdPlaylistSync:
			if cmd.TargetIndex < 0 || cmd.TargetIndex >= len(s.Playlist) {
				discarded = true
				return nil
			}
			s.CurrentIndex = cmd.TargetIndex
			s.Position = cmd.Time

		case CmdAddToQueue:
			id, err := e.validator.ValidateRef(cmd.VideoRef)
			if err != nil {
				return ErrInvalidCommand
			}
			// Append-only; duplicates are allowed by design of the queue.
			s.Playlist = append(s.Playlist, id)

		case cmdChat:
			chatMsg = cmd.chat
			*chat = append(*chat, chatMsg)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if discarded {
		slog.Debug("discarded stale playlist switch",
			slog.String("session_id", sessionID),
			slog.String("action", string(cmd.Action)),
			slog.Int("target_index", cmd.TargetIndex),
			slog.Int("current_index", snap.CurrentIndex))
		return nil
	}

	var ev events.Envelope
	if cmd.Kind == cmdChat {
		ev, err = events.New(events.NameChatMessage, events.ChatMessagePayload{
			SessionID:     sessionID,
			UserID:        chatMsg.UserID,
			From:          chatMsg.From,
			ChatNameColor: chatMsg.ChatNameColor,
			Message:       chatMsg.Message,
			SentAt:        chatMsg.SentAt,
		})
	} else {
		ev, err = events.New(events.NameSessionState, statePayload(snap))
	}
	if err != nil {
		return err
	}

	e.publisher.Publish(broker.SessionTopic(sessionID), ev)
	return nil
}

// statePayload converts a snapshot to the wire payload.
func statePayload(s Snapshot) events.SessionStatePayload {
	return events.SessionStatePayload{
		SessionID: s.SessionID,
		State:     int(s.Phase),
		SeekTo: events.SeekTo{
			Seconds:        s.Position,
			AllowSeekAhead: s.AllowSeekAhead,
		},
		Playlist:     s.Playlist,
		CurrentIndex: s.CurrentIndex,
	}
}

// validate rejects malformed command payloads before they reach the
// session's mailbox. Staleness is not checked here; that belongs to the
// serialized apply step where current state is authoritative.
func validate(cmd Command) error {
	switch cmd.Kind {
	case CmdSeek:
		if math.IsNaN(cmd.Time) || math.IsInf(cmd.Time, 0) || cmd.Time < 0 {
			return ErrInvalidCommand
		}
	case CmdSetPhase:
		if !validPhase(cmd.Phase) {
			return ErrInvalidCommand
		}
	case CmdSwitchPlaylistIndex:
		if cmd.Action != SwitchNext && cmd.Action != SwitchPrev {
			return ErrInvalidCommand
		}
	case CmdPlaylistSync:
		if cmd.TargetIndex < 0 || math.IsNaN(cmd.Time) || cmd.Time < 0 {
			return ErrInvalidCommand
		}
	case CmdAddToQueue:
		if cmd.VideoRef == "" {
			return ErrInvalidCommand
		}
	default:
		return ErrInvalidCommand
	}
	return nil
}
