// Package session holds the authoritative state of active watch sessions
// and the convergence engine that serializes playback mutations per
// session.
package session

import (
	"errors"
	"time"
)

// Sentinel errors for session operations. Handlers map these onto HTTP
// statuses; they are returned to the command originator only, never
// broadcast.
var (
	ErrNotFound         = errors.New("session not found")
	ErrDuplicateSession = errors.New("session already exists")
	ErrForbidden        = errors.New("operation not permitted")
	ErrInvalidCommand   = errors.New("invalid command")
	ErrBusy             = errors.New("session command queue is full")
)

// Phase is the playback phase, using the YouTube player state codes the
// clients already speak.
type Phase int

const (
	PhaseUnstarted Phase = -1
	PhaseEnded     Phase = 0
	PhasePlaying   Phase = 1
	PhasePaused    Phase = 2
	PhaseBuffering Phase = 3
	PhaseCued      Phase = 5
)

// validPhase reports whether p is one of the defined playback phases.
func validPhase(p Phase) bool {
	switch p {
	case PhaseUnstarted, PhaseEnded, PhasePlaying, PhasePaused, PhaseBuffering, PhaseCued:
		return true
	}
	return false
}

// ChatHistoryLimit bounds the in-memory chat history kept per session for
// late joiners. Matches the window the web client renders.
const ChatHistoryLimit = 50

// ChatMessage is a session-scoped live chat message. Chat is ephemeral:
// only the most recent ChatHistoryLimit messages are retained, and nothing
// survives session deletion.
type ChatMessage struct {
	UserID        string    `json:"userId"`
	From          string    `json:"from"`
	ChatNameColor string    `json:"chatNameColor"`
	Message       string    `json:"message"`
	SentAt        time.Time `json:"sentAt"`
}

// Snapshot is a read-only copy of one session's complete state. A snapshot
// always reflects whole commands: it is taken under the session's lock, so
// it can never show one command's partial effect.
type Snapshot struct {
	SessionID      string
	HostID         string
	Playlist       []string
	CurrentIndex   int
	Position       float64
	AllowSeekAhead bool
	Phase          Phase
	Public         bool
	Active         bool
	CreatedAt      time.Time
}

// CurrentVideo returns the playlist entry at the current index, or "" when
// the playlist is empty.
func (s Snapshot) CurrentVideo() string {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Playlist) {
		return ""
	}
	return s.Playlist[s.CurrentIndex]
}

// SwitchAction is the stated direction of a playlist switch command.
type SwitchAction string

const (
	SwitchNext SwitchAction = "next"
	SwitchPrev SwitchAction = "prev"
)

// CommandKind tags the playback command variants.
type CommandKind int

const (
	CmdSeek CommandKind = iota + 1
	CmdSetPhase
	CmdSwitchPlaylistIndex
	CmdPlaylistSync
	CmdAddToQueue

	// cmdChat is engine-internal: chat rides the same actor as playback
	// commands so both share one emit order per session.
	cmdChat
)

// Command is a playback/playlist/queue mutation. Commands for one session
// are applied strictly in arrival order at the engine; their logical
// timestamp is that arrival order.
type Command struct {
	Kind CommandKind

	// CmdSeek
	Time           float64
	AllowSeekAhead bool

	// CmdSetPhase
	Phase Phase

	// CmdSwitchPlaylistIndex, CmdPlaylistSync
	Action      SwitchAction
	TargetIndex int

	// CmdAddToQueue
	VideoRef string

	// cmdChat
	chat ChatMessage
}
