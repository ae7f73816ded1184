package session

import (
	"sync"
	"time"

	"github.com/watchroom/backend/internal/crypto"
)

// Store is the single piece of shared mutable session state. It is only
// ever mutated through the engine's serialized per-session command path;
// everything else reads torn-free snapshots.
//
// Non-public sessions are capability-addressed: they are joinable with the
// exact session id or join token and never appear in listings for anyone
// but their host.
type Store struct {
	mu         sync.Mutex
	sessions   map[string]*record
	joinTokens map[string]string // scrypt(join token) -> session id
}

// record is one session plus its viewer membership and chat history. Each
// record has its own lock so sessions never contend with each other.
type record struct {
	mu      sync.Mutex
	state   Snapshot
	members map[string]struct{}
	chat    []ChatMessage
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		sessions:   make(map[string]*record),
		joinTokens: make(map[string]string),
	}
}

// Create registers a new session owned by hostID, seeded with one video.
// Session ids are generated with enough entropy that a collision is a
// defect, so DuplicateSession is defensive, not expected.
func (st *Store) Create(sessionID, hostID, joinToken, videoRef string, public bool) (Snapshot, error) {
	tokenHash, err := crypto.HashJoinToken(joinToken)
	if err != nil {
		return Snapshot{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.sessions[sessionID]; exists {
		return Snapshot{}, ErrDuplicateSession
	}

	rec := &record{
		state: Snapshot{
			SessionID:    sessionID,
			HostID:       hostID,
			Playlist:     []string{videoRef},
			CurrentIndex: 0,
			Phase:        PhaseUnstarted,
			Public:       public,
			Active:       true,
			CreatedAt:    time.Now().UTC(),
		},
		members: map[string]struct{}{hostID: {}},
	}
	st.sessions[sessionID] = rec
	st.joinTokens[tokenHash] = sessionID
	return rec.snapshot(), nil
}

// Get returns a snapshot of an active session, or ErrNotFound when the id
// is absent or the session has ended.
func (st *Store) Get(sessionID string) (Snapshot, error) {
	rec, err := st.lookup(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.state.Active {
		return Snapshot{}, ErrNotFound
	}
	return rec.snapshotLocked(), nil
}

// ResolveJoinToken maps a shareable join token back to its session id.
func (st *Store) ResolveJoinToken(joinToken string) (string, error) {
	tokenHash, err := crypto.HashJoinToken(joinToken)
	if err != nil {
		return "", err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	sessionID, ok := st.joinTokens[tokenHash]
	if !ok {
		return "", ErrNotFound
	}
	return sessionID, nil
}

// JoinTokenExists reports whether a join token is already claimed by a
// live session.
func (st *Store) JoinTokenExists(joinToken string) bool {
	_, err := st.ResolveJoinToken(joinToken)
	return err == nil
}

// Join adds userID to the session's viewer membership and returns the
// current snapshot for the late joiner to converge on.
func (st *Store) Join(sessionID, userID string) (Snapshot, error) {
	rec, err := st.lookup(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.state.Active {
		return Snapshot{}, ErrNotFound
	}
	rec.members[userID] = struct{}{}
	return rec.snapshotLocked(), nil
}

// Leave removes userID from the session's membership. Unknown sessions and
// non-members are no-ops.
func (st *Store) Leave(sessionID, userID string) {
	rec, err := st.lookup(sessionID)
	if err != nil {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	delete(rec.members, userID)
}

// IsMember reports whether userID has joined the session. Implements
// broker.MemberChecker for session-topic authorization.
func (st *Store) IsMember(sessionID, userID string) bool {
	rec, err := st.lookup(sessionID)
	if err != nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	_, ok := rec.members[userID]
	return ok && rec.state.Active
}

// Delete removes a session. Only the host may delete; callers evict the
// session topic's subscriptions after a successful delete.
func (st *Store) Delete(sessionID, requestorID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}

	rec.mu.Lock()
	if rec.state.HostID != requestorID {
		rec.mu.Unlock()
		return ErrForbidden
	}
	rec.state.Active = false
	rec.mu.Unlock()

	delete(st.sessions, sessionID)
	for hash, id := range st.joinTokens {
		if id == sessionID {
			delete(st.joinTokens, hash)
		}
	}
	return nil
}

// ListByHost returns snapshots of the host's active sessions.
func (st *Store) ListByHost(hostID string) []Snapshot {
	st.mu.Lock()
	recs := make([]*record, 0, len(st.sessions))
	for _, rec := range st.sessions {
		recs = append(recs, rec)
	}
	st.mu.Unlock()

	var out []Snapshot
	for _, rec := range recs {
		rec.mu.Lock()
		if rec.state.Active && rec.state.HostID == hostID {
			out = append(out, rec.snapshotLocked())
		}
		rec.mu.Unlock()
	}
	return out
}

// ChatHistory returns the retained chat messages, oldest first.
func (st *Store) ChatHistory(sessionID string) ([]ChatMessage, error) {
	rec, err := st.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.state.Active {
		return nil, ErrNotFound
	}
	out := make([]ChatMessage, len(rec.chat))
	copy(out, rec.chat)
	return out, nil
}

// mutate runs fn against the session's state under its lock and returns
// the resulting snapshot. Only the engine calls this.
func (st *Store) mutate(sessionID string, fn func(*Snapshot, *[]ChatMessage) error) (Snapshot, error) {
	rec, err := st.lookup(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.state.Active {
		return Snapshot{}, ErrNotFound
	}
	if err := fn(&rec.state, &rec.chat); err != nil {
		return Snapshot{}, err
	}
	if len(rec.chat) > ChatHistoryLimit {
		rec.chat = rec.chat[len(rec.chat)-ChatHistoryLimit:]
	}
	return rec.snapshotLocked(), nil
}

func (st *Store) lookup(sessionID string) (*record, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	rec, ok := st.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (r *record) snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// snapshotLocked copies the state, including the playlist backing array so
// later queue appends cannot tear a snapshot a reader already holds.
func (r *record) snapshotLocked() Snapshot {
	s := r.state
	s.Playlist = make([]string, len(r.state.Playlist))
	copy(s.Playlist, r.state.Playlist)
	return s
}
