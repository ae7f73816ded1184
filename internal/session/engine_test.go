package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/watchroom/backend/internal/broker"
	"github.com/watchroom/backend/internal/events"
)

// capturingPublisher records published envelopes per topic in emit order.
type capturingPublisher struct {
	mu     sync.Mutex
	topics map[string][]events.Envelope
}

func newCapturingPublisher() *capturingPublisher {
	return &capturingPublisher{topics: make(map[string][]events.Envelope)}
}

func (p *capturingPublisher) Publish(topic string, ev events.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics[topic] = append(p.topics[topic], ev)
}

func (p *capturingPublisher) published(topic string) []events.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Envelope, len(p.topics[topic]))
	copy(out, p.topics[topic])
	return out
}

// idValidator accepts any non-empty ref that does not start with "bad".
type idValidator struct{}

func (idValidator) ValidateRef(ref string) (string, error) {
	if ref == "" || strings.HasPrefix(ref, "bad") {
		return "", errors.New("unrecognized video reference")
	}
	return ref, nil
}

func newTestEngine(t *testing.T) (*Engine, *Store, *capturingPublisher) {
	t.Helper()
	store := NewStore()
	pub := newCapturingPublisher()
	eng := NewEngine(store, pub, idValidator{})
	t.Cleanup(eng.Shutdown)
	return eng, store, pub
}

func createSession(t *testing.T, store *Store, sessionID, hostID, videoRef string) {
	t.Helper()
	if _, err := store.Create(sessionID, hostID, "token-"+sessionID, videoRef, false); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

func lastState(t *testing.T, pub *capturingPublisher, sessionID string) events.SessionStatePayload {
	t.Helper()
	evs := pub.published(broker.SessionTopic(sessionID))
	if len(evs) == 0 {
		t.Fatal("no events published")
	}
	last := evs[len(evs)-1]
	if last.Name != events.NameSessionState {
		t.Fatalf("last event = %q, want %q", last.Name, events.NameSessionState)
	}
	var payload events.SessionStatePayload
	if err := json.Unmarshal(last.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return payload
}

func TestSeekAndPhaseLastWriteWins(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	createSession(t, store, "s1", "host", "vid00000001")
	ctx := context.Background()

	cmds := []Command{
		{Kind: CmdSeek, Time: 10},
		{Kind: CmdSetPhase, Phase: PhasePlaying},
		{Kind: CmdSeek, Time: 95.5, AllowSeekAhead: true},
		{Kind: CmdSetPhase, Phase: PhasePaused},
	}
	for i, cmd := range cmds {
		if err := eng.Apply(ctx, "s1", "host", cmd); err != nil {
			t.Fatalf("Apply(cmd %d) error = %v", i, err)
		}
	}

	snap, err := store.Get("s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	// State equals applying only the final seek and final phase command.
	if snap.Position != 95.5 {
		t.Errorf("Position = %v, want 95.5", snap.Position)
	}
	if !snap.AllowSeekAhead {
		t.Error("AllowSeekAhead = false, want true")
	}
	if snap.Phase != PhasePaused {
		t.Errorf("Phase = %v, want PhasePaused", snap.Phase)
	}
}

func TestPlaylistSwitchDirectionRule(t *testing.T) {
	tests := []struct {
		name        string
		action      SwitchAction
		targetIndex int
		startIndex  int
		wantIndex   int
		wantEvent   bool
	}{
		{"next forward accepted", SwitchNext, 1, 0, 1, true},
		{"next stale discarded", SwitchNext, 1, 1, 1, false},
		{"next backwards discarded", SwitchNext, 0, 1, 1, false},
		{"prev backward accepted", SwitchPrev, 0, 1, 0, true},
		{"prev stale discarded", SwitchPrev, 1, 1, 1, false},
		{"prev forwards discarded", SwitchPrev, 2, 1, 1, false},
		{"tie discarded for both directions", SwitchNext, 1, 1, 1, false},
		{"out of range discarded", SwitchNext, 9, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, store, pub := newTestEngine(t)
			createSession(t, store, "s1", "host", "vid00000001")
			ctx := context.Background()

			// Grow the playlist to three entries, then walk to the start
			// index with PlaylistSync.
			for _, ref := range []string{"vid00000002", "vid00000003"} {
				if err := eng.Apply(ctx, "s1", "host", Command{Kind: CmdAddToQueue, VideoRef: ref}); err != nil {
					t.Fatalf("AddToQueue error = %v", err)
				}
			}
			if err := eng.Apply(ctx, "s1", "host", Command{Kind: CmdPlaylistSync, TargetIndex: tt.startIndex}); err != nil {
				t.Fatalf("PlaylistSync error = %v", err)
			}
			before := len(pub.published(broker.SessionTopic("s1")))

			err := eng.Apply(ctx, "s1", "host", Command{
				Kind:        CmdSwitchPlaylistIndex,
				Action:      tt.action,
				TargetIndex: tt.targetIndex,
			})
			if err != nil {
				t.Fatalf("Apply(switch) error = %v; stale switches must be silent", err)
			}

			snap, _ := store.Get("s1")
			if snap.CurrentIndex != tt.wantIndex {
				t.Errorf("CurrentIndex = %d, want %d", snap.CurrentIndex, tt.wantIndex)
			}

			after := len(pub.published(broker.SessionTopic("s1")))
			if gotEvent := after > before; gotEvent != tt.wantEvent {
				t.Errorf("event emitted = %v, want %v", gotEvent, tt.wantEvent)
			}
		})
	}
}

func TestQueueThenSwitchScenario(t *testing.T) {
	eng, store, pub := newTestEngine(t)
	createSession(t, store, "s1", "host", "vid00000001")
	ctx := context.Background()

	if err := eng.Apply(ctx, "s1", "host", Command{Kind: CmdAddToQueue, VideoRef: "vid00000002"}); err != nil {
		t.Fatalf("AddToQueue error = %v", err)
	}
	if err := eng.Apply(ctx, "s1", "host", Command{Kind: CmdSwitchPlaylistIndex, Action: SwitchNext, TargetIndex: 1}); err != nil {
		t.Fatalf("Switch error = %v", err)
	}

	snap, _ := store.Get("s1")
	if len(snap.Playlist) != 2 || snap.Playlist[0] != "vid00000001" || snap.Playlist[1] != "vid00000002" {
		t.Errorf("Playlist = %v, want [vid00000001 vid00000002]", snap.Playlist)
	}
	if snap.CurrentIndex != 1 {
		t.Errorf("CurrentIndex = %d, want 1", snap.CurrentIndex)
	}

	// A late duplicate of the same switch is a no-op with no event.
	before := len(pub.published(broker.SessionTopic("s1")))
	if err := eng.Apply(ctx, "s1", "host", Command{Kind: CmdSwitchPlaylistIndex, Action: SwitchNext, TargetIndex: 1}); err != nil {
		t.Fatalf("late Switch error = %v", err)
	}
	snap, _ = store.Get("s1")
	if snap.CurrentIndex != 1 {
		t.Errorf("CurrentIndex after late switch = %d, want 1", snap.CurrentIndex)
	}
	if after := len(pub.published(broker.SessionTopic("s1"))); after != before {
		t.Errorf("late switch emitted an event; published %d -> %d", before, after)
	}
}

func TestQueueAllowsDuplicates(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	createSession(t, store, "s1", "host", "vid00000001")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := eng.Apply(ctx, "s1", "host", Command{Kind: CmdAddToQueue, VideoRef: "vid00000002"}); err != nil {
			t.Fatalf("AddToQueue error = %v", err)
		}
	}

	snap, _ := store.Get("s1")
	if len(snap.Playlist) != 3 {
		t.Errorf("Playlist length = %d, want 3 (duplicates permitted)", len(snap.Playlist))
	}
}

func TestInvalidCommandsNeverMutateState(t *testing.T) {
	eng, store, pub := newTestEngine(t)
	createSession(t, store, "s1", "host", "vid00000001")
	ctx := context.Background()
	before, _ := store.Get("s1")

	tests := []struct {
		name string
		cmd  Command
	}{
		{"negative seek", Command{Kind: CmdSeek, Time: -1}},
		{"unknown phase", Command{Kind: CmdSetPhase, Phase: Phase(42)}},
		{"bad switch action", Command{Kind: CmdSwitchPlaylistIndex, Action: "sideways", TargetIndex: 1}},
		{"empty video ref", Command{Kind: CmdAddToQueue}},
		{"unrecognized video ref", Command{Kind: CmdAddToQueue, VideoRef: "bad-ref"}},
		{"zero kind", Command{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eng.Apply(ctx, "s1", "host", tt.cmd)
			if !errors.Is(err, ErrInvalidCommand) {
				t.Fatalf("Apply() error = %v, want ErrInvalidCommand", err)
			}
		})
	}

	after, _ := store.Get("s1")
	if after.Position != before.Position || after.Phase != before.Phase || len(after.Playlist) != len(before.Playlist) {
		t.Error("invalid commands mutated session state")
	}
	if n := len(pub.published(broker.SessionTopic("s1"))); n != 0 {
		t.Errorf("invalid commands emitted %d events, want 0", n)
	}
}

func TestNonMemberCommandForbidden(t *testing.T) {
	eng, store, pub := newTestEngine(t)
	createSession(t, store, "s1", "host", "vid00000001")
	ctx := context.Background()

	if _, err := store.Join("s1", "alice"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if _, err := store.Join("s1", "bob"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	err := eng.Apply(ctx, "s1", "mallory", Command{Kind: CmdSetPhase, Phase: PhasePlaying})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("Apply() by non-member error = %v, want ErrForbidden", err)
	}
	if n := len(pub.published(broker.SessionTopic("s1"))); n != 0 {
		t.Errorf("forbidden command emitted %d events, want 0", n)
	}

	if err := eng.Apply(ctx, "s1", "alice", Command{Kind: CmdSetPhase, Phase: PhasePlaying}); err != nil {
		t.Errorf("Apply() by member error = %v", err)
	}
}

func TestUnknownSessionNotFound(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	err := eng.Apply(context.Background(), "nope", "host", Command{Kind: CmdSetPhase, Phase: PhasePlaying})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Apply() error = %v, want ErrNotFound", err)
	}
}

func TestEventsCarryFullStateInEmitOrder(t *testing.T) {
	eng, store, pub := newTestEngine(t)
	createSession(t, store, "s1", "host", "vid00000001")
	ctx := context.Background()

	if err := eng.Apply(ctx, "s1", "host", Command{Kind: CmdSeek, Time: 30}); err != nil {
		t.Fatalf("Seek error = %v", err)
	}
	if err := eng.Apply(ctx, "s1", "host", Command{Kind: CmdSetPhase, Phase: PhasePaused}); err != nil {
		t.Fatalf("SetPhase error = %v", err)
	}

	evs := pub.published(broker.SessionTopic("s1"))
	if len(evs) != 2 {
		t.Fatalf("published %d events, want 2", len(evs))
	}

	var first, second events.SessionStatePayload
	if err := json.Unmarshal(evs[0].Data, &first); err != nil {
		t.Fatalf("unmarshal first: %v", err)
	}
	if err := json.Unmarshal(evs[1].Data, &second); err != nil {
		t.Fatalf("unmarshal second: %v", err)
	}

	// E1 is the seek: position moved, phase still unstarted.
	if first.SeekTo.Seconds != 30 || first.State != int(PhaseUnstarted) {
		t.Errorf("first event = %+v, want seek 30 at phase unstarted", first)
	}
	// E2 is the pause and still carries the seek's full effect.
	if second.State != int(PhasePaused) || second.SeekTo.Seconds != 30 {
		t.Errorf("second event = %+v, want paused with position 30", second)
	}
	if len(second.Playlist) != 1 || second.CurrentIndex != 0 {
		t.Errorf("second event missing full playlist state: %+v", second)
	}
}

func TestSessionsApplyIndependently(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	createSession(t, store, "s1", "host", "vid00000001")
	createSession(t, store, "s2", "host", "vid00000002")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := "s1"
			if n%2 == 0 {
				id = "s2"
			}
			if err := eng.Apply(ctx, id, "host", Command{Kind: CmdSeek, Time: float64(n)}); err != nil {
				t.Errorf("Apply() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	for _, id := range []string{"s1", "s2"} {
		if _, err := store.Get(id); err != nil {
			t.Errorf("Get(%s) error = %v", id, err)
		}
	}
}

func TestChatSharesEmitOrderAndBoundsHistory(t *testing.T) {
	eng, store, pub := newTestEngine(t)
	createSession(t, store, "s1", "host", "vid00000001")
	ctx := context.Background()

	for i := 0; i < ChatHistoryLimit+10; i++ {
		msg := ChatMessage{
			UserID:        "host",
			From:          "Host",
			ChatNameColor: "#ff0000",
			Message:       "hello",
			SentAt:        time.Now().UTC(),
		}
		if err := eng.AppendChat(ctx, "s1", msg); err != nil {
			t.Fatalf("AppendChat(%d) error = %v", i, err)
		}
	}

	history, err := store.ChatHistory("s1")
	if err != nil {
		t.Fatalf("ChatHistory() error = %v", err)
	}
	if len(history) != ChatHistoryLimit {
		t.Errorf("history length = %d, want %d", len(history), ChatHistoryLimit)
	}

	evs := pub.published(broker.SessionTopic("s1"))
	if len(evs) != ChatHistoryLimit+10 {
		t.Errorf("published %d chat events, want %d", len(evs), ChatHistoryLimit+10)
	}
	for _, ev := range evs {
		if ev.Name != events.NameChatMessage {
			t.Fatalf("event name = %q, want %q", ev.Name, events.NameChatMessage)
		}
	}
}

func TestChatFromNonMemberForbidden(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	createSession(t, store, "s1", "host", "vid00000001")

	err := eng.AppendChat(context.Background(), "s1", ChatMessage{UserID: "mallory", Message: "hi"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("AppendChat() error = %v, want ErrForbidden", err)
	}
}

func TestEvictStopsSessionActor(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	createSession(t, store, "s1", "host", "vid00000001")
	ctx := context.Background()

	if err := eng.Apply(ctx, "s1", "host", Command{Kind: CmdSeek, Time: 5}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if err := store.Delete("s1", "host"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	eng.Evict("s1")

	err := eng.Apply(ctx, "s1", "host", Command{Kind: CmdSeek, Time: 6})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Apply() after delete error = %v, want ErrNotFound", err)
	}
}
