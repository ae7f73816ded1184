package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/watchroom/backend/internal/broker"
	"github.com/watchroom/backend/internal/events"
	"github.com/watchroom/backend/internal/middleware"
	"github.com/watchroom/backend/internal/models"
	"github.com/watchroom/backend/internal/services"
	"github.com/watchroom/backend/internal/session"
	"github.com/watchroom/backend/internal/videos"
)

// testEnv wires the real store, engine, and registry the way main does,
// but with an in-process publisher so tests can observe fan-out.
type testEnv struct {
	store    *session.Store
	engine   *session.Engine
	registry *broker.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := session.NewStore()
	registry := broker.NewRegistry(store)
	publisher := broker.NewPublisher(registry)
	engine := session.NewEngine(store, publisher, videos.NewValidator())
	t.Cleanup(engine.Shutdown)
	return &testEnv{store: store, engine: engine, registry: registry}
}

func (env *testEnv) sessionHandler() *SessionHandler {
	return NewSessionHandler(env.store, env.engine, env.registry,
		services.NewJoinTokenService(env.store), videos.NewValidator())
}

// createTestRequest builds a request carrying JWT claims and chi URL params.
func createTestRequest(method, path string, body []byte, userID, name string, urlParams map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Content-Type", "application/json")

	claims := &services.Claims{UserID: userID, Name: name}
	ctx := context.WithValue(req.Context(), middleware.ClaimsKey, claims)

	rctx := chi.NewRouteContext()
	for k, v := range urlParams {
		rctx.URLParams.Add(k, v)
	}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)

	return req.WithContext(ctx)
}

const testVideoID = "dQw4w9WgXcQ"

// createSession drives the Create handler and returns the response.
func createSession(t *testing.T, env *testEnv, hostID string) models.CreateSessionResponse {
	t.Helper()
	body, _ := json.Marshal(models.CreateSessionRequest{VideoRef: testVideoID, Public: false})
	req := createTestRequest(http.MethodPost, "/api/sessions", body, hostID, "Host", nil)
	rec := httptest.NewRecorder()
	env.sessionHandler().Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp models.CreateSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding create response: %v", err)
	}
	return resp
}

func TestSessionCreateAndJoin(t *testing.T) {
	env := newTestEnv(t)
	h := env.sessionHandler()
	created := createSession(t, env, "host")

	body, _ := json.Marshal(models.JoinSessionRequest{JoinToken: created.JoinToken})
	req := createTestRequest(http.MethodPost, "/api/sessions/join", body, "viewer", "Viewer", nil)
	rec := httptest.NewRecorder()
	h.Join(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Join status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp models.SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding join response: %v", err)
	}
	if resp.SessionID != created.SessionID {
		t.Errorf("SessionID = %q, want %q", resp.SessionID, created.SessionID)
	}
	if len(resp.Playlist) != 1 || resp.Playlist[0] != testVideoID {
		t.Errorf("Playlist = %v, want [%s]", resp.Playlist, testVideoID)
	}
	if resp.IsHost {
		t.Error("viewer must not be host")
	}

	if !env.store.IsMember(created.SessionID, "viewer") {
		t.Error("join did not register membership")
	}
}

func TestSessionCreateRejectsBadVideoRef(t *testing.T) {
	env := newTestEnv(t)
	body, _ := json.Marshal(models.CreateSessionRequest{VideoRef: "not a video"})
	req := createTestRequest(http.MethodPost, "/api/sessions", body, "host", "Host", nil)
	rec := httptest.NewRecorder()
	env.sessionHandler().Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSessionJoinUnknownToken(t *testing.T) {
	env := newTestEnv(t)
	body, _ := json.Marshal(models.JoinSessionRequest{JoinToken: "no-such-token-1"})
	req := createTestRequest(http.MethodPost, "/api/sessions/join", body, "viewer", "Viewer", nil)
	rec := httptest.NewRecorder()
	env.sessionHandler().Join(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSessionDeleteHostOnly(t *testing.T) {
	env := newTestEnv(t)
	h := env.sessionHandler()
	created := createSession(t, env, "host")
	if _, err := env.store.Join(created.SessionID, "viewer"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	params := map[string]string{"id": created.SessionID}

	req := createTestRequest(http.MethodDelete, "/api/sessions/"+created.SessionID, nil, "viewer", "Viewer", params)
	rec := httptest.NewRecorder()
	h.Delete(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-host delete status = %d, want 403", rec.Code)
	}

	req = createTestRequest(http.MethodDelete, "/api/sessions/"+created.SessionID, nil, "host", "Host", params)
	rec = httptest.NewRecorder()
	h.Delete(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("host delete status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if _, err := env.store.Get(created.SessionID); err == nil {
		t.Error("session still retrievable after delete")
	}

	// The join token must not resolve once the session is gone.
	body, _ := json.Marshal(models.JoinSessionRequest{JoinToken: created.JoinToken})
	req = createTestRequest(http.MethodPost, "/api/sessions/join", body, "late", "Late", nil)
	rec = httptest.NewRecorder()
	h.Join(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("join after delete status = %d, want 404", rec.Code)
	}
}

// subscribeSession registers a test subscriber on the session topic.
func subscribeSession(t *testing.T, env *testEnv, sessionID, userID string) *broker.Subscription {
	t.Helper()
	sub, err := env.registry.Subscribe(broker.SessionTopic(sessionID), broker.Credentials{UserID: userID})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	t.Cleanup(func() { env.registry.Unsubscribe(sub) })
	return sub
}

func TestSyncStateEmitsFullState(t *testing.T) {
	env := newTestEnv(t)
	created := createSession(t, env, "host")
	sub := subscribeSession(t, env, created.SessionID, "host")

	h := NewCommandHandler(env.engine)
	seekTo := 42.5
	state := int(session.PhasePlaying)
	body, _ := json.Marshal(models.SyncStateRequest{State: &state, Time: &seekTo})
	req := createTestRequest(http.MethodPost, "/sync-state", body, "host", "Host",
		map[string]string{"id": created.SessionID})
	rec := httptest.NewRecorder()
	h.SyncState(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Seek and phase arrive as two events; the second carries both effects.
	var last events.SessionStatePayload
	for i := 0; i < 2; i++ {
		ev := <-sub.C
		if ev.Name != events.NameSessionState {
			t.Fatalf("event name = %q, want %q", ev.Name, events.NameSessionState)
		}
		if err := json.Unmarshal(ev.Data, &last); err != nil {
			t.Fatalf("decoding payload: %v", err)
		}
	}
	if last.SeekTo.Seconds != seekTo || last.State != state {
		t.Errorf("payload = %+v, want seek %v state %d", last, seekTo, state)
	}
	if len(last.Playlist) != 1 {
		t.Errorf("payload playlist = %v, want full playlist", last.Playlist)
	}
}

func TestSyncStateRequiresField(t *testing.T) {
	env := newTestEnv(t)
	created := createSession(t, env, "host")

	h := NewCommandHandler(env.engine)
	req := createTestRequest(http.MethodPost, "/sync-state", []byte(`{}`), "host", "Host",
		map[string]string{"id": created.SessionID})
	rec := httptest.NewRecorder()
	h.SyncState(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCommandsFromNonMember(t *testing.T) {
	env := newTestEnv(t)
	created := createSession(t, env, "host")

	h := NewCommandHandler(env.engine)
	seekTo := 10.0
	body, _ := json.Marshal(models.SyncStateRequest{Time: &seekTo})
	req := createTestRequest(http.MethodPost, "/sync-state", body, "stranger", "Stranger",
		map[string]string{"id": created.SessionID})
	rec := httptest.NewRecorder()
	h.SyncState(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestStaleSwitchStillReturnsOK(t *testing.T) {
	env := newTestEnv(t)
	created := createSession(t, env, "host")
	sub := subscribeSession(t, env, created.SessionID, "host")

	h := NewCommandHandler(env.engine)

	// "next" to an index not greater than current loses and is discarded.
	body, _ := json.Marshal(models.SwitchVideoRequest{Action: "next", TargetIndex: 0})
	req := createTestRequest(http.MethodPost, "/switch", body, "host", "Host",
		map[string]string{"id": created.SessionID})
	rec := httptest.NewRecorder()
	h.SwitchVideo(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	select {
	case ev := <-sub.C:
		t.Fatalf("discarded switch must not emit, got %q", ev.Name)
	default:
	}
}

func TestQueueVideoRejectsBadRef(t *testing.T) {
	env := newTestEnv(t)
	created := createSession(t, env, "host")

	h := NewCommandHandler(env.engine)
	body, _ := json.Marshal(models.QueueVideoRequest{VideoRef: "???"})
	req := createTestRequest(http.MethodPost, "/queue", body, "host", "Host",
		map[string]string{"id": created.SessionID})
	rec := httptest.NewRecorder()
	h.QueueVideo(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChatSendAndHistory(t *testing.T) {
	env := newTestEnv(t)
	created := createSession(t, env, "host")
	sub := subscribeSession(t, env, created.SessionID, "host")

	h := NewChatHandler(env.store, env.engine)
	params := map[string]string{"id": created.SessionID}

	body, _ := json.Marshal(models.SendChatMessageRequest{Message: "hello room"})
	req := createTestRequest(http.MethodPost, "/chat", body, "host", "Host", params)
	rec := httptest.NewRecorder()
	h.Send(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Send status = %d, body = %s", rec.Code, rec.Body.String())
	}

	ev := <-sub.C
	if ev.Name != events.NameChatMessage {
		t.Errorf("event name = %q, want %q", ev.Name, events.NameChatMessage)
	}
	var payload events.ChatMessagePayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if payload.From != "Host" || payload.Message != "hello room" {
		t.Errorf("payload = %+v", payload)
	}

	req = createTestRequest(http.MethodGet, "/chat", nil, "host", "Host", params)
	rec = httptest.NewRecorder()
	h.History(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("History status = %d", rec.Code)
	}
	var history []models.ChatMessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	if len(history) != 1 || history[0].Message != "hello room" {
		t.Errorf("history = %+v", history)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	env := newTestEnv(t)
	created := createSession(t, env, "host")

	h := NewChatHandler(env.store, env.engine)
	body, _ := json.Marshal(models.SendChatMessageRequest{Message: "   "})
	req := createTestRequest(http.MethodPost, "/chat", body, "host", "Host",
		map[string]string{"id": created.SessionID})
	rec := httptest.NewRecorder()
	h.Send(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChatHistoryNonMember(t *testing.T) {
	env := newTestEnv(t)
	created := createSession(t, env, "host")

	h := NewChatHandler(env.store, env.engine)
	req := createTestRequest(http.MethodGet, "/chat", nil, "stranger", "Stranger",
		map[string]string{"id": created.SessionID})
	rec := httptest.NewRecorder()
	h.History(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestLeaveStopsEventDelivery(t *testing.T) {
	env := newTestEnv(t)
	h := env.sessionHandler()
	created := createSession(t, env, "host")
	if _, err := env.store.Join(created.SessionID, "viewer"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	sub := subscribeSession(t, env, created.SessionID, "viewer")

	req := createTestRequest(http.MethodPost, "/api/sessions/"+created.SessionID+"/leave", nil,
		"viewer", "Viewer", map[string]string{"id": created.SessionID})
	rec := httptest.NewRecorder()
	h.Leave(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Leave status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if env.store.IsMember(created.SessionID, "viewer") {
		t.Error("viewer still a member after leave")
	}
	if _, ok := <-sub.C; ok {
		t.Fatal("viewer's subscription still open after leave")
	}

	// Events published after the leave reach no former member.
	if err := env.engine.Apply(context.Background(), created.SessionID, "host",
		session.Command{Kind: session.CmdSeek, Time: 7, AllowSeekAhead: true}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if subs := env.registry.SubscribersOf(broker.SessionTopic(created.SessionID)); len(subs) != 0 {
		t.Errorf("topic has %d subscribers after leave, want 0", len(subs))
	}
}

func TestStreamSessionUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	created := createSession(t, env, "host")

	h := NewSSEHandler(env.registry)
	req := createTestRequest(http.MethodGet, "/stream", nil, "stranger", "Stranger",
		map[string]string{"id": created.SessionID})
	rec := httptest.NewRecorder()
	h.StreamSession(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestStreamSessionDeliversEvents(t *testing.T) {
	env := newTestEnv(t)
	created := createSession(t, env, "host")

	h := NewSSEHandler(env.registry)
	req := createTestRequest(http.MethodGet, "/stream", nil, "host", "Host",
		map[string]string{"id": created.SessionID})
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)

	rec := newSafeRecorder()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.StreamSession(rec, req)
	}()

	// Wait for the subscription to land, then drive one command through.
	waitFor(t, func() bool {
		return len(env.registry.SubscribersOf(broker.SessionTopic(created.SessionID))) == 1
	})
	if err := env.engine.Apply(context.Background(), created.SessionID, "host",
		session.Command{Kind: session.CmdSeek, Time: 12, AllowSeekAhead: true}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	waitFor(t, func() bool {
		return bytes.Contains(rec.snapshot(), []byte("event: "+events.NameSessionState))
	})
	cancel()
	wg.Wait()

	out := rec.snapshot()
	if !bytes.Contains(out, []byte("event: connected")) {
		t.Errorf("missing connected preamble in %q", out)
	}
	if !bytes.Contains(out, []byte(`"seconds":12`)) {
		t.Errorf("missing seek payload in %q", out)
	}
}

// safeRecorder is a ResponseWriter usable from a streaming handler goroutine
// while the test inspects what has been written so far.
type safeRecorder struct {
	mu     sync.Mutex
	header http.Header
	code   int
	buf    bytes.Buffer
}

func newSafeRecorder() *safeRecorder {
	return &safeRecorder{header: make(http.Header), code: http.StatusOK}
}

func (r *safeRecorder) Header() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header
}

func (r *safeRecorder) WriteHeader(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.code = code
}

func (r *safeRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *safeRecorder) Flush() {}

func (r *safeRecorder) snapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, r.buf.Len())
	copy(out, r.buf.Bytes())
	return out
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
