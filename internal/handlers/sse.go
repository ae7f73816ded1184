package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/watchroom/backend/internal/broker"
	"github.com/watchroom/backend/internal/events"
	"github.com/watchroom/backend/internal/logging"
	"github.com/watchroom/backend/internal/middleware"
)

// SSEHandler serves Server-Sent Events streams over broker topics.
type SSEHandler struct {
	registry *broker.Registry
}

// NewSSEHandler creates an SSEHandler backed by the given topic registry.
func NewSSEHandler(registry *broker.Registry) *SSEHandler {
	return &SSEHandler{registry: registry}
}

// StreamSession opens an SSE connection on a session's broadcast topic.
// Members only. Events arrive in the order the engine emitted them; each
// one carries the full session state, so a dropped event heals on the next.
func (h *SSEHandler) StreamSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	claims := middleware.GetClaims(r.Context())

	sub, err := h.registry.Subscribe(broker.SessionTopic(sessionID), broker.Credentials{UserID: claims.UserID})
	if err != nil {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventTopicUnauthorized, "unauthorized session stream")
		writeError(w, http.StatusForbidden, "access denied")
		return
	}
	defer h.registry.Unsubscribe(sub)

	h.stream(w, r, sub.C)
}

// StreamMe opens an SSE connection merging the caller's private topics:
// direct messages and friendship notifications.
func (h *SSEHandler) StreamMe(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	creds := broker.Credentials{UserID: claims.UserID}

	dmSub, err := h.registry.Subscribe(broker.DirectMessageTopic(claims.UserID), creds)
	if err != nil {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventTopicUnauthorized, "unauthorized private stream")
		writeError(w, http.StatusForbidden, "access denied")
		return
	}
	defer h.registry.Unsubscribe(dmSub)

	notifSub, err := h.registry.Subscribe(broker.NotificationsTopic(claims.UserID), creds)
	if err != nil {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventTopicUnauthorized, "unauthorized private stream")
		writeError(w, http.StatusForbidden, "access denied")
		return
	}
	defer h.registry.Unsubscribe(notifSub)

	h.stream(w, r, dmSub.C, notifSub.C)
}

// stream pumps envelopes from the subscription channels to the client until
// the connection drops or every channel closes. A heartbeat comment is sent
// every 30 seconds to keep the connection alive through proxies.
func (h *SSEHandler) stream(w http.ResponseWriter, r *http.Request, channels ...chan events.Envelope) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Send initial connected event
	fmt.Fprintf(w, "event: connected\ndata: ok\n\n")
	flusher.Flush()

	merged := mergeChannels(r.Context(), channels)

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-merged:
			if !ok {
				// Every subscription was closed, e.g. the session was
				// deleted or this connection was evicted as stalled.
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// mergeChannels funnels several subscription channels into one. Order
// within a topic is preserved; across topics there is no ordering contract.
// Forwarders exit when their channel closes or ctx is cancelled.
func mergeChannels(ctx context.Context, channels []chan events.Envelope) <-chan events.Envelope {
	if len(channels) == 1 {
		return channels[0]
	}

	merged := make(chan events.Envelope)
	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch chan events.Envelope) {
			defer wg.Done()
			for ev := range ch {
				select {
				case merged <- ev:
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()
	return merged
}
