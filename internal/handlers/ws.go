package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/watchroom/backend/internal/broker"
	"github.com/watchroom/backend/internal/logging"
	"github.com/watchroom/backend/internal/middleware"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	// Pongs must arrive within this window or the connection is dropped.
	wsPongTimeout = 60 * time.Second
)

// WSHandler serves WebSocket streams over broker topics, as an alternative
// to the SSE endpoints for clients that prefer a socket.
type WSHandler struct {
	registry *broker.Registry
	upgrader websocket.Upgrader
}

// NewWSHandler creates a WSHandler backed by the given topic registry.
// Upgrade requests are accepted only from the allowed origins.
func NewWSHandler(registry *broker.Registry, allowedOrigins []string) *WSHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return &WSHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no Origin header.
				return origin == "" || allowed[origin]
			},
		},
	}
}

// StreamSession upgrades the connection and pushes the session topic's
// events as JSON messages. Members only. The stream is push-only: client
// frames other than control frames are discarded.
func (h *WSHandler) StreamSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	claims := middleware.GetClaims(r.Context())

	sub, err := h.registry.Subscribe(broker.SessionTopic(sessionID), broker.Credentials{UserID: claims.UserID})
	if err != nil {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventTopicUnauthorized, "unauthorized session socket")
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.registry.Unsubscribe(sub)
		slog.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	go h.writePump(conn, sub)
	h.readPump(conn, sub)
}

// writePump pushes topic events and periodic pings until the subscription
// channel closes or a write fails.
func (h *WSHandler) writePump(conn *websocket.Conn, sub *broker.Subscription) {
	ping := time.NewTicker(wsPingInterval)
	defer func() {
		ping.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				// Evicted or session deleted.
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client frames so control messages are processed, and
// unsubscribes when the peer goes away.
func (h *WSHandler) readPump(conn *websocket.Conn, sub *broker.Subscription) {
	defer func() {
		h.registry.Unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
