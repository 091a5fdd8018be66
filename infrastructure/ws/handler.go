// Package ws serves the gateway over WebSocket connections.
// Frames are JSON envelopes {"event": ..., "data": ...} in both directions.
package ws

import (
	"context"
	"dm-relay/auth"
	"dm-relay/errors"
	"dm-relay/infrastructure/gateway"
	"dm-relay/services"
	"dm-relay/sink"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Config struct {
	BufferSize     int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxFrameSize   int64
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = 64 * 1024
	}
	return c
}

type Handler struct {
	log      *slog.Logger
	gateway  *gateway.Gateway
	auth     services.IAuthService
	config   Config
	upgrader websocket.Upgrader

	// http.Server.Shutdown does not track hijacked connections
	mu       sync.Mutex
	closing  bool
	outboxes map[*sink.Outbox]struct{}
	active   sync.WaitGroup
}

func NewHandler(log *slog.Logger, gw *gateway.Gateway, authService services.IAuthService, config Config) *Handler {
	config = config.withDefaults()
	h := &Handler{log: log, gateway: gw, auth: authService, config: config, outboxes: make(map[*sink.Outbox]struct{})}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeHTTP authenticates before upgrading: an anonymous socket is never opened.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if bearer, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
		token = bearer
	}
	identity, err := h.auth.Authenticate(token)
	if err != nil {
		http.Error(w, "unauthenticated", errors.MapToHTTPStatus(err))
		return
	}

	outbox := sink.NewOutbox(h.config.BufferSize)
	if !h.track(outbox) {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.untrack(outbox)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Websocket upgrade failed", "user_id", identity.UserID, "error", err)
		return
	}

	session := h.gateway.Open(identity, outbox)
	h.log.Debug("Websocket connected", "session_id", session.ID(), "user_id", identity.UserID)

	go h.writePump(conn, outbox)
	h.readPump(conn, session)

	session.Close(context.Background())
	outbox.Close()
	h.log.Debug("Websocket closed", "session_id", session.ID(), "user_id", identity.UserID)
}

// Shutdown refuses new sockets, closes the open ones with a normal closure
// and waits until each session has been disconnected or ctx is done.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	for outbox := range h.outboxes {
		outbox.Close()
	}
	open := len(h.outboxes)
	h.mu.Unlock()
	h.log.Info("Closing websockets", "count", open)

	drained := make(chan struct{})
	go func() {
		h.active.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) track(outbox *sink.Outbox) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.outboxes[outbox] = struct{}{}
	h.active.Add(1)
	return true
}

func (h *Handler) untrack(outbox *sink.Outbox) {
	h.mu.Lock()
	delete(h.outboxes, outbox)
	h.mu.Unlock()
	h.active.Done()
}

func (h *Handler) readPump(conn *websocket.Conn, session *gateway.Session) {
	defer conn.Close()
	conn.SetReadLimit(h.config.MaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("Websocket read failed", "session_id", session.ID(), "error", err)
			}
			return
		}
		var env gateway.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			session.Reject(context.Background(), fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err))
			continue
		}
		// Handle reports failures to the client itself
		_ = session.Handle(context.Background(), env)
		if env.Event == gateway.DisconnectEvent {
			return
		}
	}
}

// writePump is the only writer of conn. It stops when the outbox is closed,
// by the read side or by the directory evicting a slow session.
func (h *Handler) writePump(conn *websocket.Conn, outbox *sink.Outbox) {
	ticker := time.NewTicker(h.config.PongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case e := <-outbox.Events():
			env, err := gateway.Encode(e)
			if err != nil {
				h.log.Error("Cannot encode event", "type", e.Type, "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteJSON(env); err != nil {
				outbox.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				outbox.Close()
				return
			}
		case <-outbox.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.config.WriteTimeout))
			return
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.config.AllowedOrigins) == 0 || slices.Contains(h.config.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(h.config.AllowedOrigins, origin)
}
