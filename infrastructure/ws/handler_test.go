package ws

import (
	"context"
	"dm-relay/auth"
	"dm-relay/errors"
	"dm-relay/infrastructure/gateway"
	"dm-relay/infrastructure/storage"
	"dm-relay/mocks"
	"dm-relay/runtime"
	"dm-relay/services"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type wsFixture struct {
	server   *httptest.Server
	handler  *Handler
	presence *runtime.PresenceRegistry
}

func newWSFixture(t *testing.T) wsFixture {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)

	db, err := storage.Open("", log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	messages, err := storage.NewMessageRepository(db, log)
	require.NoError(t, err)
	users, err := storage.NewUserRepository(db, log)
	require.NoError(t, err)

	directory := runtime.NewDirectory(log, time.Second)
	presence := runtime.NewPresenceRegistry(log, directory, nil)
	lifecycle := runtime.NewLifecycle(log, directory, presence)
	directory.OnEvict(lifecycle.HandleEviction)
	dispatcher := runtime.NewDispatcher(log, messages, directory, nil,
		runtime.DispatcherConfig{StoreTimeout: time.Second, MaxContentLength: 500})
	chat := services.NewChatService(log, dispatcher, presence, users)

	authService := mocks.NewMockIAuthService(ctrl)
	authService.EXPECT().Authenticate(gomock.Any()).DoAndReturn(func(token string) (auth.Identity, error) {
		switch token {
		case "alice-token":
			return auth.Identity{UserID: "alice", Username: "Alice"}, nil
		case "bob-token":
			return auth.Identity{UserID: "bob", Username: "Bob"}, nil
		}
		return auth.Identity{}, errors.ErrUnauthenticated
	}).AnyTimes()

	handler := NewHandler(log, gateway.NewGateway(log, lifecycle, directory, chat), authService,
		Config{BufferSize: 16, WriteTimeout: time.Second, PongTimeout: 5 * time.Second})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return wsFixture{server: server, handler: handler, presence: presence}
}

func (f wsFixture) dial(t *testing.T, token string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func connect(t *testing.T, f wsFixture, token string) *websocket.Conn {
	conn, _, err := f.dial(t, token)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, name string, data any) {
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(gateway.Envelope{Event: name, Data: raw}))
}

// next reads frames until one named event shows up.
func next(t *testing.T, conn *websocket.Conn, name string) json.RawMessage {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env gateway.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Event == name {
			return env.Data
		}
	}
}

func TestHandler_Rejects_Unauthenticated_Upgrade(t *testing.T) {
	req := require.New(t)
	f := newWSFixture(t)

	for _, token := range []string{"", "forged"} {
		_, resp, err := f.dial(t, token)
		req.ErrorIs(err, websocket.ErrBadHandshake)
		req.Equal(http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestHandler_Query_Token(t *testing.T) {
	req := require.New(t)
	f := newWSFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=alice-token"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	req.NoError(err)
	defer conn.Close()

	send(t, conn, gateway.JoinEvent, gateway.JoinPayload{})
	var status struct {
		UserID string `json:"userId"`
		Status string `json:"status"`
	}
	req.NoError(json.Unmarshal(next(t, conn, "userStatusChange"), &status))
	req.Equal("alice", status.UserID)
	req.Equal("online", status.Status)
}

func TestHandler_Message_Flow_Between_Two_Users(t *testing.T) {
	req := require.New(t)
	f := newWSFixture(t)
	alice := connect(t, f, "alice-token")
	bob := connect(t, f, "bob-token")

	send(t, alice, gateway.JoinEvent, gateway.JoinPayload{UserID: "alice"})
	next(t, alice, "userStatusChange")
	send(t, bob, gateway.JoinEvent, gateway.JoinPayload{UserID: "bob"})
	next(t, bob, "userStatusChange")

	// When alice sends bob a message
	send(t, alice, gateway.SendMessageEvent, gateway.SendMessagePayload{ReceiverID: "bob", Content: "hello bob"})

	// Then both of them receive it
	var received struct {
		Message    gateway.MessageDTO `json:"message"`
		SenderName string             `json:"senderName"`
	}
	req.NoError(json.Unmarshal(next(t, bob, "newMessage"), &received))
	req.Equal("hello bob", received.Message.Content)
	req.Equal("alice_bob", received.Message.ConversationID)
	req.Equal("Alice", received.SenderName)
	next(t, alice, "newMessage")

	// When alice edits it
	send(t, alice, gateway.UpdateMessageEvent, gateway.UpdateMessagePayload{MessageID: received.Message.ID, Content: "hi bob"})
	var updated struct {
		Message gateway.MessageDTO `json:"message"`
	}
	req.NoError(json.Unmarshal(next(t, bob, "messageUpdated"), &updated))
	req.True(updated.Message.IsEdited)
	req.Equal("hi bob", updated.Message.Content)

	// And bob cannot delete it
	send(t, bob, gateway.DeleteMessageEvent, gateway.DeleteMessagePayload{MessageID: received.Message.ID})
	var failure struct {
		Code  string `json:"code"`
		Event string `json:"event"`
	}
	req.NoError(json.Unmarshal(next(t, bob, "error"), &failure))
	req.Equal(errors.CodeForbidden, failure.Code)
	req.Equal(gateway.DeleteMessageEvent, failure.Event)
}

func TestHandler_Invalid_Frame_Keeps_The_Connection(t *testing.T) {
	req := require.New(t)
	f := newWSFixture(t)
	alice := connect(t, f, "alice-token")

	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var failure struct {
		Code string `json:"code"`
	}
	req.NoError(json.Unmarshal(next(t, alice, "error"), &failure))
	req.Equal(errors.CodeValidation, failure.Code)

	// The connection still works
	send(t, alice, gateway.JoinEvent, gateway.JoinPayload{})
	next(t, alice, "userStatusChange")
}

func TestHandler_Closing_The_Socket_Marks_User_Offline(t *testing.T) {
	req := require.New(t)
	f := newWSFixture(t)
	alice := connect(t, f, "alice-token")
	send(t, alice, gateway.JoinEvent, gateway.JoinPayload{})
	next(t, alice, "userStatusChange")
	req.True(f.presence.IsOnline("alice"))

	req.NoError(alice.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)))
	_ = alice.Close()

	req.Eventually(func() bool { return !f.presence.IsOnline("alice") }, 2*time.Second, 10*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	req := require.New(t)
	h := &Handler{config: Config{AllowedOrigins: []string{"http://localhost:3000"}}}

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.True(h.checkOrigin(r))
	r.Header.Set("Origin", "http://localhost:3000")
	req.True(h.checkOrigin(r))
	r.Header.Set("Origin", "http://evil.example")
	req.False(h.checkOrigin(r))

	h.config.AllowedOrigins = []string{"*"}
	req.True(h.checkOrigin(r))
}

func TestHandler_Shutdown_Disconnects_Open_Sockets(t *testing.T) {
	req := require.New(t)
	f := newWSFixture(t)
	alice := connect(t, f, "alice-token")
	send(t, alice, gateway.JoinEvent, gateway.JoinPayload{})
	next(t, alice, "userStatusChange")
	req.True(f.presence.IsOnline("alice"))

	// When the relay shuts down
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req.NoError(f.handler.Shutdown(ctx))

	// Then the session went through disconnect and the client got a normal closure
	req.False(f.presence.IsOnline("alice"))
	req.NoError(alice.SetReadDeadline(time.Now().Add(2 * time.Second)))
	for {
		if _, _, err := alice.ReadMessage(); err != nil {
			req.True(websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
	}

	// And new sockets are refused
	_, resp, err := f.dial(t, "bob-token")
	req.ErrorIs(err, websocket.ErrBadHandshake)
	req.Equal(http.StatusServiceUnavailable, resp.StatusCode)
}
