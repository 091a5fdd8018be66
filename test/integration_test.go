package test

import (
	"context"
	"dm-relay/domain"
	"dm-relay/domain/event"
	"dm-relay/infrastructure/gateway"
	"dm-relay/infrastructure/grpc/client"
	"dm-relay/internal"
	"dm-relay/internal/app"
	"dm-relay/services"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func testConfig() internal.Config {
	return internal.Config{
		StoreDriver:          internal.StoreBadger,
		JWTSecret:            "integration-secret",
		AuthTokenDuration:    time.Hour,
		EditWindow:           3 * time.Minute,
		StoreTimeout:         2 * time.Second,
		SinkTimeout:          time.Second,
		ConnectionBufferSize: 32,
		BufferSize:           64,
		RestartInterval:      100 * time.Millisecond,
		MetricInterval:       50 * time.Millisecond,
		MaxContentLength:     500,
		CharReplacement:      "*",
		EnableModeration:     true,
		RateLimitRequests:    100,
		RateLimitWindow:      time.Minute,
		AllowedOrigins:       "*",
	}
}

type relay struct {
	app  *app.App
	http *httptest.Server
	grpc *grpc.ClientConn
}

func startRelay(t *testing.T) relay {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	a, err := app.New(ctx, testConfig(), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	go a.Supervisor.Run(ctx)
	t.Cleanup(a.Supervisor.Stop)

	httpServer := httptest.NewServer(a.HTTP)
	t.Cleanup(httpServer.Close)

	listener := bufconn.Listen(1024 * 1024)
	go func() { _ = a.GRPC.Serve(listener) }()
	t.Cleanup(a.GRPC.Stop)
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return relay{app: a, http: httpServer, grpc: conn}
}

func (r relay) registerOverHTTP(t *testing.T, username string) services.Credentials {
	body := `{"username":"` + username + `","email":"` + username + `@example.com","password":"Str0ng!Passw0rd"}`
	resp, err := http.Post(r.http.URL+"/register", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var credentials services.Credentials
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&credentials))
	return credentials
}

func (r relay) dialWebsocket(t *testing.T, token string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(r.http.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func nextOnWebsocket(t *testing.T, conn *websocket.Conn, name event.Type) json.RawMessage {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env gateway.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Event == string(name) {
			return env.Data
		}
	}
}

func nextOnStream(t *testing.T, stream *client.Stream, name event.Type) json.RawMessage {
	got := make(chan json.RawMessage, 1)
	go func() {
		for {
			env, err := stream.Recv()
			if err != nil {
				return
			}
			if env.Event == string(name) {
				got <- env.Data
				return
			}
		}
	}()
	select {
	case data := <-got:
		return data
	case <-time.After(2 * time.Second):
		require.FailNow(t, "event not received", name)
		return nil
	}
}

func Test_Scenario(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	r := startRelay(t)

	// Given alice registered over HTTP and bob over gRPC
	alice := r.registerOverHTTP(t, "alice")
	bobClient := client.NewChatClient(r.grpc)
	bob, err := bobClient.Register(ctx, "bob", "bob@example.com", "Str0ng!Passw0rd")
	req.NoError(err)

	// When alice joins over websocket and bob over the gRPC stream
	aliceConn := r.dialWebsocket(t, alice.Token)
	req.NoError(aliceConn.WriteJSON(map[string]any{"event": "join", "data": map[string]string{"userId": alice.UserID}}))
	nextOnWebsocket(t, aliceConn, event.UserStatusChangeType)

	bobStream, err := bobClient.Connect(ctx)
	req.NoError(err)
	req.NoError(bobStream.Join(bob.UserID))
	nextOnStream(t, bobStream, event.UserStatusChangeType)

	// And alice sends bob a rude message
	req.NoError(aliceConn.WriteJSON(map[string]any{
		"event": "sendMessage",
		"data":  map[string]string{"receiverId": bob.UserID, "content": "hello bastard"},
	}))

	// Then bob receives it censored, across transports
	var received struct {
		Message gateway.MessageDTO `json:"message"`
	}
	req.NoError(json.Unmarshal(nextOnStream(t, bobStream, event.NewMessageType), &received))
	req.Equal(alice.UserID, received.Message.SenderID)
	req.True(strings.HasPrefix(received.Message.Content, "hello "))
	req.NotContains(received.Message.Content, "bastard")
	req.Equal(string(domain.DeriveConversationID(alice.UserID, bob.UserID)), received.Message.ConversationID)

	// And the history is served over HTTP
	httpReq, err := http.NewRequest(http.MethodGet, r.http.URL+"/messages/"+received.Message.ConversationID, nil)
	req.NoError(err)
	httpReq.Header.Set("Authorization", "Bearer "+alice.Token)
	resp, err := http.DefaultClient.Do(httpReq)
	req.NoError(err)
	var history []gateway.MessageDTO
	req.NoError(json.NewDecoder(resp.Body).Decode(&history))
	_ = resp.Body.Close()
	req.Len(history, 1)
	req.Equal(received.Message.ID, history[0].ID)

	// And both statuses reach the store through the presence writer
	req.Eventually(func() bool {
		statuses, err := r.app.Users.GetPresenceSnapshot(ctx, []string{alice.UserID, bob.UserID})
		return err == nil &&
			statuses[alice.UserID] == domain.StatusOnline &&
			statuses[bob.UserID] == domain.StatusOnline
	}, 2*time.Second, 20*time.Millisecond)

	// When alice closes her socket
	req.NoError(aliceConn.Close())

	// Then bob is told she went offline
	var change struct {
		UserID string        `json:"userId"`
		Status domain.Status `json:"status"`
	}
	req.NoError(json.Unmarshal(nextOnStream(t, bobStream, event.UserStatusChangeType), &change))
	req.Equal(alice.UserID, change.UserID)
	req.Equal(domain.StatusOffline, change.Status)
	req.False(r.app.Presence.IsOnline(alice.UserID))
}

func Test_Restart_Resets_Stale_Statuses(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	config := testConfig()
	config.BadgerFilepath = t.TempDir()

	// Given a user left online by a crashed process
	first, err := app.New(ctx, config, log)
	req.NoError(err)
	user, err := first.Users.CreateUser(ctx, "alice", "alice@example.com", "hash")
	req.NoError(err)
	req.NoError(first.Users.SetStatus(ctx, user.ID, domain.StatusOnline))
	req.NoError(first.Close())

	// When the relay starts again on the same store
	second, err := app.New(ctx, config, log)
	req.NoError(err)
	t.Cleanup(func() { _ = second.Close() })

	// Then nobody is reported online
	statuses, err := second.Users.GetPresenceSnapshot(ctx, []string{user.ID})
	req.NoError(err)
	req.Equal(domain.StatusOffline, statuses[user.ID])
}

func Test_Shutdown_Disconnects_Websockets(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	r := startRelay(t)

	// Given alice joined over websocket
	alice := r.registerOverHTTP(t, "alice")
	conn := r.dialWebsocket(t, alice.Token)
	req.NoError(conn.WriteJSON(map[string]any{"event": "join", "data": map[string]string{"userId": alice.UserID}}))
	nextOnWebsocket(t, conn, event.UserStatusChangeType)

	// When the websocket side shuts down
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req.NoError(r.app.WS.Shutdown(shutdownCtx))

	// Then alice is offline, in memory and eventually in the store
	req.False(r.app.Presence.IsOnline(alice.UserID))
	req.Eventually(func() bool {
		statuses, err := r.app.Users.GetPresenceSnapshot(ctx, []string{alice.UserID})
		return err == nil && statuses[alice.UserID] == domain.StatusOffline
	}, 2*time.Second, 20*time.Millisecond)
}
