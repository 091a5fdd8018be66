package server

import (
	"context"
	"dm-relay/auth"
	"dm-relay/domain"
	"dm-relay/grpc/chatv1"
	"dm-relay/infrastructure/gateway"
	"dm-relay/infrastructure/grpc/client"
	"dm-relay/infrastructure/storage"
	"dm-relay/runtime"
	"dm-relay/services"
	"encoding/json"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type grpcFixture struct {
	conn     *grpc.ClientConn
	presence *runtime.PresenceRegistry
}

func newGRPCFixture(t *testing.T) grpcFixture {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
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
	chatService := services.NewChatService(log, dispatcher, presence, users)
	authService := services.NewAuthService(log, users, auth.NewAuthenticator("test-secret", time.Hour))

	listener := bufconn.Listen(1024 * 1024)
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(AuthInterceptor(authService)),
		grpc.ChainStreamInterceptor(StreamAuthInterceptor(authService)),
	)
	chatv1.RegisterChatServiceServer(s, NewChatServer(log, gateway.NewGateway(log, lifecycle, directory, chatService), chatService, 16))
	chatv1.RegisterAuthServiceServer(s, NewAuthServer(authService))
	go func() { _ = s.Serve(listener) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return grpcFixture{conn: conn, presence: presence}
}

func (f grpcFixture) register(t *testing.T, username string) (*client.ChatClient, services.Credentials) {
	c := client.NewChatClient(f.conn)
	credentials, err := c.Register(context.Background(), username, username+"@example.com", "Str0ng!Passw0rd")
	require.NoError(t, err)
	return c, credentials
}

// waitFor reads envelopes until one named event shows up.
func waitFor(t *testing.T, stream *client.Stream, name string) json.RawMessage {
	type result struct {
		env gateway.Envelope
		err error
	}
	deadline := time.After(2 * time.Second)
	for {
		got := make(chan result, 1)
		go func() {
			env, err := stream.Recv()
			got <- result{env, err}
		}()
		select {
		case r := <-got:
			require.NoError(t, r.err)
			if r.env.Event == name {
				return r.env.Data
			}
		case <-deadline:
			require.FailNow(t, "event not received", name)
		}
	}
}

func TestAuthInterceptor_Rejects_Anonymous_Calls(t *testing.T) {
	req := require.New(t)
	f := newGRPCFixture(t)
	anonymous := client.NewChatClient(f.conn)

	_, err := anonymous.ListUsers(context.Background())
	req.Equal(codes.Unauthenticated, status.Code(err))

	_, err = anonymous.WithToken("forged").ListMessages(context.Background(), "alice_bob")
	req.Equal(codes.Unauthenticated, status.Code(err))
}

func TestAuthServer_Register_And_Login(t *testing.T) {
	req := require.New(t)
	f := newGRPCFixture(t)
	_, credentials := f.register(t, "alice")
	req.NotEmpty(credentials.Token)
	req.NotEmpty(credentials.UserID)
	req.Equal("alice", credentials.Username)

	c := client.NewChatClient(f.conn)
	_, err := c.Register(context.Background(), "alice", "alice@example.com", "Str0ng!Passw0rd")
	req.Equal(codes.AlreadyExists, status.Code(err))

	_, err = c.Login(context.Background(), "alice@example.com", "wrong")
	req.Equal(codes.Unauthenticated, status.Code(err))

	logged, err := c.Login(context.Background(), "ALICE@example.com", "Str0ng!Passw0rd")
	req.NoError(err)
	req.Equal(credentials.UserID, logged.UserID)
}

func TestChatServer_Connect_Delivers_To_Both_Participants(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newGRPCFixture(t)
	aliceClient, alice := f.register(t, "alice")
	bobClient, bob := f.register(t, "bob")

	aliceStream, err := aliceClient.Connect(ctx)
	req.NoError(err)
	req.NoError(aliceStream.Join(alice.UserID))
	waitFor(t, aliceStream, "userStatusChange")

	bobStream, err := bobClient.Connect(ctx)
	req.NoError(err)
	req.NoError(bobStream.Join(bob.UserID))
	waitFor(t, bobStream, "userStatusChange")

	// When alice sends bob a message
	req.NoError(aliceStream.Send(gateway.SendMessageEvent, gateway.SendMessagePayload{
		ReceiverID: bob.UserID, Content: "hello",
	}))

	// Then bob receives it on his stream
	var received struct {
		Message gateway.MessageDTO `json:"message"`
	}
	req.NoError(json.Unmarshal(waitFor(t, bobStream, "newMessage"), &received))
	req.Equal("hello", received.Message.Content)
	req.Equal(alice.UserID, received.Message.SenderID)
	waitFor(t, aliceStream, "newMessage")

	// And the history is readable by both participants only
	conversation := domain.DeriveConversationID(alice.UserID, bob.UserID)
	history, err := bobClient.ListMessages(ctx, conversation)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(received.Message.ID, history[0].ID)

	carolClient, _ := f.register(t, "carol")
	_, err = carolClient.ListMessages(ctx, conversation)
	req.Equal(codes.PermissionDenied, status.Code(err))

	// And the user list shows both online
	users, err := carolClient.ListUsers(ctx)
	req.NoError(err)
	req.Len(users, 3)
	req.Equal(domain.StatusOnline, users[0].Status)
	req.Equal(domain.StatusOnline, users[1].Status)
	req.Equal(domain.StatusOffline, users[2].Status)

	// When alice leaves
	req.NoError(aliceStream.Close())
	req.Eventually(func() bool { return !f.presence.IsOnline(alice.UserID) }, 2*time.Second, 10*time.Millisecond)
}

func TestChatServer_Connect_Refuses_Joining_As_Someone_Else(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newGRPCFixture(t)
	aliceClient, _ := f.register(t, "alice")
	_, bob := f.register(t, "bob")

	stream, err := aliceClient.Connect(ctx)
	req.NoError(err)
	req.NoError(stream.Join(bob.UserID))

	var failure struct {
		Code string `json:"code"`
	}
	req.NoError(json.Unmarshal(waitFor(t, stream, "error"), &failure))
	req.Equal("FORBIDDEN", failure.Code)
	req.False(f.presence.IsOnline(bob.UserID))
}
