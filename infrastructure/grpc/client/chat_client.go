// Package client is a thin typed client over the chat.v1 services.
package client

import (
	"context"
	"dm-relay/domain"
	"dm-relay/grpc/chatv1"
	"dm-relay/infrastructure/gateway"
	"dm-relay/services"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type ChatClient struct {
	chat  chatv1.ChatServiceClient
	auth  chatv1.AuthServiceClient
	token string
}

func NewChatClient(conn grpc.ClientConnInterface) *ChatClient {
	return &ChatClient{
		chat: chatv1.NewChatServiceClient(conn),
		auth: chatv1.NewAuthServiceClient(conn),
	}
}

// Token is set by Register and Login, or explicitly with WithToken.
func (c *ChatClient) Token() string {
	return c.token
}

func (c *ChatClient) WithToken(token string) *ChatClient {
	c.token = token
	return c
}

func (c *ChatClient) Register(ctx context.Context, username, email, password string) (services.Credentials, error) {
	in, err := structpb.NewStruct(map[string]any{"username": username, "email": email, "password": password})
	if err != nil {
		return services.Credentials{}, err
	}
	out, err := c.auth.Register(ctx, in)
	if err != nil {
		return services.Credentials{}, err
	}
	return c.keep(out)
}

func (c *ChatClient) Login(ctx context.Context, email, password string) (services.Credentials, error) {
	in, err := structpb.NewStruct(map[string]any{"email": email, "password": password})
	if err != nil {
		return services.Credentials{}, err
	}
	out, err := c.auth.Login(ctx, in)
	if err != nil {
		return services.Credentials{}, err
	}
	return c.keep(out)
}

func (c *ChatClient) keep(out *structpb.Struct) (services.Credentials, error) {
	var credentials services.Credentials
	if err := chatv1.FromStruct(out, &credentials); err != nil {
		return services.Credentials{}, err
	}
	c.token = credentials.Token
	return credentials, nil
}

func (c *ChatClient) ListUsers(ctx context.Context) ([]domain.UserWithStatus, error) {
	out, err := c.chat.ListUsers(c.authorized(ctx), &emptypb.Empty{})
	if err != nil {
		return nil, err
	}
	var users []domain.UserWithStatus
	return users, chatv1.FromList(out, &users)
}

func (c *ChatClient) ListMessages(ctx context.Context, conversationID domain.ConversationID) ([]gateway.MessageDTO, error) {
	out, err := c.chat.ListMessages(c.authorized(ctx), wrapperspb.String(string(conversationID)))
	if err != nil {
		return nil, err
	}
	var messages []gateway.MessageDTO
	return messages, chatv1.FromList(out, &messages)
}

// Connect opens a live session. Call Join before anything else.
func (c *ChatClient) Connect(ctx context.Context) (*Stream, error) {
	stream, err := c.chat.Connect(c.authorized(ctx))
	if err != nil {
		return nil, err
	}
	return &Stream{stream: stream}, nil
}

func (c *ChatClient) authorized(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

// Stream is the client side of one Connect call.
type Stream struct {
	stream chatv1.ChatService_ConnectClient
}

func (s *Stream) Send(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := chatv1.ToStruct(gateway.Envelope{Event: event, Data: raw})
	if err != nil {
		return err
	}
	return s.stream.Send(frame)
}

func (s *Stream) Join(userID string) error {
	return s.Send(gateway.JoinEvent, gateway.JoinPayload{UserID: userID})
}

// Recv blocks until the next envelope pushed by the server.
func (s *Stream) Recv() (gateway.Envelope, error) {
	frame, err := s.stream.Recv()
	if err != nil {
		return gateway.Envelope{}, err
	}
	var env gateway.Envelope
	if err := chatv1.FromStruct(frame, &env); err != nil {
		return gateway.Envelope{}, fmt.Errorf("malformed frame: %w", err)
	}
	return env, nil
}

func (s *Stream) Close() error {
	_ = s.Send(gateway.DisconnectEvent, nil)
	return s.stream.CloseSend()
}
