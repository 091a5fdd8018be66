package server

import (
	"context"
	"dm-relay/auth"
	"dm-relay/domain"
	"dm-relay/errors"
	"dm-relay/grpc/chatv1"
	"dm-relay/infrastructure/gateway"
	"dm-relay/services"
	"dm-relay/sink"
	"fmt"
	"io"
	"log/slog"

	"github.com/samber/lo"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type ChatServer struct {
	chatv1.UnimplementedChatServiceServer
	log                  *slog.Logger
	gateway              *gateway.Gateway
	chatService          services.IChatService
	connectionBufferSize int
}

func NewChatServer(log *slog.Logger, gw *gateway.Gateway, chatService services.IChatService,
	connectionBufferSize int) *ChatServer {
	return &ChatServer{
		log:                  log,
		gateway:              gw,
		chatService:          chatService,
		connectionBufferSize: connectionBufferSize,
	}
}

// Connect is one live session. Inbound frames go through the gateway and
// every event routed to the session is pushed back on the same stream.
// It blocks until the client leaves, the stream breaks or the session is evicted.
func (s *ChatServer) Connect(stream chatv1.ChatService_ConnectServer) error {
	ctx := stream.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "no identity")
	}

	outbox := sink.NewOutbox(s.connectionBufferSize)
	session := s.gateway.Open(identity, outbox)
	defer func() {
		session.Close(context.WithoutCancel(ctx))
		outbox.Close()
	}()

	inbound := make(chan error, 1)
	go s.receive(ctx, stream, session, inbound)

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("Client disconnected", "user_id", identity.UserID, "session_id", session.ID())
			return nil
		case err := <-inbound:
			if err == nil || err == io.EOF {
				return nil
			}
			return err
		case <-outbox.Done():
			return status.Error(codes.ResourceExhausted, "session dropped, the client is too slow")
		case e := <-outbox.Events():
			env, err := gateway.Encode(e)
			if err != nil {
				s.log.Error("Cannot encode event", "type", e.Type, "error", err)
				continue
			}
			frame, err := chatv1.ToStruct(env)
			if err != nil {
				s.log.Error("Cannot convert envelope", "type", e.Type, "error", err)
				continue
			}
			if err := stream.Send(frame); err != nil {
				s.log.Error("failed to push event to stream",
					"user_id", identity.UserID,
					"session_id", session.ID(),
					"error", err)
				return err
			}
		}
	}
}

// receive reads frames until the stream ends, a nil error meaning the
// client asked to disconnect.
func (s *ChatServer) receive(ctx context.Context, stream chatv1.ChatService_ConnectServer,
	session *gateway.Session, done chan<- error) {
	for {
		frame, err := stream.Recv()
		if err != nil {
			done <- err
			return
		}
		var env gateway.Envelope
		if err := chatv1.FromStruct(frame, &env); err != nil {
			session.Reject(ctx, fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err))
			continue
		}
		_ = session.Handle(ctx, env)
		if env.Event == gateway.DisconnectEvent {
			done <- nil
			return
		}
	}
}

func (s *ChatServer) ListUsers(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	users, err := s.chatService.ListUsersWithStatus(ctx)
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	return chatv1.ToList(users)
}

// ListMessages serves the history of a conversation the caller takes part in.
func (s *ChatServer) ListMessages(ctx context.Context, in *wrapperspb.StringValue) (*structpb.ListValue, error) {
	identity, ok := auth.FromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no identity")
	}
	messages, err := s.chatService.ListMessages(ctx, identity.UserID, domain.ConversationID(in.GetValue()))
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	return chatv1.ToList(lo.Map(messages, func(m domain.Message, _ int) gateway.MessageDTO {
		return gateway.ToMessageDTO(m)
	}))
}
