//go:build e2e

package e2e

import (
	"context"
	"dm-relay/domain"
	"dm-relay/domain/event"
	"dm-relay/infrastructure/gateway"
	"dm-relay/infrastructure/grpc/client"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type testDirectMessageSuite struct {
	BaseGrpcSuite
}

func TestDirectMessageSuite(t *testing.T) {
	suite.Run(t, &testDirectMessageSuite{})
}

func (s *testDirectMessageSuite) next(stream *client.Stream, name event.Type) json.RawMessage {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		env, err := stream.Recv()
		s.Require().NoError(err)
		if env.Event == string(name) {
			return env.Data
		}
	}
	s.FailNow("event not received", name)
	return nil
}

func (s *testDirectMessageSuite) TestFullDirectMessageFlow() {
	suffix := uuid.NewString()[:8]
	password := "Str0ng!Passw0rd"

	s.WithClient("Send, edit and delete between two users", func(ctx context.Context, alice *client.ChatClient) {
		aliceCredentials, err := alice.Register(ctx, "alice"+suffix, "alice"+suffix+"@example.com", password)
		s.Require().NoError(err)

		bobConn := s.GrpcConn(s.T(), "bob")
		defer func() { _ = bobConn.Close() }()
		bob := client.NewChatClient(bobConn)
		bobCredentials, err := bob.Register(ctx, "bob"+suffix, "bob"+suffix+"@example.com", password)
		s.Require().NoError(err)

		aliceStream, err := alice.Connect(ctx)
		s.Require().NoError(err)
		defer func() { _ = aliceStream.Close() }()
		s.Require().NoError(aliceStream.Join(aliceCredentials.UserID))
		s.next(aliceStream, event.UserStatusChangeType)

		bobStream, err := bob.Connect(ctx)
		s.Require().NoError(err)
		defer func() { _ = bobStream.Close() }()
		s.Require().NoError(bobStream.Join(bobCredentials.UserID))
		s.next(bobStream, event.UserStatusChangeType)

		s.Require().NoError(aliceStream.Send(gateway.SendMessageEvent, gateway.SendMessagePayload{
			ReceiverID: bobCredentials.UserID, Content: "first draft",
		}))
		var created struct {
			Message gateway.MessageDTO `json:"message"`
		}
		s.Require().NoError(json.Unmarshal(s.next(bobStream, event.NewMessageType), &created))
		s.Equal("first draft", created.Message.Content)

		s.Require().NoError(aliceStream.Send(gateway.UpdateMessageEvent, gateway.UpdateMessagePayload{
			MessageID: created.Message.ID, Content: "final version",
		}))
		var updated struct {
			Message gateway.MessageDTO `json:"message"`
		}
		s.Require().NoError(json.Unmarshal(s.next(bobStream, event.MessageUpdatedType), &updated))
		s.True(updated.Message.IsEdited)

		// bob may not delete what alice wrote
		s.Require().NoError(bobStream.Send(gateway.DeleteMessageEvent, gateway.DeleteMessagePayload{MessageID: created.Message.ID}))
		var failure struct {
			Code string `json:"code"`
		}
		s.Require().NoError(json.Unmarshal(s.next(bobStream, event.ErrorType), &failure))
		s.Equal("FORBIDDEN", failure.Code)

		s.Require().NoError(aliceStream.Send(gateway.DeleteMessageEvent, gateway.DeleteMessagePayload{MessageID: created.Message.ID}))
		s.next(bobStream, event.MessageDeletedType)

		history, err := bob.ListMessages(ctx, domain.DeriveConversationID(aliceCredentials.UserID, bobCredentials.UserID))
		s.Require().NoError(err)
		s.Empty(history)
	})

	s.WithClient("Anonymous calls are refused", func(ctx context.Context, anonymous *client.ChatClient) {
		_, err := anonymous.ListUsers(ctx)
		s.Equal(codes.Unauthenticated, status.Code(err))
	})
}
