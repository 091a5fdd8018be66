package services_test

import (
	"context"
	"dm-relay/domain"
	"dm-relay/errors"
	"dm-relay/mocks"
	"dm-relay/services"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type chatFixture struct {
	service        *services.ChatService
	dispatcher     *mocks.MockMessageDispatcher
	presence       *mocks.MockIPresence
	userRepository *mocks.MockIUserRepository
}

func newChatFixture(t *testing.T) chatFixture {
	ctrl := gomock.NewController(t)
	f := chatFixture{
		dispatcher:     mocks.NewMockMessageDispatcher(ctrl),
		presence:       mocks.NewMockIPresence(ctrl),
		userRepository: mocks.NewMockIUserRepository(ctrl),
	}
	f.service = services.NewChatService(logs.GetLoggerFromLevel(slog.LevelDebug), f.dispatcher, f.presence, f.userRepository)
	return f
}

func TestChatService_ListUsersWithStatus(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)

	// The persisted status of zoe is stale, the live view wins
	f.userRepository.EXPECT().ListUsers(gomock.Any()).Return([]domain.User{
		{ID: "u2", Username: "zoe", Email: "zoe@example.com", Status: domain.StatusOnline},
		{ID: "u1", Username: "adam", Email: "adam@example.com", Status: domain.StatusOffline},
	}, nil)
	f.presence.EXPECT().IsOnline("u2").Return(false)
	f.presence.EXPECT().IsOnline("u1").Return(true)

	users, err := f.service.ListUsersWithStatus(context.Background())

	req.NoError(err)
	req.Equal([]domain.UserWithStatus{
		{ID: "u2", Username: "zoe", Status: domain.StatusOffline},
		{ID: "u1", Username: "adam", Status: domain.StatusOnline},
	}, users)
}

func TestChatService_ListUsersWithStatus_Storage_Failure(t *testing.T) {
	f := newChatFixture(t)
	f.userRepository.EXPECT().ListUsers(gomock.Any()).Return(nil, context.DeadlineExceeded)

	_, err := f.service.ListUsersWithStatus(context.Background())

	require.ErrorIs(t, err, errors.ErrStorage)
}

func TestChatService_ListMessages_Participants_Only(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)
	conversation := domain.DeriveConversationID("alice", "bob")
	history := []domain.Message{{ID: uuid.New(), ConversationID: conversation}}
	f.dispatcher.EXPECT().History(gomock.Any(), conversation).Return(history, nil).Times(1)

	messages, err := f.service.ListMessages(context.Background(), "bob", conversation)
	req.NoError(err)
	req.Equal(history, messages)

	_, err = f.service.ListMessages(context.Background(), "carol", conversation)
	req.ErrorIs(err, errors.ErrForbidden)

	_, err = f.service.ListMessages(context.Background(), "alice", "alice")
	req.ErrorIs(err, errors.ErrValidation)
}

func TestChatService_Forwards_Mutations(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)
	id := uuid.New()

	f.dispatcher.EXPECT().Send(gomock.Any(), domain.SendMessageCommand{SenderID: "alice", ReceiverID: "bob", Content: "hi"}).
		Return(domain.Message{ID: id}, nil)
	f.dispatcher.EXPECT().Edit(gomock.Any(), domain.UpdateMessageCommand{EditorID: "alice", MessageID: id, Content: "hey"}).
		Return(domain.Message{ID: id, Content: "hey"}, nil)
	f.dispatcher.EXPECT().Delete(gomock.Any(), domain.DeleteMessageCommand{RequesterID: "bob", MessageID: id}).
		Return(domain.Message{}, errors.ErrForbidden)

	sent, err := f.service.SendMessage(context.Background(), domain.SendMessageCommand{SenderID: "alice", ReceiverID: "bob", Content: "hi"})
	req.NoError(err)
	req.Equal(id, sent.ID)

	updated, err := f.service.UpdateMessage(context.Background(), domain.UpdateMessageCommand{EditorID: "alice", MessageID: id, Content: "hey"})
	req.NoError(err)
	req.Equal("hey", updated.Content)

	_, err = f.service.DeleteMessage(context.Background(), domain.DeleteMessageCommand{RequesterID: "bob", MessageID: id})
	req.ErrorIs(err, errors.ErrForbidden)
}
