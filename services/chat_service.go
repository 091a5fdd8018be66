//go:generate go run go.uber.org/mock/mockgen -source=chat_service.go -destination=../mocks/mock_chat_service.go -package=mocks
package services

import (
	"context"
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/errors"
	"fmt"
	"log/slog"

	"github.com/samber/lo"
)

// IChatService is the surface the transports talk to.
type IChatService interface {
	SendMessage(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error)
	UpdateMessage(ctx context.Context, cmd domain.UpdateMessageCommand) (domain.Message, error)
	DeleteMessage(ctx context.Context, cmd domain.DeleteMessageCommand) (domain.Message, error)
	ListMessages(ctx context.Context, requesterID string, conversationID domain.ConversationID) ([]domain.Message, error)
	ListUsersWithStatus(ctx context.Context) ([]domain.UserWithStatus, error)
}

// MessageDispatcher persists then fans out message mutations.
type MessageDispatcher interface {
	Send(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error)
	Edit(ctx context.Context, cmd domain.UpdateMessageCommand) (domain.Message, error)
	Delete(ctx context.Context, cmd domain.DeleteMessageCommand) (domain.Message, error)
	History(ctx context.Context, conversationID domain.ConversationID) ([]domain.Message, error)
}

type ChatService struct {
	log            *slog.Logger
	dispatcher     MessageDispatcher
	presence       contract.IPresence
	userRepository contract.IUserRepository
}

func NewChatService(log *slog.Logger, dispatcher MessageDispatcher,
	presence contract.IPresence, userRepository contract.IUserRepository) *ChatService {
	return &ChatService{log: log, dispatcher: dispatcher, presence: presence, userRepository: userRepository}
}

func (s *ChatService) SendMessage(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error) {
	return s.dispatcher.Send(ctx, cmd)
}

func (s *ChatService) UpdateMessage(ctx context.Context, cmd domain.UpdateMessageCommand) (domain.Message, error) {
	return s.dispatcher.Edit(ctx, cmd)
}

func (s *ChatService) DeleteMessage(ctx context.Context, cmd domain.DeleteMessageCommand) (domain.Message, error) {
	return s.dispatcher.Delete(ctx, cmd)
}

// ListMessages only serves a conversation the requester takes part in.
func (s *ChatService) ListMessages(ctx context.Context, requesterID string,
	conversationID domain.ConversationID) ([]domain.Message, error) {
	if _, _, ok := conversationID.Participants(); !ok {
		return nil, fmt.Errorf("%w: malformed conversation id %q", errors.ErrValidation, conversationID)
	}
	if !conversationID.Includes(requesterID) {
		return nil, fmt.Errorf("%w: not a participant of %s", errors.ErrForbidden, conversationID)
	}
	return s.dispatcher.History(ctx, conversationID)
}

// ListUsersWithStatus returns users in registration order, the live
// presence overriding the persisted status.
func (s *ChatService) ListUsersWithStatus(ctx context.Context) ([]domain.UserWithStatus, error) {
	users, err := s.userRepository.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStorage, err)
	}
	return lo.Map(users, func(user domain.User, _ int) domain.UserWithStatus {
		status := domain.StatusOffline
		if s.presence.IsOnline(user.ID) {
			status = domain.StatusOnline
		}
		return domain.UserWithStatus{
			ID:       user.ID,
			Username: user.Username,
			Status:   status,
		}
	}), nil
}
