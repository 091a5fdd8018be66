//go:generate go run go.uber.org/mock/mockgen -source=repository.go -destination=../mocks/mock_repository.go -package=mocks
package contract

import (
	"context"
	"dm-relay/domain"

	"github.com/google/uuid"
)

// IMessageRepository is the narrow storage gateway for messages.
// Every mutation is an atomic compare-and-update on a single message.
type IMessageRepository interface {
	Append(ctx context.Context, message domain.Message) (domain.Message, error)
	GetByConversation(ctx context.Context, conversationID domain.ConversationID) ([]domain.Message, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Message, error)
	UpdateContent(ctx context.Context, update domain.UpdateContent) (domain.Message, error)
	SoftDelete(ctx context.Context, id uuid.UUID, requesterID string) (domain.Message, error)
}

type IUserRepository interface {
	CreateUser(ctx context.Context, username, email, hashedPassword string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	SetStatus(ctx context.Context, userID string, status domain.Status) error
	GetPresenceSnapshot(ctx context.Context, userIDs []string) (map[string]domain.Status, error)
}
