// Package event defines what the engine pushes to live sessions.
package event

import (
	"dm-relay/domain"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	NewMessageType       Type = "newMessage"
	MessageUpdatedType   Type = "messageUpdated"
	MessageDeletedType   Type = "messageDeleted"
	UserStatusChangeType Type = "userStatusChange"
	ErrorType            Type = "error"
)

// Event is the envelope delivered to a sink.
type Event struct {
	Type      Type
	CreatedAt time.Time
	Payload   any
}

type NewMessage struct {
	Message    domain.Message
	SenderName string
}

type MessageUpdated struct {
	Message domain.Message
}

type MessageDeleted struct {
	MessageID      uuid.UUID
	ConversationID domain.ConversationID
}

type UserStatusChange struct {
	UserID string
	Status domain.Status
}

// Failure is only ever sent to the session whose request failed.
type Failure struct {
	Code    string
	Message string
	Event   string
}

func NewMessageEvent(message domain.Message, senderName string) Event {
	return Event{
		Type:      NewMessageType,
		CreatedAt: time.Now().UTC(),
		Payload:   NewMessage{Message: message, SenderName: senderName},
	}
}

func MessageUpdatedEvent(message domain.Message) Event {
	return Event{
		Type:      MessageUpdatedType,
		CreatedAt: time.Now().UTC(),
		Payload:   MessageUpdated{Message: message},
	}
}

func MessageDeletedEvent(message domain.Message) Event {
	return Event{
		Type:      MessageDeletedType,
		CreatedAt: time.Now().UTC(),
		Payload:   MessageDeleted{MessageID: message.ID, ConversationID: message.ConversationID},
	}
}

func UserStatusChangeEvent(userID string, status domain.Status) Event {
	return Event{
		Type:      UserStatusChangeType,
		CreatedAt: time.Now().UTC(),
		Payload:   UserStatusChange{UserID: userID, Status: status},
	}
}

func FailureEvent(code, message, origin string) Event {
	return Event{
		Type:      ErrorType,
		CreatedAt: time.Now().UTC(),
		Payload:   Failure{Code: code, Message: message, Event: origin},
	}
}
