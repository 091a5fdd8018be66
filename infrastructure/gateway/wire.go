// Package gateway turns transport frames into engine calls and engine events
// back into frames. WebSocket and gRPC share it.
package gateway

import (
	"dm-relay/domain"
	"dm-relay/domain/event"
	"encoding/json"
	"fmt"
	"time"
)

// Inbound event names.
const (
	JoinEvent          = "join"
	SendMessageEvent   = "sendMessage"
	UpdateMessageEvent = "updateMessage"
	DeleteMessageEvent = "deleteMessage"
	DisconnectEvent    = "disconnect"
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinPayload struct {
	UserID string `json:"userId"`
}

type SendMessagePayload struct {
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	ReceiverID     string `json:"receiverId"`
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
}

type UpdateMessagePayload struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type DeleteMessagePayload struct {
	MessageID string `json:"messageId"`
}

// MessageDTO is the client view of a message.
type MessageDTO struct {
	ID             string     `json:"_id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	ReceiverID     string     `json:"receiverId"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"createdAt"`
	EditedAt       *time.Time `json:"editedAt,omitempty"`
	IsEdited       bool       `json:"isEdited"`
	IsDeleted      bool       `json:"isDeleted"`
	Sequence       uint64     `json:"sequence"`
}

type newMessageData struct {
	Message    MessageDTO `json:"message"`
	SenderName string     `json:"senderName"`
}

type messageUpdatedData struct {
	Message MessageDTO `json:"message"`
}

type messageDeletedData struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type userStatusChangeData struct {
	UserID string        `json:"userId"`
	Status domain.Status `json:"status"`
}

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

func ToMessageDTO(m domain.Message) MessageDTO {
	return MessageDTO{
		ID:             m.ID.String(),
		ConversationID: string(m.ConversationID),
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		EditedAt:       m.EditedAt,
		IsEdited:       m.IsEdited(),
		IsDeleted:      m.Deleted,
		Sequence:       m.Sequence,
	}
}

// Encode renders an engine event as an envelope.
func Encode(e event.Event) (Envelope, error) {
	var data any
	switch payload := e.Payload.(type) {
	case event.NewMessage:
		data = newMessageData{Message: ToMessageDTO(payload.Message), SenderName: payload.SenderName}
	case event.MessageUpdated:
		data = messageUpdatedData{Message: ToMessageDTO(payload.Message)}
	case event.MessageDeleted:
		data = messageDeletedData{MessageID: payload.MessageID.String(), ConversationID: string(payload.ConversationID)}
	case event.UserStatusChange:
		data = userStatusChangeData{UserID: payload.UserID, Status: payload.Status}
	case event.Failure:
		data = errorData{Code: payload.Code, Message: payload.Message, Event: payload.Event}
	default:
		return Envelope{}, fmt.Errorf("no wire format for %T", e.Payload)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: string(e.Type), Data: raw}, nil
}
