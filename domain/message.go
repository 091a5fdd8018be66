// Package domain contains core concepts of the direct-messaging system.
// This file defines Message and the commands that mutate it.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultEditWindow is how long a sender may edit a message after posting it.
const DefaultEditWindow = 3 * time.Minute

// Message is a persisted chat message between two users.
// ID and ConversationID never change once stored.
type Message struct {
	ID             uuid.UUID
	ConversationID ConversationID
	SenderID       string
	ReceiverID     string
	Content        string
	CreatedAt      time.Time
	EditedAt       *time.Time
	Deleted        bool
	// Sequence is assigned by the store at append time and breaks CreatedAt ties.
	Sequence uint64
}

// Participants returns the two users a message event must reach.
func (m Message) Participants() []string {
	return []string{m.SenderID, m.ReceiverID}
}

// IsEdited reports whether the content was changed after creation.
func (m Message) IsEdited() bool {
	return m.EditedAt != nil
}

// SendMessageCommand carries a send intent as received from a connection.
type SendMessageCommand struct {
	SenderID       string `validate:"required"`
	SenderName     string
	ReceiverID     string `validate:"required"`
	Content        string `validate:"required"`
	ConversationID ConversationID
}

// UpdateMessageCommand carries an edit intent.
type UpdateMessageCommand struct {
	EditorID  string    `validate:"required"`
	MessageID uuid.UUID `validate:"required"`
	Content   string    `validate:"required"`
}

// DeleteMessageCommand carries a delete intent.
type DeleteMessageCommand struct {
	RequesterID string    `validate:"required"`
	MessageID   uuid.UUID `validate:"required"`
}

// UpdateContent is the compare-and-update handed to the message store.
// The store applies it only if the message exists, is not deleted,
// belongs to EditorID and EditedAt is still inside Window.
type UpdateContent struct {
	ID       uuid.UUID
	EditorID string
	Content  string
	EditedAt time.Time
	Window   time.Duration
}
