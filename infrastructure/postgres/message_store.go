package postgres

import (
	"context"
	"database/sql"
	"dm-relay/domain"
	"dm-relay/errors"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

const messageColumns = `id, conversation_id, sender_id, receiver_id, content, created_at, edited_at, deleted, sequence`

// MessageStore relies on single conditional statements for every mutation,
// the row lock taken by UPDATE serializes writers of the same message.
type MessageStore struct {
	db  *sql.DB
	log *slog.Logger
}

func NewMessageStore(db *sql.DB, log *slog.Logger) *MessageStore {
	return &MessageStore{db: db, log: log}
}

func (s *MessageStore) Append(ctx context.Context, message domain.Message) (domain.Message, error) {
	if message.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Message{}, err
		}
		message.ID = id
	}
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING sequence
	`
	var sequence int64
	err := s.db.QueryRowContext(ctx, query,
		message.ID, string(message.ConversationID), message.SenderID, message.ReceiverID,
		message.Content, message.CreatedAt,
	).Scan(&sequence)
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	message.Sequence = uint64(sequence)
	s.log.Debug("Message stored", "conversation_id", message.ConversationID, "sequence", message.Sequence)
	return message, nil
}

func (s *MessageStore) GetByConversation(ctx context.Context, id domain.ConversationID) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1 AND NOT deleted
		ORDER BY created_at, sequence
	`
	rows, err := s.db.QueryContext(ctx, query, string(id))
	if err != nil {
		return nil, fmt.Errorf("select conversation: %w", err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

func (s *MessageStore) GetByID(ctx context.Context, id uuid.UUID) (domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	message, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, fmt.Errorf("%w: message %s", errors.ErrNotFound, id)
	}
	return message, err
}

// UpdateContent only matches a live message of the editor still inside the window.
// When nothing matches, the row is read again to tell why.
func (s *MessageStore) UpdateContent(ctx context.Context, cmd domain.UpdateContent) (domain.Message, error) {
	query := `UPDATE messages
		SET content = $2, edited_at = $3
		WHERE id = $1 AND sender_id = $4 AND NOT deleted AND created_at > $5
		RETURNING ` + messageColumns
	message, err := scanMessage(s.db.QueryRowContext(ctx, query,
		cmd.ID, cmd.Content, cmd.EditedAt, cmd.EditorID, cmd.EditedAt.Add(-cmd.Window)))
	if err == nil {
		return message, nil
	}
	if !stderrors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, fmt.Errorf("update message: %w", err)
	}
	return domain.Message{}, s.explainRefusal(ctx, cmd.ID, cmd.EditorID, func(current domain.Message) error {
		if cmd.EditedAt.Sub(current.CreatedAt) >= cmd.Window {
			return fmt.Errorf("%w: message is older than %s", errors.ErrEditWindowExpired, cmd.Window)
		}
		// The message changed between both statements
		return fmt.Errorf("%w: message %s changed concurrently", errors.ErrNotFound, cmd.ID)
	})
}

func (s *MessageStore) SoftDelete(ctx context.Context, id uuid.UUID, requesterID string) (domain.Message, error) {
	query := `UPDATE messages
		SET deleted = TRUE
		WHERE id = $1 AND sender_id = $2 AND NOT deleted
		RETURNING ` + messageColumns
	message, err := scanMessage(s.db.QueryRowContext(ctx, query, id, requesterID))
	if err == nil {
		return message, nil
	}
	if !stderrors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, fmt.Errorf("delete message: %w", err)
	}
	return domain.Message{}, s.explainRefusal(ctx, id, requesterID, func(domain.Message) error {
		return fmt.Errorf("%w: message %s changed concurrently", errors.ErrNotFound, id)
	})
}

func (s *MessageStore) explainRefusal(ctx context.Context, id uuid.UUID, userID string,
	otherwise func(current domain.Message) error) error {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Deleted {
		return fmt.Errorf("%w: message %s was deleted", errors.ErrNotFound, id)
	}
	if current.SenderID != userID {
		return fmt.Errorf("%w: only the sender can change a message", errors.ErrForbidden)
	}
	return otherwise(current)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var (
		message        domain.Message
		conversationID string
		editedAt       sql.NullTime
		sequence       int64
	)
	err := row.Scan(&message.ID, &conversationID, &message.SenderID, &message.ReceiverID,
		&message.Content, &message.CreatedAt, &editedAt, &message.Deleted, &sequence)
	if err != nil {
		return domain.Message{}, err
	}
	message.ConversationID = domain.ConversationID(conversationID)
	message.CreatedAt = message.CreatedAt.UTC()
	if editedAt.Valid {
		at := editedAt.Time.UTC()
		message.EditedAt = &at
	}
	message.Sequence = uint64(sequence)
	return message, nil
}
