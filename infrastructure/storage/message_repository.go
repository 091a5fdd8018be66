package storage

import (
	"context"
	"dm-relay/domain"
	"dm-relay/errors"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	messagePrefix      = "msg:"
	messageIndexPrefix = "msgid:"
	messageSequenceKey = "seq:msg"
	sequenceBandwidth  = 100
)

// MessageRepository stores messages under
// "msg:{conversation}:{created_at_nanos}:{sequence}" so that a prefix scan
// returns a conversation in (CreatedAt, Sequence) order.
// "msgid:{id}" points back to the primary key.
type MessageRepository struct {
	db       *badger.DB
	log      *slog.Logger
	sequence *badger.Sequence
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) (*MessageRepository, error) {
	sequence, err := db.GetSequence([]byte(messageSequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &MessageRepository{db: db, log: log, sequence: sequence}, nil
}

// Close hands the leased sequence numbers back.
func (r *MessageRepository) Close() error {
	return r.sequence.Release()
}

func messageKey(m domain.Message) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%020d", messagePrefix, m.ConversationID, m.CreatedAt.UnixNano(), m.Sequence))
}

func conversationPrefix(id domain.ConversationID) []byte {
	return []byte(fmt.Sprintf("%s%s:", messagePrefix, id))
}

func messageIndexKey(id uuid.UUID) []byte {
	return []byte(messageIndexPrefix + id.String())
}

func (r *MessageRepository) Append(ctx context.Context, message domain.Message) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	if message.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Message{}, err
		}
		message.ID = id
	}
	sequence, err := r.sequence.Next()
	if err != nil {
		return domain.Message{}, fmt.Errorf("next message sequence: %w", err)
	}
	// Badger sequences start at zero
	message.Sequence = sequence + 1

	key := messageKey(message)
	err = update(r.db, func(txn *badger.Txn) error {
		if err := txn.Set(key, encodeMessage(message)); err != nil {
			return err
		}
		return txn.Set(messageIndexKey(message.ID), key)
	})
	if err != nil {
		return domain.Message{}, err
	}
	r.log.Debug("Message stored", "conversation_id", message.ConversationID, "sequence", message.Sequence)
	return message, nil
}

// GetByConversation returns the non deleted messages, oldest first.
func (r *MessageRepository) GetByConversation(ctx context.Context, id domain.ConversationID) ([]domain.Message, error) {
	messages := make([]domain.Message, 0)
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := conversationPrefix(id)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var message domain.Message
			err := it.Item().Value(func(val []byte) error {
				var err error
				message, err = decodeMessage(val)
				return err
			})
			if err != nil {
				return err
			}
			// the prefix also matches longer ids that start with this one
			if message.ConversationID != id || message.Deleted {
				continue
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// GetByID also returns deleted messages.
func (r *MessageRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	var message domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		message, _, err = getMessage(txn, id)
		return err
	})
	return message, err
}

func (r *MessageRepository) UpdateContent(ctx context.Context, cmd domain.UpdateContent) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	var updated domain.Message
	err := update(r.db, func(txn *badger.Txn) error {
		message, key, err := getMessage(txn, cmd.ID)
		if err != nil {
			return err
		}
		if message.Deleted {
			return fmt.Errorf("%w: message %s was deleted", errors.ErrNotFound, cmd.ID)
		}
		if message.SenderID != cmd.EditorID {
			return fmt.Errorf("%w: only the sender can edit a message", errors.ErrForbidden)
		}
		if cmd.EditedAt.Sub(message.CreatedAt) >= cmd.Window {
			return fmt.Errorf("%w: message is older than %s", errors.ErrEditWindowExpired, cmd.Window)
		}
		editedAt := cmd.EditedAt
		message.Content = cmd.Content
		message.EditedAt = &editedAt
		updated = message
		return txn.Set(key, encodeMessage(message))
	})
	return updated, err
}

func (r *MessageRepository) SoftDelete(ctx context.Context, id uuid.UUID, requesterID string) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	var deleted domain.Message
	err := update(r.db, func(txn *badger.Txn) error {
		message, key, err := getMessage(txn, id)
		if err != nil {
			return err
		}
		if message.Deleted {
			return fmt.Errorf("%w: message %s was already deleted", errors.ErrNotFound, id)
		}
		if message.SenderID != requesterID {
			return fmt.Errorf("%w: only the sender can delete a message", errors.ErrForbidden)
		}
		message.Deleted = true
		deleted = message
		return txn.Set(key, encodeMessage(message))
	})
	return deleted, err
}

// getMessage resolves the id index, reading both keys inside txn so that a
// concurrent update of the record conflicts.
func getMessage(txn *badger.Txn, id uuid.UUID) (domain.Message, []byte, error) {
	index, err := txn.Get(messageIndexKey(id))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, nil, fmt.Errorf("%w: message %s", errors.ErrNotFound, id)
	}
	if err != nil {
		return domain.Message{}, nil, err
	}
	key, err := index.ValueCopy(nil)
	if err != nil {
		return domain.Message{}, nil, err
	}

	item, err := txn.Get(key)
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, nil, fmt.Errorf("%w: message %s", errors.ErrNotFound, id)
	}
	if err != nil {
		return domain.Message{}, nil, err
	}
	var message domain.Message
	err = item.Value(func(val []byte) error {
		message, err = decodeMessage(val)
		return err
	})
	return message, key, err
}
