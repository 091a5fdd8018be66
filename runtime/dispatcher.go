// Package runtime holds the live side of the engine: who is connected,
// who is online, and how message events reach the right sessions.
package runtime

import (
	"context"
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/domain/event"
	"dm-relay/errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Censor rewrites forbidden words before content is persisted.
type Censor interface {
	Censor(content string) (string, []string)
}

type DispatcherConfig struct {
	EditWindow       time.Duration
	StoreTimeout     time.Duration
	MaxContentLength int
}

// Dispatcher validates message intents, persists them through the store
// and fans the resulting event out to both participants.
// It holds no lock: same-message mutations are serialized by the store.
type Dispatcher struct {
	log               *slog.Logger
	messageRepository contract.IMessageRepository
	directory         contract.IDirectory
	moderator         Censor
	validate          *validator.Validate
	config            DispatcherConfig
	now               func() time.Time
	onDelivered       func(t event.Type)
}

func NewDispatcher(log *slog.Logger, messageRepository contract.IMessageRepository,
	directory contract.IDirectory, moderator Censor, config DispatcherConfig) *Dispatcher {
	if config.EditWindow <= 0 {
		config.EditWindow = domain.DefaultEditWindow
	}
	return &Dispatcher{
		log:               log,
		messageRepository: messageRepository,
		directory:         directory,
		moderator:         moderator,
		validate:          validator.New(),
		config:            config,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, tests use it to cross the edit window.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// OnDelivered registers a callback fired after each fan-out, used for metrics.
func (d *Dispatcher) OnDelivered(fn func(t event.Type)) {
	d.onDelivered = fn
}

// Send persists a new message and delivers newMessage to sender and receiver.
// Nothing is delivered when persistence fails.
func (d *Dispatcher) Send(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error) {
	if err := d.validate.Struct(cmd); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	for _, id := range []string{cmd.SenderID, cmd.ReceiverID} {
		if !domain.IsValidParticipantID(id) {
			return domain.Message{}, fmt.Errorf("%w: malformed user id %q", errors.ErrValidation, id)
		}
	}
	if err := d.checkContent(cmd.Content); err != nil {
		return domain.Message{}, err
	}

	conversationID := domain.DeriveConversationID(cmd.SenderID, cmd.ReceiverID)
	if cmd.ConversationID != "" && cmd.ConversationID != conversationID {
		return domain.Message{}, fmt.Errorf("%w: conversation %s does not match participants",
			errors.ErrValidation, cmd.ConversationID)
	}

	message := domain.Message{
		ID:             uuid.Must(uuid.NewV7()),
		ConversationID: conversationID,
		SenderID:       cmd.SenderID,
		ReceiverID:     cmd.ReceiverID,
		Content:        d.censor(cmd.Content),
		CreatedAt:      d.now(),
	}

	stored, err := withStoreTimeout(ctx, d.config.StoreTimeout, func(ctx context.Context) (domain.Message, error) {
		return d.messageRepository.Append(ctx, message)
	})
	if err != nil {
		d.log.Error("Unable to store message", "conversation_id", conversationID, "error", err)
		return domain.Message{}, err
	}

	d.deliver(ctx, stored, event.NewMessageEvent(stored, cmd.SenderName))
	return stored, nil
}

// Edit replaces the content of a message its sender posted less than
// EditWindow ago and delivers messageUpdated to both participants.
func (d *Dispatcher) Edit(ctx context.Context, cmd domain.UpdateMessageCommand) (domain.Message, error) {
	if err := d.validate.Struct(cmd); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	if err := d.checkContent(cmd.Content); err != nil {
		return domain.Message{}, err
	}

	update := domain.UpdateContent{
		ID:       cmd.MessageID,
		EditorID: cmd.EditorID,
		Content:  d.censor(cmd.Content),
		EditedAt: d.now(),
		Window:   d.config.EditWindow,
	}
	updated, err := withStoreTimeout(ctx, d.config.StoreTimeout, func(ctx context.Context) (domain.Message, error) {
		return d.messageRepository.UpdateContent(ctx, update)
	})
	if err != nil {
		d.log.Debug("Edit refused", "message_id", cmd.MessageID, "editor_id", cmd.EditorID, "error", err)
		return domain.Message{}, err
	}

	d.deliver(ctx, updated, event.MessageUpdatedEvent(updated))
	return updated, nil
}

// Delete soft-deletes a message owned by the requester, whatever its age,
// and delivers messageDeleted to both participants.
func (d *Dispatcher) Delete(ctx context.Context, cmd domain.DeleteMessageCommand) (domain.Message, error) {
	if err := d.validate.Struct(cmd); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}

	deleted, err := withStoreTimeout(ctx, d.config.StoreTimeout, func(ctx context.Context) (domain.Message, error) {
		return d.messageRepository.SoftDelete(ctx, cmd.MessageID, cmd.RequesterID)
	})
	if err != nil {
		d.log.Debug("Delete refused", "message_id", cmd.MessageID, "requester_id", cmd.RequesterID, "error", err)
		return domain.Message{}, err
	}

	d.deliver(ctx, deleted, event.MessageDeletedEvent(deleted))
	return deleted, nil
}

// History returns the visible messages of a conversation, oldest first.
func (d *Dispatcher) History(ctx context.Context, conversationID domain.ConversationID) ([]domain.Message, error) {
	if _, _, ok := conversationID.Participants(); !ok {
		return nil, fmt.Errorf("%w: malformed conversation id %q", errors.ErrValidation, conversationID)
	}
	return withStoreTimeout(ctx, d.config.StoreTimeout, func(ctx context.Context) ([]domain.Message, error) {
		return d.messageRepository.GetByConversation(ctx, conversationID)
	})
}

func (d *Dispatcher) deliver(ctx context.Context, message domain.Message, e event.Event) {
	d.directory.DeliverMany(ctx, message.Participants(), e)
	if d.onDelivered != nil {
		d.onDelivered(e.Type)
	}
}

func (d *Dispatcher) checkContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is blank", errors.ErrValidation)
	}
	if d.config.MaxContentLength > 0 && utf8.RuneCountInString(content) > d.config.MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", errors.ErrValidation, d.config.MaxContentLength)
	}
	return nil
}

func (d *Dispatcher) censor(content string) string {
	if d.moderator == nil {
		return content
	}
	censored, words := d.moderator.Censor(content)
	if len(words) > 0 {
		d.log.Debug("Content censored", "count", len(words))
	}
	return censored
}
