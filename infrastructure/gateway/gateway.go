package gateway

import (
	"context"
	"dm-relay/auth"
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/domain/event"
	"dm-relay/errors"
	"dm-relay/runtime"
	"dm-relay/services"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Gateway routes inbound envelopes of authenticated connections.
type Gateway struct {
	log       *slog.Logger
	lifecycle *runtime.Lifecycle
	directory contract.IDirectory
	chat      services.IChatService
	onInbound func(event, outcome string)
}

func NewGateway(log *slog.Logger, lifecycle *runtime.Lifecycle, directory contract.IDirectory,
	chat services.IChatService) *Gateway {
	return &Gateway{log: log, lifecycle: lifecycle, directory: directory, chat: chat}
}

// OnInbound registers a callback fired for every handled envelope.
func (g *Gateway) OnInbound(fn func(event, outcome string)) {
	g.onInbound = fn
}

// Session is one transport connection seen by the gateway.
type Session struct {
	gateway  *Gateway
	identity auth.Identity
	conn     *runtime.Connection
	sink     contract.EventSink
}

// Open starts a session for an authenticated caller. Nothing is delivered
// to sink before the session joins, except errors.
func (g *Gateway) Open(identity auth.Identity, sink contract.EventSink) *Session {
	return &Session{
		gateway:  g,
		identity: identity,
		conn:     g.lifecycle.Open(sink),
		sink:     sink,
	}
}

func (s *Session) ID() domain.SessionID {
	return s.conn.SessionID()
}

func (s *Session) UserID() string {
	return s.identity.UserID
}

func (s *Session) State() domain.ConnectionState {
	return s.conn.State()
}

// Handle processes one envelope. A failure is reported to this session
// only, and returned for the transport's own logging.
func (s *Session) Handle(ctx context.Context, env Envelope) error {
	err := s.route(ctx, env)
	outcome := "ok"
	if err != nil {
		outcome = errors.Code(err)
		s.reportError(ctx, env.Event, err)
	}
	if s.gateway.onInbound != nil {
		s.gateway.onInbound(env.Event, outcome)
	}
	return err
}

// Reject reports a frame the transport could not even decode.
func (s *Session) Reject(ctx context.Context, err error) {
	s.reportError(ctx, "", err)
	if s.gateway.onInbound != nil {
		s.gateway.onInbound("", errors.Code(err))
	}
}

// Close tears the session down, it is safe to call it more than once.
func (s *Session) Close(ctx context.Context) {
	s.gateway.lifecycle.Disconnect(ctx, s.conn)
}

func (s *Session) route(ctx context.Context, env Envelope) error {
	switch env.Event {
	case JoinEvent:
		var payload JoinPayload
		if err := decode(env, &payload); err != nil {
			return err
		}
		return s.join(ctx, payload)
	case SendMessageEvent:
		var payload SendMessagePayload
		if err := decode(env, &payload); err != nil {
			return err
		}
		return s.send(ctx, payload)
	case UpdateMessageEvent:
		var payload UpdateMessagePayload
		if err := decode(env, &payload); err != nil {
			return err
		}
		return s.update(ctx, payload)
	case DeleteMessageEvent:
		var payload DeleteMessagePayload
		if err := decode(env, &payload); err != nil {
			return err
		}
		return s.delete(ctx, payload)
	case DisconnectEvent:
		s.Close(ctx)
		return nil
	default:
		return fmt.Errorf("%w: %q", errors.ErrUnknownEvent, env.Event)
	}
}

// join binds the connection to the token's user, a client can't join as
// somebody else.
func (s *Session) join(ctx context.Context, payload JoinPayload) error {
	userID := payload.UserID
	if userID == "" {
		userID = s.identity.UserID
	}
	if userID != s.identity.UserID {
		return fmt.Errorf("%w: cannot join as another user", errors.ErrForbidden)
	}
	return s.gateway.lifecycle.Join(ctx, s.conn, userID)
}

func (s *Session) send(ctx context.Context, payload SendMessagePayload) error {
	userID, err := s.joinedUser()
	if err != nil {
		return err
	}
	if payload.SenderID != "" && payload.SenderID != userID {
		return fmt.Errorf("%w: sender must be the connected user", errors.ErrForbidden)
	}
	senderName := payload.SenderName
	if senderName == "" {
		senderName = s.identity.Username
	}
	_, err = s.gateway.chat.SendMessage(ctx, domain.SendMessageCommand{
		SenderID:       userID,
		SenderName:     senderName,
		ReceiverID:     payload.ReceiverID,
		Content:        payload.Content,
		ConversationID: domain.ConversationID(payload.ConversationID),
	})
	return err
}

func (s *Session) update(ctx context.Context, payload UpdateMessagePayload) error {
	userID, err := s.joinedUser()
	if err != nil {
		return err
	}
	id, err := parseMessageID(payload.MessageID)
	if err != nil {
		return err
	}
	_, err = s.gateway.chat.UpdateMessage(ctx, domain.UpdateMessageCommand{
		EditorID: userID, MessageID: id, Content: payload.Content,
	})
	return err
}

func (s *Session) delete(ctx context.Context, payload DeleteMessagePayload) error {
	userID, err := s.joinedUser()
	if err != nil {
		return err
	}
	id, err := parseMessageID(payload.MessageID)
	if err != nil {
		return err
	}
	_, err = s.gateway.chat.DeleteMessage(ctx, domain.DeleteMessageCommand{RequesterID: userID, MessageID: id})
	return err
}

func (s *Session) joinedUser() (string, error) {
	if s.conn.State() != domain.Joined {
		return "", fmt.Errorf("%w: join first", errors.ErrValidation)
	}
	return s.conn.UserID(), nil
}

// reportError goes through the directory once joined so that the error
// keeps its place among the events of this session.
func (s *Session) reportError(ctx context.Context, origin string, err error) {
	failure := event.FailureEvent(errors.Code(err), publicMessage(err), origin)
	s.gateway.log.Debug("Inbound event failed",
		"event", origin, "session_id", s.ID(), "user_id", s.identity.UserID, "error", err)

	if s.conn.State() == domain.Joined && s.gateway.directory.DeliverToSession(ctx, s.ID(), failure) {
		return
	}
	if consumeErr := s.sink.Consume(ctx, failure); consumeErr != nil {
		s.gateway.log.Debug("Error event dropped", "session_id", s.ID(), "error", consumeErr)
	}
}

// publicMessage keeps storage internals out of client frames.
func publicMessage(err error) string {
	if errors.Code(err) == errors.CodeStorage || errors.Code(err) == errors.CodeInternal {
		return "the message could not be processed, please retry"
	}
	return err.Error()
}

func decode(env Envelope, target any) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	return nil
}

func parseMessageID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid message id", errors.ErrValidation)
	}
	return id, nil
}
