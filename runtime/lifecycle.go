package runtime

import (
	"context"
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Connection is the per-transport state machine:
// Connecting -> Joined -> Disconnected, the last one being terminal.
type Connection struct {
	mu        sync.Mutex
	sessionID domain.SessionID
	userID    string
	state     domain.ConnectionState
	sink      contract.EventSink
	openedAt  time.Time
}

func (c *Connection) SessionID() domain.SessionID {
	return c.sessionID
}

func (c *Connection) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Connection) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Lifecycle binds connections to the directory and presence registry.
type Lifecycle struct {
	log       *slog.Logger
	directory contract.IDirectory
	presence  contract.IPresence
	onJoin    func()
	onLeave   func()
}

func NewLifecycle(log *slog.Logger, directory contract.IDirectory, presence contract.IPresence) *Lifecycle {
	return &Lifecycle{log: log, directory: directory, presence: presence}
}

// OnSessionChange registers callbacks fired when a session joins or leaves.
func (l *Lifecycle) OnSessionChange(onJoin, onLeave func()) {
	l.onJoin = onJoin
	l.onLeave = onLeave
}

// Open starts tracking a new transport connection with a fresh session id.
// Reconnecting always goes through Open again, nothing is replayed.
func (l *Lifecycle) Open(sink contract.EventSink) *Connection {
	return &Connection{
		sessionID: domain.NewSessionID(),
		state:     domain.Connecting,
		sink:      sink,
		openedAt:  time.Now().UTC(),
	}
}

// Join binds the connection to userID, then reconciles presence.
// A second join with the same id is a no-op, with another id it is refused.
func (l *Lifecycle) Join(ctx context.Context, conn *Connection, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required to join", errors.ErrValidation)
	}

	conn.mu.Lock()
	switch conn.state {
	case domain.Disconnected:
		conn.mu.Unlock()
		return fmt.Errorf("%w: connection already closed", errors.ErrValidation)
	case domain.Joined:
		current := conn.userID
		conn.mu.Unlock()
		if current != userID {
			return fmt.Errorf("%w: connection already joined as another user", errors.ErrValidation)
		}
		return nil
	}
	conn.userID = userID
	conn.state = domain.Joined
	// Registering under the connection lock keeps a concurrent Disconnect
	// from running between the state change and the registration.
	first := l.directory.Register(userID, conn.sessionID, conn.sink)
	conn.mu.Unlock()

	l.log.Debug("Session joined", "user_id", userID, "session_id", conn.sessionID, "first", first)
	if l.onJoin != nil {
		l.onJoin()
	}
	l.presence.MarkConnected(ctx, userID)
	return nil
}

// Disconnect tears the connection down. Calling it again does nothing.
func (l *Lifecycle) Disconnect(ctx context.Context, conn *Connection) {
	conn.mu.Lock()
	previous := conn.state
	conn.state = domain.Disconnected
	userID := conn.userID
	var removed bool
	if previous == domain.Joined {
		removed, _ = l.directory.Unregister(userID, conn.sessionID)
	}
	conn.mu.Unlock()

	if previous != domain.Joined {
		return
	}
	l.log.Debug("Session left", "user_id", userID, "session_id", conn.sessionID, "removed", removed)
	if removed && l.onLeave != nil {
		l.onLeave()
	}
	l.presence.MarkDisconnected(ctx, userID)
}

// HandleEviction reconciles presence after the directory dropped a session.
func (l *Lifecycle) HandleEviction(userID string, sessionID domain.SessionID) {
	l.log.Debug("Reconciling presence after eviction", "user_id", userID, "session_id", sessionID)
	if l.onLeave != nil {
		l.onLeave()
	}
	l.presence.MarkDisconnected(context.Background(), userID)
}
