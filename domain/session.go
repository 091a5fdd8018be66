package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionID identifies one live connection. A user may hold several.
type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

type Session struct {
	ID       SessionID
	UserID   string
	JoinedAt time.Time
}

// ConnectionState tracks a connection from open to teardown.
type ConnectionState int

const (
	Connecting ConnectionState = iota
	Joined
	Disconnected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Joined:
		return "joined"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
