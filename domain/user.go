package domain

import "time"

// Status is the coarse presence of a user.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

func (s Status) IsValid() bool {
	return s == StatusOnline || s == StatusOffline
}

// User is a registered account.
// Status is the persisted fallback view, live presence wins over it.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Roles        []string
	Status       Status
	CreatedAt    time.Time
	Sequence     uint64
}

// UserWithStatus is what the user list exposes to clients.
type UserWithStatus struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Status   Status `json:"status"`
}

// PresenceChange is a status transition queued for persistence.
type PresenceChange struct {
	UserID string
	Status Status
	At     time.Time
}
