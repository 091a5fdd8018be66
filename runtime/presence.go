package runtime

import (
	"context"
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/domain/event"
	"log/slog"
	"sync"
	"time"
)

// PresenceRegistry derives online/offline from the directory's session sets.
// Every transition re-reads the directory under mu, so concurrent connects
// and disconnects of the same user converge without double emission.
type PresenceRegistry struct {
	mu        sync.Mutex
	log       *slog.Logger
	directory contract.IDirectory
	online    map[string]time.Time
	changes   chan<- domain.PresenceChange
	onChange  func(status domain.Status)
}

// NewPresenceRegistry wires the registry to the directory.
// changes may be nil, persisted status is then never updated.
func NewPresenceRegistry(log *slog.Logger, directory contract.IDirectory,
	changes chan<- domain.PresenceChange) *PresenceRegistry {
	return &PresenceRegistry{
		log:       log,
		directory: directory,
		online:    make(map[string]time.Time),
		changes:   changes,
	}
}

// OnChange registers a callback fired on each transition, used for metrics.
func (p *PresenceRegistry) OnChange(fn func(status domain.Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// MarkConnected flips userID online if a session exists and it was offline.
func (p *PresenceRegistry) MarkConnected(ctx context.Context, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.directory.HasSessions(userID) {
		return
	}
	if _, ok := p.online[userID]; ok {
		return
	}
	p.online[userID] = time.Now().UTC()
	p.transitionLocked(ctx, userID, domain.StatusOnline)
}

// MarkDisconnected flips userID offline once its last session is gone.
func (p *PresenceRegistry) MarkDisconnected(ctx context.Context, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.directory.HasSessions(userID) {
		return
	}
	if _, ok := p.online[userID]; !ok {
		return
	}
	delete(p.online, userID)
	p.transitionLocked(ctx, userID, domain.StatusOffline)
}

// transitionLocked broadcasts while holding mu so that a user's
// online and offline events leave in the order they were decided.
func (p *PresenceRegistry) transitionLocked(ctx context.Context, userID string, status domain.Status) {
	p.log.Debug("Presence changed", "user_id", userID, "status", status)
	p.persist(userID, status)
	if p.onChange != nil {
		p.onChange(status)
	}
	p.directory.Broadcast(ctx, event.UserStatusChangeEvent(userID, status))
}

// persist is best effort: a full queue only costs the fallback view.
func (p *PresenceRegistry) persist(userID string, status domain.Status) {
	if p.changes == nil {
		return
	}
	select {
	case p.changes <- domain.PresenceChange{UserID: userID, Status: status, At: time.Now().UTC()}:
	default:
		p.log.Warn("Presence persistence queue full, dropping status", "user_id", userID, "status", status)
	}
}

func (p *PresenceRegistry) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[userID]
	return ok
}

// Snapshot returns the online users only, absent users are offline.
func (p *PresenceRegistry) Snapshot() map[string]domain.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := make(map[string]domain.Status, len(p.online))
	for userID := range p.online {
		res[userID] = domain.StatusOnline
	}
	return res
}

// OnlineSince reports when the user last came online.
func (p *PresenceRegistry) OnlineSince(userID string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.online[userID]
	return at, ok
}
