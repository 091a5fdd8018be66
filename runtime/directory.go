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

type entry struct {
	sink     contract.EventSink
	joinedAt time.Time
}

// Directory maps users to their live sessions.
// A single mutex covers registration and delivery, so every sink observes
// events in the same relative order and a create always precedes its update.
// Enqueueing is non-blocking, the lock is never held across I/O.
type Directory struct {
	mu          sync.Mutex
	log         *slog.Logger
	sessions    map[string]map[domain.SessionID]entry // user -> live sessions
	owners      map[domain.SessionID]string           // session -> user
	sinkTimeout time.Duration
	onEvict     func(userID string, sessionID domain.SessionID)
}

func NewDirectory(log *slog.Logger, sinkTimeout time.Duration) *Directory {
	return &Directory{
		log:         log,
		sessions:    make(map[string]map[domain.SessionID]entry),
		owners:      make(map[domain.SessionID]string),
		sinkTimeout: sinkTimeout,
	}
}

// OnEvict installs the hook called after a failing sink has been dropped.
// The hook runs on its own goroutine and may call back into the directory.
func (d *Directory) OnEvict(fn func(userID string, sessionID domain.SessionID)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onEvict = fn
}

// Register adds a session for userID and reports whether it is the user's first one.
// Registering an already known session replaces its sink.
func (d *Directory) Register(userID string, sessionID domain.SessionID, sink contract.EventSink) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	sessions, ok := d.sessions[userID]
	if !ok {
		sessions = make(map[domain.SessionID]entry)
		d.sessions[userID] = sessions
	}
	sessions[sessionID] = entry{sink: sink, joinedAt: time.Now().UTC()}
	d.owners[sessionID] = userID
	return len(sessions) == 1
}

// Unregister removes a session. It is safe to call more than once:
// removed is false when the session was already gone.
// empty reports whether the user has no session left.
func (d *Directory) Unregister(userID string, sessionID domain.SessionID) (removed, empty bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unregisterLocked(userID, sessionID)
}

func (d *Directory) unregisterLocked(userID string, sessionID domain.SessionID) (removed, empty bool) {
	sessions, ok := d.sessions[userID]
	if !ok {
		return false, true
	}
	if _, ok = sessions[sessionID]; ok {
		delete(sessions, sessionID)
		delete(d.owners, sessionID)
		removed = true
	}
	// No empty sets are kept around
	if len(sessions) == 0 {
		delete(d.sessions, userID)
		return removed, true
	}
	return removed, false
}

func (d *Directory) HasSessions(userID string) bool {
	return d.SessionCount(userID) > 0
}

func (d *Directory) SessionCount(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions[userID])
}

// Owner resolves the user holding a session.
func (d *Directory) Owner(sessionID domain.SessionID) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	userID, ok := d.owners[sessionID]
	return userID, ok
}

// OnlineUsers lists users with at least one live session.
func (d *Directory) OnlineUsers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	users := make([]string, 0, len(d.sessions))
	for userID := range d.sessions {
		users = append(users, userID)
	}
	return users
}

// Sessions returns a copy of the live sessions, used by the debug server.
func (d *Directory) Sessions() []domain.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	var res []domain.Session
	for userID, sessions := range d.sessions {
		for sessionID, e := range sessions {
			res = append(res, domain.Session{ID: sessionID, UserID: userID, JoinedAt: e.joinedAt})
		}
	}
	return res
}

// Deliver pushes e to every live session of userID.
func (d *Directory) Deliver(ctx context.Context, userID string, e event.Event) {
	d.DeliverMany(ctx, []string{userID}, e)
}

// DeliverMany pushes e once to every live session of each distinct user.
func (d *Directory) DeliverMany(ctx context.Context, userIDs []string, e event.Event) {
	d.mu.Lock()
	seen := make(map[string]struct{}, len(userIDs))
	var evicted []domain.Session
	for _, userID := range userIDs {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		evicted = append(evicted, d.pushLocked(ctx, userID, e)...)
	}
	hook := d.onEvict
	d.mu.Unlock()

	d.notifyEvicted(hook, evicted)
}

// DeliverToSession pushes e to a single session, used for error replies.
func (d *Directory) DeliverToSession(ctx context.Context, sessionID domain.SessionID, e event.Event) bool {
	d.mu.Lock()
	userID, ok := d.owners[sessionID]
	if !ok {
		d.mu.Unlock()
		return false
	}
	target := d.sessions[userID][sessionID]
	var evicted []domain.Session
	delivered := d.consume(ctx, target.sink, e)
	if !delivered {
		d.evictLocked(userID, sessionID, target.sink)
		evicted = append(evicted, domain.Session{ID: sessionID, UserID: userID})
	}
	hook := d.onEvict
	d.mu.Unlock()

	d.notifyEvicted(hook, evicted)
	return delivered
}

// Broadcast pushes e to every live session of every user.
func (d *Directory) Broadcast(ctx context.Context, e event.Event) {
	d.mu.Lock()
	var evicted []domain.Session
	for userID := range d.sessions {
		evicted = append(evicted, d.pushLocked(ctx, userID, e)...)
	}
	hook := d.onEvict
	d.mu.Unlock()

	d.notifyEvicted(hook, evicted)
}

func (d *Directory) pushLocked(ctx context.Context, userID string, e event.Event) []domain.Session {
	var evicted []domain.Session
	for sessionID, target := range d.sessions[userID] {
		if d.consume(ctx, target.sink, e) {
			continue
		}
		d.evictLocked(userID, sessionID, target.sink)
		evicted = append(evicted, domain.Session{ID: sessionID, UserID: userID})
	}
	return evicted
}

func (d *Directory) consume(ctx context.Context, sink contract.EventSink, e event.Event) bool {
	// The caller going away must not evict the receivers
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sinkTimeout)
	defer cancel()
	if err := sink.Consume(sinkCtx, e); err != nil {
		d.log.Debug("Sink rejected event", "type", e.Type, "error", err)
		return false
	}
	return true
}

// evictLocked drops a sink that could not keep up or is gone.
// Deleting from a map while ranging over it is safe in Go.
func (d *Directory) evictLocked(userID string, sessionID domain.SessionID, sink contract.EventSink) {
	d.unregisterLocked(userID, sessionID)
	if closer, ok := sink.(interface{ Close() }); ok {
		closer.Close()
	}
	d.log.Warn("Session evicted", "user_id", userID, "session_id", sessionID)
}

func (d *Directory) notifyEvicted(hook func(string, domain.SessionID), evicted []domain.Session) {
	if hook == nil {
		return
	}
	for _, s := range evicted {
		go hook(s.UserID, s.ID)
	}
}
