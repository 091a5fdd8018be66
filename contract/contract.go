//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"dm-relay/domain"
	"dm-relay/domain/event"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging during supervision, so workers don't have to name themselves.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is the outbound side of one live session.
// Consume must not block: a sink that cannot accept the event returns an error.
type EventSink interface {
	Consume(ctx context.Context, e event.Event) error
}

// IDirectory knows which sessions are live for which user.
type IDirectory interface {
	Register(userID string, sessionID domain.SessionID, sink EventSink) (first bool)
	Unregister(userID string, sessionID domain.SessionID) (removed, empty bool)
	HasSessions(userID string) bool
	SessionCount(userID string) int
	Deliver(ctx context.Context, userID string, e event.Event)
	DeliverMany(ctx context.Context, userIDs []string, e event.Event)
	DeliverToSession(ctx context.Context, sessionID domain.SessionID, e event.Event) bool
	Broadcast(ctx context.Context, e event.Event)
	OnlineUsers() []string
}

// IPresence turns session changes into userStatusChange broadcasts.
type IPresence interface {
	MarkConnected(ctx context.Context, userID string)
	MarkDisconnected(ctx context.Context, userID string)
	IsOnline(userID string) bool
	Snapshot() map[string]domain.Status
}
