package sink

import (
	"context"
	"dm-relay/domain/event"
	"sync"
)

// Timeline keeps every event it receives, in order.
// Tests use it as a session sink to assert on deliveries.
type Timeline struct {
	mu     sync.Mutex
	Owner  string
	events []event.Event
	notify chan struct{}
}

func NewTimeline(owner string) *Timeline {
	return &Timeline{Owner: owner, notify: make(chan struct{}, 1)}
}

func (t *Timeline) Consume(_ context.Context, e event.Event) error {
	t.mu.Lock()
	t.events = append(t.events, e)
	t.mu.Unlock()
	select {
	case t.notify <- struct{}{}:
	default:
	}
	return nil
}

// Events returns a copy of what has been received so far.
func (t *Timeline) Events() []event.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	res := make([]event.Event, len(t.events))
	copy(res, t.events)
	return res
}

// OfType filters received events by type.
func (t *Timeline) OfType(typ event.Type) []event.Event {
	var res []event.Event
	for _, e := range t.Events() {
		if e.Type == typ {
			res = append(res, e)
		}
	}
	return res
}

// Updated fires after at least one new event was appended.
func (t *Timeline) Updated() <-chan struct{} {
	return t.notify
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}
