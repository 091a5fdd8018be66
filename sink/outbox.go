package sink

import (
	"context"
	"dm-relay/domain/event"
	"dm-relay/errors"
	"sync"
)

// Outbox is the bounded queue between the directory and one connection writer.
// The transport drains Events() and stops when Done() is closed.
type Outbox struct {
	events chan event.Event
	done   chan struct{}
	once   sync.Once
}

func NewOutbox(bufferSize int) *Outbox {
	return &Outbox{
		events: make(chan event.Event, bufferSize),
		done:   make(chan struct{}),
	}
}

// Consume never blocks: a full buffer means the reader is too slow
// and the directory will drop this session.
func (o *Outbox) Consume(_ context.Context, e event.Event) error {
	select {
	case <-o.done:
		return errors.ErrSinkClosed
	default:
	}
	select {
	case o.events <- e:
		return nil
	default:
		return errors.ErrSinkFull
	}
}

func (o *Outbox) Events() <-chan event.Event {
	return o.events
}

func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

// Close may be called by both the directory and the transport.
func (o *Outbox) Close() {
	o.once.Do(func() { close(o.done) })
}

// Pending is the number of queued events, reported as a capacity metric.
func (o *Outbox) Pending() (length, capacity int) {
	return len(o.events), cap(o.events)
}
