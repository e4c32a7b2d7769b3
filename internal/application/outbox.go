package application

import (
	"sync"

	"github.com/bnema/deployctl/internal/domain"
)

const DefaultOutboxSize = 256

// Outbox is the outbound event queue of one session. Producers block while
// the queue is full, which back-pressures the child's output pipes. After
// Close every emit is dropped without blocking.
type Outbox struct {
	events chan domain.Event
	done   chan struct{}
	once   sync.Once
}

func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}

	return &Outbox{
		events: make(chan domain.Event, size),
		done:   make(chan struct{}),
	}
}

// Events is never closed; consumers also select on Done.
func (o *Outbox) Events() <-chan domain.Event {
	return o.events
}

func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

func (o *Outbox) Close() {
	o.once.Do(func() { close(o.done) })
}

func (o *Outbox) Closed() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

func (o *Outbox) emit(event domain.Event) bool {
	if o.Closed() {
		return false
	}

	select {
	case o.events <- event:
		return true
	case <-o.done:
		return false
	}
}
