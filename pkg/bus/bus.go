package bus

import "sync"

const defaultBufferSize = 16

// MessageBus fans turn lifecycle events out to subscribers without blocking
// publishers. Slow subscribers lose events rather than stalling a turn.
type MessageBus struct {
	mu                    sync.RWMutex
	eventSubscribers      map[int]chan Event
	nextEventSubscriberID int
	done                  chan struct{}
	closed                bool
}

// New creates an open MessageBus.
func New() *MessageBus {
	return &MessageBus{
		eventSubscribers: make(map[int]chan Event),
		done:             make(chan struct{}),
	}
}

// Close stops the bus and closes all subscriber channels. Safe to call twice.
func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.done)

	for id, ch := range mb.eventSubscribers {
		delete(mb.eventSubscribers, id)
		close(ch)
	}
}
