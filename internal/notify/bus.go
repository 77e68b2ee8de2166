// Package notify fans sync lifecycle events out to in-process
// subscribers and, through Server, to WebSocket clients.
package notify

import (
	"sync"
	"time"
)

// EventKind identifies what happened during a sync cycle.
type EventKind string

const (
	// EventCycleStart marks the beginning of a sync cycle for a project.
	EventCycleStart EventKind = "cycle_start"

	// EventCycleSuccess marks a fully reconciled cycle.
	EventCycleSuccess EventKind = "cycle_success"

	// EventCycleError marks a cycle aborted by an error; pending queue
	// items are retained for the next cycle.
	EventCycleError EventKind = "cycle_error"

	// EventConflict marks a local mutation discarded in favor of the
	// remote version.
	EventConflict EventKind = "conflict"
)

// Event is one sync lifecycle notification.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	ProjectID string    `json:"project_id"`

	// Title is the diagram filename for diagram-scoped events.
	Title string `json:"title,omitempty"`

	// Error carries the failure text for cycle_error events.
	Error string `json:"error,omitempty"`
}

// Bus delivers events to subscribers without ever blocking the
// publisher. Slow subscribers lose events rather than stall a cycle.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber, stamping the time if
// unset. Full subscriber buffers drop the event.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
