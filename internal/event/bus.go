// Package event provides the in-process pub/sub bus the dispatcher
// publishes state transitions on. Subscribers own their delivery; the
// engine never polls.
package event

import (
	"sync"
	"time"
)

// Kind classifies the entity an event refers to.
type Kind string

const (
	KindRequest Kind = "request"
	KindAlert   Kind = "alert"
)

// Event is a single state transition observed by the dispatcher.
type Event struct {
	Kind     Kind      `json:"kind"`
	EntityID string    `json:"entity_id"`
	State    string    `json:"state"`
	HelperID string    `json:"helper_id,omitempty"`
	At       time.Time `json:"at"`
}

// DefaultBufferSize is the per-subscriber event buffer. A subscriber
// that falls this far behind starts losing events rather than blocking
// publishers.
const DefaultBufferSize = 64

// Bus fans events out to subscribers. Publish never blocks: a full
// subscriber buffer drops the event for that subscriber only.
type Bus struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan Event
	bufSize int
	closed  bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the per-subscriber buffer size.
func WithBufferSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:    make(map[int]chan Event),
		bufSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscriber receives events on C until Close is called or the bus
// shuts down.
type Subscriber struct {
	C <-chan Event

	id  int
	bus *Bus
}

// Close detaches the subscriber and closes its channel.
func (s *Subscriber) Close() {
	s.bus.unsubscribe(s.id)
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufSize)
	if b.closed {
		close(ch)
		return &Subscriber{C: ch, id: -1, bus: b}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return &Subscriber{C: ch, id: id, bus: b}
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Subscribers reports how many subscribers are attached.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
