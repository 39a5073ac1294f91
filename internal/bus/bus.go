package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus with namespace-prefix
// filtering. Delivery is non-blocking: a subscriber whose buffer is full
// misses the event rather than stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if strings.HasPrefix(evt.Kind, s.prefix) {
			select {
			case s.ch <- evt:
			default:
				// Subscriber buffer full; drop.
			}
		}
	}
}

// Subscribe registers interest in events whose Kind starts with prefix. An
// empty prefix receives everything. The returned func removes the
// subscription; it must be called on teardown or the channel keeps
// receiving events for a reader that is gone.
func (b *Bus) Subscribe(prefix string, buf int) (<-chan Event, func()) {
	ch := make(chan Event, buf)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
