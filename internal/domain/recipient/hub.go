package recipient

import "sync"

// EventKind identifies a recipient change.
type EventKind string

const (
	EventSaved   EventKind = "saved"
	EventDeleted EventKind = "deleted"
)

// Event is delivered to subscribers after a recipient change is persisted.
type Event struct {
	Kind      EventKind
	Recipient Recipient
}

// Hub fans recipient change events out to explicit subscribers.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns a function removing it again.
// Subscribers are called synchronously and must not block.
func (h *Hub) Subscribe(fn func(Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Publish delivers ev to every current subscriber.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	subs := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}
