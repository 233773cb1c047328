// internal/relay/memory.go
package relay

import (
	"context"
	"sync"
)

// MemoryBroker is the single-instance Broker: handlers are invoked
// synchronously on the publishing goroutine. There is nothing to fan out to,
// but keeping the loopback path means the coordinator behaves identically in
// both deployment modes.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string]map[int]Handler
	nextID int
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[int]Handler)}
}

func (b *MemoryBroker) Publish(_ context.Context, env Envelope) error {
	// Copy handlers out before invoking them: a handler may re-enter the
	// broker (e.g. a delivery triggering an unsubscribe).
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs[env.RoomID]))
	for _, h := range b.subs[env.RoomID] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(roomID string, h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}, nil
	}
	id := b.nextID
	b.nextID++
	if b.subs[roomID] == nil {
		b.subs[roomID] = make(map[int]Handler)
	}
	b.subs[roomID][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if handlers, ok := b.subs[roomID]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(b.subs, roomID)
			}
		}
	}, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[int]Handler)
	return nil
}
