package logqueue

import (
	"context"
	"fmt"
	"sync"
)

// Mux routes deliveries to the Sender registered for their queue.
type Mux struct {
	entries map[string]muxEntry
	mu      *sync.RWMutex
}

type muxEntry struct {
	s    Sender
	name string
}

func NewMux() *Mux {
	return &Mux{
		entries: make(map[string]muxEntry),
		mu:      &sync.RWMutex{},
	}
}

// Handle registers the sender for a queue name, replacing any previous one.
func (m *Mux) Handle(name string, s Sender) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[name] = muxEntry{
		s:    s,
		name: name,
	}
}

// Send dispatches the delivery to the sender of its queue.
func (m *Mux) Send(ctx context.Context, d *Delivery) error {
	return m.Sender(d.Queue).Send(ctx, d)
}

// Sender returns the sender to use for the given queue.
// It always returns a non-nil sender.
//
// If there is no registered sender for the queue, Sender returns a
// 'not found' sender which returns an error, so entries stay queued.
func (m *Mux) Sender(queueName string) Sender {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if v, ok := m.entries[queueName]; ok && v.s != nil {
		return v.s
	}

	return NotFoundSender()
}

// NotFound returns an error indicating that no sender is registered for the delivery's queue.
func NotFound(_ context.Context, d *Delivery) error {
	return fmt.Errorf("sender not found for queue %q", d.Queue)
}

// NotFoundSender returns a simple sender that returns a “not found“ error.
func NotFoundSender() Sender { return SenderFunc(NotFound) }
