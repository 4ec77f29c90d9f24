// Package notify fans live-reload commands out to connected clients.
package notify

import (
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/lawnchairsociety/livereload/internal/command"
	"github.com/lawnchairsociety/livereload/internal/logger"
)

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 16

// Broadcaster delivers every published message to all subscriptions.
type Broadcaster struct {
	mu     sync.Mutex // Protects subs and closed
	subs   map[string]*Subscription
	buffer int
	closed bool
}

// Subscription receives published messages on C until closed.
type Subscription struct {
	ID string
	C  <-chan string

	ch   chan string
	b    *Broadcaster
	once sync.Once
}

// NewBroadcaster creates a Broadcaster whose subscriptions queue up to
// buffer messages. A non-positive buffer uses DefaultBuffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a new subscription. After Close the returned
// subscription's channel is already closed.
func (b *Broadcaster) Subscribe() *Subscription {
	ch := make(chan string, b.buffer)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch, b: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.once.Do(func() { close(ch) })
		return sub
	}
	b.subs[sub.ID] = sub
	return sub
}

// Publish queues msg on every subscription and returns how many received
// it. Subscriptions with a full queue miss the message.
func (b *Broadcaster) Publish(msg string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for id, sub := range b.subs {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			logger.Warning("Subscriber queue full, dropping message", "subscriber", id, "data", msg)
		}
	}
	logger.Debug("Published", "data", msg, "subscribers", len(b.subs), "delivered", delivered)
	return delivered
}

// Notify asks every client to reload the page.
func (b *Broadcaster) Notify() int {
	return b.Publish(command.Format(command.Reload{}))
}

// NotifyCSS asks every client to refresh the stylesheet at path. Only the
// base name is sent.
func (b *Broadcaster) NotifyCSS(path string) int {
	return b.Publish(command.Format(command.UpdateCSS{File: filepath.Base(path)}))
}

// Count returns the number of open subscriptions.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription. Later subscriptions are born closed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.once.Do(func() { close(sub.ch) })
	}
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	delete(s.b.subs, s.ID)
	s.once.Do(func() { close(s.ch) })
}
