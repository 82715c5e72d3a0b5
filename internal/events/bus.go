// Package events fans catalog notifications out to presentation subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ziton/internal/metrics"
	"ziton/internal/storage"
)

// Kind identifies the type of an Event.
type Kind string

const (
	EntryAdded      Kind = "entry_added"
	EntryRemoved    Kind = "entry_removed"
	RebuildStarted  Kind = "rebuild_started"
	RebuildFinished Kind = "rebuild_finished"
)

// Event is one notification published on the bus.
type Event struct {
	Kind      Kind                  `json:"kind"`
	Path      string                `json:"path,omitempty"`
	Entry     *storage.CatalogEntry `json:"entry,omitempty"`
	RebuildID string                `json:"rebuild_id,omitempty"`
	Count     int                   `json:"count,omitempty"`
	Error     string                `json:"error,omitempty"`
	At        time.Time             `json:"at"`
}

// Subscription receives events until it is unsubscribed or the bus closes.
type Subscription struct {
	ID string
	C  <-chan Event

	ch  chan Event
	bus *Bus
}

// Unsubscribe detaches the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.ID)
}

// Bus is a non-blocking publish/subscribe hub. A subscriber whose buffer is
// full misses the event instead of stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
	logger *slog.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[string]*Subscription),
		logger: slog.Default(),
	}
}

// Subscribe registers a subscriber with the given channel buffer.
// Subscribing to a closed bus returns a subscription whose channel is already closed.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{ID: uuid.New().String(), C: ch, ch: ch, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.ID] = sub
	metrics.SetSubscribers(len(b.subs))
	return sub
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			metrics.RecordEventDropped(string(ev.Kind))
			b.logger.Debug("dropped event for slow subscriber", "subscriber", id, "kind", ev.Kind)
		}
	}
}

// Len returns the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches every subscriber and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
	metrics.SetSubscribers(0)
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	close(sub.ch)
	delete(b.subs, id)
	metrics.SetSubscribers(len(b.subs))
}
