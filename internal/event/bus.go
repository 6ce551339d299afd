package event

import (
	"fmt"
	"sync"

	"github.com/go-kit/log"

	"github.com/wpnpeiris/fs-s3/internal/logging"
	"github.com/wpnpeiris/fs-s3/internal/metrics"
)

// Event names published by the object store.
const (
	ObjectCreatedPut    = "ObjectCreated:Put"
	ObjectCreatedCopy   = "ObjectCreated:Copy"
	ObjectRemovedDelete = "ObjectRemoved:Delete"
)

// Event is the notification record emitted when an object is created, copied
// or deleted.
type Event struct {
	Name   string
	Bucket string
	Key    string
	Size   int64
	ETag   string
}

// Handler receives published events.
type Handler func(Event)

// WithFilter wraps a handler so it only fires for events matching pred.
func WithFilter(pred func(Event) bool, h Handler) Handler {
	return func(ev Event) {
		if pred(ev) {
			h(ev)
		}
	}
}

// Bus is an in-process publish/subscribe channel for bucket notifications.
// Delivery is synchronous, in subscription order, and a failing subscriber
// never affects the others or the publisher.
type Bus struct {
	logger log.Logger

	mu     sync.Mutex
	nextID int
	subs   []*Subscription
	closed bool
}

// Subscription is the cancellation handle returned by Subscribe.
type Subscription struct {
	id  int
	bus *Bus
	h   Handler
}

// NewBus creates an empty bus.
func NewBus(logger log.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers a handler for all subsequently published events.
func (b *Bus) Subscribe(h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{id: b.nextID, bus: b, h: h}
	b.nextID++
	if !b.closed {
		b.subs = append(b.subs, sub)
	}
	return sub
}

// Unsubscribe detaches the handler. Safe to call more than once and after the
// bus is closed.
func (s *Subscription) Unsubscribe() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == s.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every current subscriber in subscription order.
// Publication happens on the caller's goroutine; there is no backpressure.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	metrics.ObserveEvent(ev.Name)
	for _, sub := range subs {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub *Subscription, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error(b.logger, "msg", "Event subscriber panicked",
				"event", ev.Name, "bucket", ev.Bucket, "key", ev.Key,
				"err", fmt.Sprintf("%v", rec))
		}
	}()
	sub.h(ev)
}

// Close detaches all subscribers. Publishing on a closed bus is a no-op for
// delivery; subscribing after close returns an inert handle.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
}
