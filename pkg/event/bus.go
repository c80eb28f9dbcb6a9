package event

import (
	"context"
	"errors"
	"sync"
)

// Handler receives events from a Bus.
type Handler func(ctx context.Context, e Event)

type subscription struct {
	id      uint64
	kind    Kind
	handler Handler
}

// Bus is an in-process publish/subscribe hub. Handlers run synchronously on
// the publishing goroutine, in subscription order.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
	next uint64
}

var _ Publisher = (*Bus)(nil)

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h for events of kind. An empty kind receives every
// event. The returned function removes the subscription.
func (b *Bus) Subscribe(kind Kind, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, kind: kind, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers e to every matching subscriber.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if s.kind == "" || s.kind == e.Kind {
			s.handler(ctx, e)
		}
	}
	return nil
}

// Fanout publishes every event to all of its publishers and joins their errors.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard is a Publisher that drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Event) error { return nil }
