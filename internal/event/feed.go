// Package event provides typed publish/subscribe feeds.
//
// A Feed delivers every published value to all current subscribers on the
// publishing goroutine. Subscriptions are explicit handles released with
// Unsubscribe, which is safe to call any number of times.
package event

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscription is a handle to a registered handler.
type Subscription interface {
	// ID returns the subscription's unique identifier.
	ID() string

	// Unsubscribe removes the handler. It is idempotent.
	Unsubscribe()
}

// Feed is a thread-safe, typed event feed.
type Feed[T any] struct {
	mu     sync.RWMutex
	subs   map[string]*subscription[T]
	order  []string
	closed atomic.Bool

	// onPanic, when set, receives values recovered from panicking handlers.
	onPanic func(recovered any)
}

// subscription holds a subscription's metadata.
type subscription[T any] struct {
	id      string
	handler func(T)
	feed    *Feed[T]
	once    sync.Once
}

// NewFeed creates an empty feed.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[string]*subscription[T])}
}

// OnPanic registers a hook for panics raised by handlers. Handler panics
// are always recovered so one bad subscriber cannot break the publisher.
func (f *Feed[T]) OnPanic(fn func(recovered any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPanic = fn
}

// Subscribe registers handler and returns its subscription. Subscribing to
// a closed feed returns an inert subscription.
func (f *Feed[T]) Subscribe(handler func(T)) Subscription {
	sub := &subscription[T]{id: uuid.NewString(), handler: handler, feed: f}
	if f.closed.Load() {
		sub.once.Do(func() {})
		return sub
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[string]*subscription[T])
	}
	f.subs[sub.id] = sub
	f.order = append(f.order, sub.id)
	return sub
}

// Publish delivers v to every subscriber in subscription order.
func (f *Feed[T]) Publish(v T) {
	if f.closed.Load() {
		return
	}

	f.mu.RLock()
	handlers := make([]func(T), 0, len(f.order))
	for _, id := range f.order {
		if sub, ok := f.subs[id]; ok {
			handlers = append(handlers, sub.handler)
		}
	}
	onPanic := f.onPanic
	f.mu.RUnlock()

	for _, h := range handlers {
		safeCall(h, v, onPanic)
	}
}

// Count returns the number of active subscriptions.
func (f *Feed[T]) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Close drops all subscriptions. Later publishes are ignored.
func (f *Feed[T]) Close() {
	if f.closed.Swap(true) {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = make(map[string]*subscription[T])
	f.order = nil
}

func (f *Feed[T]) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[id]; !ok {
		return
	}
	delete(f.subs, id)
	for i, sid := range f.order {
		if sid == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

func (s *subscription[T]) ID() string {
	return s.id
}

func (s *subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		s.feed.remove(s.id)
	})
}

// safeCall calls a handler with panic recovery.
func safeCall[T any](h func(T), v T, onPanic func(any)) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(r)
		}
	}()
	h(v)
}
