// Package pubsub provides typed, synchronous in-process fan-out.
//
// Watermill carries session events out of process (see adapters/events);
// observers inside the process need delivery on the publishing goroutine
// and an immediate replay of the current value, which is what Topic does.
package pubsub

import "sync"

// Topic fans a value out to every subscriber in publish order.
//
// Delivery is serialised: two concurrent Publish calls never interleave
// their fan-out. Subscribers may unsubscribe (themselves or others) while
// a delivery is running, but must not Publish or Subscribe to the same
// topic from inside a callback.
type Topic[T any] struct {
	deliver sync.Mutex

	mu     sync.Mutex
	subs   []*subscriber[T]
	last   T
	replay bool
}

type subscriber[T any] struct {
	fn     func(T)
	active bool
}

// NewTopic returns a topic that does not replay.
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{}
}

// NewReplayTopic returns a topic that hands the last published value
// (initially initial) to every new subscriber.
func NewReplayTopic[T any](initial T) *Topic[T] {
	return &Topic[T]{last: initial, replay: true}
}

// Subscribe registers fn and returns an idempotent unsubscribe function.
func (t *Topic[T]) Subscribe(fn func(T)) func() {
	t.deliver.Lock()
	defer t.deliver.Unlock()

	s := &subscriber[T]{fn: fn, active: true}
	t.mu.Lock()
	t.subs = append(t.subs, s)
	last, replay := t.last, t.replay
	t.mu.Unlock()

	if replay {
		fn(last)
	}

	var once sync.Once
	return func() {
		once.Do(func() { t.remove(s) })
	}
}

// Publish delivers v to every active subscriber.
func (t *Topic[T]) Publish(v T) {
	t.deliver.Lock()
	defer t.deliver.Unlock()

	t.mu.Lock()
	t.last = v
	subs := make([]*subscriber[T], len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	for _, s := range subs {
		t.mu.Lock()
		active := s.active
		t.mu.Unlock()
		if active {
			s.fn(v)
		}
	}
}

// Len returns the number of active subscribers.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (t *Topic[T]) remove(s *subscriber[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.active = false
	for i, cur := range t.subs {
		if cur == s {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			return
		}
	}
}
