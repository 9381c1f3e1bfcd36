// Package events provides a typed in-process broker. Each topic delivers an
// independent deep copy to every subscriber in subscription order, and can
// optionally skip publishes whose value is unchanged from the last one.
package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Approval/UI topic names.
const (
	TopicApprovalRequested = "approval.requested"
	TopicApprovalFinished  = "approval.finished"
	TopicApprovalState     = "approval.state"
	TopicPermissionState   = "permission.state"
	TopicTransactionState  = "transaction.state"
)

// CloneFunc produces the deep copy delivered to each subscriber.
type CloneFunc[T any] func(T) T

// EqualFunc reports whether two values are equivalent; equal publishes are
// skipped to avoid redundant UI churn.
type EqualFunc[T any] func(a, b T) bool

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Topic is an ordered fan-out channel for values of one type.
type Topic[T any] struct {
	mu     sync.Mutex
	name   string
	clone  CloneFunc[T]
	equal  EqualFunc[T]
	subs   []subscriber[T]
	nextID int
	last   *T
	logger zerolog.Logger
}

// NewTopic creates a topic. clone must not be nil; pass an identity function
// for value types that contain no references.
func NewTopic[T any](name string, clone CloneFunc[T], logger zerolog.Logger) *Topic[T] {
	return &Topic[T]{
		name:   name,
		clone:  clone,
		logger: logger.With().Str("component", "events").Str("topic", name).Logger(),
	}
}

// WithSkipUnchanged installs a comparator; publishes equal to the previous
// value are dropped.
func (t *Topic[T]) WithSkipUnchanged(equal EqualFunc[T]) *Topic[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.equal = equal
	return t
}

// Subscribe registers a handler and returns an unsubscribe function.
// Handlers run synchronously on the publishing goroutine, in subscription order.
func (t *Topic[T]) Subscribe(fn func(T)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.subs = append(t.subs, subscriber[T]{id: id, fn: fn})

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, s := range t.subs {
			if s.id == id {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish fans the value out to all subscribers, each receiving its own copy.
func (t *Topic[T]) Publish(value T) {
	t.mu.Lock()
	if t.equal != nil && t.last != nil && t.equal(*t.last, value) {
		t.mu.Unlock()
		return
	}
	kept := t.clone(value)
	t.last = &kept
	subs := make([]subscriber[T], len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	for _, s := range subs {
		t.deliver(s, value)
	}
	t.logger.Debug().Int("subscribers", len(subs)).Msg("published")
}

// deliver invokes one subscriber, containing any panic so a broken handler
// cannot unwind into the publishing component.
func (t *Topic[T]) deliver(s subscriber[T], value T) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Int("subscriber", s.id).Interface("panic", r).Msg("subscriber panicked")
		}
	}()
	s.fn(t.clone(value))
}

// SubscriberCount returns the number of active subscribers.
func (t *Topic[T]) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
