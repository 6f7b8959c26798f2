package spubsub

import "context"

// Stream is a linked list of event-driven values.
// The list has a single writer and many readers.
// Readers can each consume the list at their own pace.
//
// If readers do not actively consume the list,
// the node they observe will never be garbage collected,
// which is a memory leak.
type Stream[T any] struct {
	Ready chan struct{}
	Next  *Stream[T]
	Val   T
}

// NewStream returns an initialized pubsub stream.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{
		Ready: make(chan struct{}),
	}
}

// Publish assigns s's value and initializes s.Next.
// Then s.Ready is closed, notifying any observers that
// s.Val can now be safely read.
//
// If Publish is called twice for the same s, Publish panics.
func (s *Stream[T]) Publish(t T) {
	s.Val = t
	s.Next = NewStream[T]()
	close(s.Ready)
}

// Published reports whether s.Val is ready to read.
func (s *Stream[T]) Published() bool {
	select {
	case <-s.Ready:
		return true
	default:
		return false
	}
}

// Last walks s without blocking and returns the most recently
// published value at or after s.
// It reports false if nothing at or after s has been published yet.
func (s *Stream[T]) Last() (val T, ok bool) {
	for s.Published() {
		val, ok = s.Val, true
		s = s.Next
	}
	return val, ok
}

// Await follows s until a published value satisfies match,
// and returns that value along with the node following it,
// so the caller can continue observing from there.
//
// If ctx finishes first, Await returns the context's cause.
func Await[T any](ctx context.Context, s *Stream[T], match func(T) bool) (T, *Stream[T], error) {
	for {
		select {
		case <-ctx.Done():
			var zero T
			return zero, s, context.Cause(ctx)
		case <-s.Ready:
			if match(s.Val) {
				return s.Val, s.Next, nil
			}
			s = s.Next
		}
	}
}
