// Package stream implements the bounded, drop-cancellable chunk substrate
// shared by every capability pool. A Stream is a lazy, single-consumer
// sequence produced by a background goroutine; dropping it makes the next
// producer send fail, which is the only cancellation signal the producer
// ever sees.
package stream

import (
	"context"
	"sync"
)

// DefaultCapacity is used when New is called with a non-positive bufSize.
const DefaultCapacity = 32

// Sender is the producer-facing handle passed into a spawner. Send blocks
// until the chunk is delivered or the consumer drops the stream.
type Sender[T any] struct {
	ch   chan<- T
	done <-chan struct{}
}

// Send attempts to deliver v. It reports false if the consumer has dropped
// the stream; the caller must treat that as a cancellation signal and stop
// producing.
//
// Cancellation is checked before every attempted delivery, not just when
// the channel is full: a bounded channel with room to spare would
// otherwise let a producer race ahead and emit many chunks past a drop
// before ever observing it. Checking done first means a drop takes effect
// on the very next Send call, matching the "within one chunk boundary"
// cancellation guarantee.
func (s Sender[T]) Send(v T) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- v:
		return true
	case <-s.done:
		return false
	}
}

// Stream is a lazy, single-consumer sequence of chunks.
type Stream[T any] struct {
	ch      chan T
	done    chan struct{}
	closeMu sync.Once
}

// New launches spawner in its own goroutine and returns the stream it feeds.
// spawner must periodically attempt a Send; a failed Send means the
// consumer dropped the stream and the spawner must return promptly.
func New[T any](bufSize int, spawner func(Sender[T])) *Stream[T] {
	if bufSize <= 0 {
		bufSize = DefaultCapacity
	}
	s := &Stream[T]{
		ch:   make(chan T, bufSize),
		done: make(chan struct{}),
	}
	sender := Sender[T]{ch: s.ch, done: s.done}
	go func() {
		defer close(s.ch)
		spawner(sender)
	}()
	return s
}

// Next blocks until a chunk is available, the stream ends, or ctx is
// cancelled. A false second return means end-of-stream (including the case
// where ctx was cancelled, which also drops the stream).
func (s *Stream[T]) Next(ctx context.Context) (T, bool) {
	var zero T
	select {
	case v, ok := <-s.ch:
		if !ok {
			return zero, false
		}
		return v, true
	case <-ctx.Done():
		s.Close()
		return zero, false
	}
}

// Close drops the stream. Idempotent. The producer observes this on its
// next Send and is expected to abort the in-flight request within one
// chunk boundary.
func (s *Stream[T]) Close() {
	s.closeMu.Do(func() { close(s.done) })
}

// Drain consumes the remainder of the stream without cancelling it and
// returns the chunks it received — useful in tests that want to let a
// producer run to completion.
func (s *Stream[T]) Drain(ctx context.Context) []T {
	var out []T
	for {
		v, ok := s.Next(ctx)
		if !ok {
			return out
		}
		out = append(out, v)
	}
}
