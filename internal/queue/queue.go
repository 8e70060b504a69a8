// Package queue is the bounded hand-off between the source task and the
// publisher. A full queue blocks the producer, an empty one blocks the
// consumer; items leave in the order they entered.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrClosed  = errors.New("queue: closed")
	ErrDrained = errors.New("queue: closed and drained")
)

// Queue has a single producer that owns Close; any number of consumers may Pop.
type Queue[T any] struct {
	ch        chan T
	closed    atomic.Bool
	closeOnce sync.Once
	peak      atomic.Int64
}

func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Push blocks while the queue is full.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	if q.closed.Load() {
		return ErrClosed
	}
	select {
	case q.ch <- v:
		q.observe()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop blocks while the queue is empty. After Close it keeps returning the
// remaining items, then ErrDrained.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-q.ch:
		if !ok {
			return zero, ErrDrained
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.ch)
	})
}

// Drain returns whatever is buffered without blocking.
func (q *Queue[T]) Drain() []T {
	var out []T
	for {
		select {
		case v, ok := <-q.ch:
			if !ok {
				return out
			}
			out = append(out, v)
		default:
			return out
		}
	}
}

func (q *Queue[T]) Len() int { return len(q.ch) }
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Peak is the highest depth observed right after a push.
func (q *Queue[T]) Peak() int { return int(q.peak.Load()) }

func (q *Queue[T]) observe() {
	n := int64(len(q.ch))
	for {
		cur := q.peak.Load()
		if n <= cur || q.peak.CompareAndSwap(cur, n) {
			return
		}
	}
}
