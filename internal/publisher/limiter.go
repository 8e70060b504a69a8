package publisher

import (
	"context"
	"sync"
)

// limiter caps the batches sent and not yet answered across all lanes.
type limiter struct {
	capacity int64

	mu     sync.Mutex
	tokens int64
	peak   int64
	cond   *sync.Cond
}

func newLimiter(capacity int64) *limiter {
	if capacity < 1 {
		capacity = 1
	}
	l := &limiter{capacity: capacity, tokens: capacity}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire takes one slot, blocking until one is free or ctx ends.
func (l *limiter) Acquire(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	for l.tokens == 0 && ctx.Err() == nil {
		l.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.tokens--
	if used := l.capacity - l.tokens; used > l.peak {
		l.peak = used
	}
	return nil
}

func (l *limiter) Release() {
	l.mu.Lock()
	if l.tokens < l.capacity {
		l.tokens++
	}
	l.mu.Unlock()
	l.cond.Signal()
}

func (l *limiter) InUse() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capacity - l.tokens
}

// Peak is the highest number of slots held at once.
func (l *limiter) Peak() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peak
}
