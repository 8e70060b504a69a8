package progress

import (
	"context"
	"fmt"
	"sync"
)

// node is one dispatched offset. When a node resolves before its
// predecessor, the predecessor absorbs its offset, so the head always
// carries the highest offset of the contiguous run it starts.
type node struct {
	offset     int64
	prev, next *node
}

// window tracks dispatched-but-unacknowledged offsets in dispatch order and
// blocks new dispatches once cap offsets are outstanding.
type window struct {
	cap  int64
	cond *sync.Cond

	head, tail *node
	byOffset   map[int64]*node
	last       int64
}

func newWindow(cap int64, after int64) *window {
	return &window{
		cap:      cap,
		cond:     sync.NewCond(&sync.Mutex{}),
		byOffset: make(map[int64]*node),
		last:     after,
	}
}

func (w *window) track(ctx context.Context, offset int64) error {
	w.cond.L.Lock()
	defer w.cond.L.Unlock()

	if offset <= w.last {
		return fmt.Errorf("progress: offset %d tracked out of order (last %d)", offset, w.last)
	}
	stop := context.AfterFunc(ctx, func() {
		w.cond.L.Lock()
		w.cond.Broadcast()
		w.cond.L.Unlock()
	})
	defer stop()

	for w.cap > 0 && int64(len(w.byOffset)) >= w.cap {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	n := &node{offset: offset, prev: w.tail}
	if w.tail != nil {
		w.tail.next = n
	} else {
		w.head = n
	}
	w.tail = n
	w.byOffset[offset] = n
	w.last = offset
	return nil
}

// resolve acknowledges offset. When the head resolves it returns the new
// contiguous high-water offset and true.
func (w *window) resolve(offset int64) (int64, bool) {
	w.cond.L.Lock()
	defer w.cond.L.Unlock()

	n, ok := w.byOffset[offset]
	if !ok {
		return 0, false
	}
	delete(w.byOffset, offset)
	defer w.cond.Broadcast()

	var high int64
	advanced := false
	if n.prev != nil {
		n.prev.offset = n.offset
		n.prev.next = n.next
	} else {
		high, advanced = n.offset, true
		w.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		w.tail = n.prev
	}
	return high, advanced
}

func (w *window) pending() int64 {
	w.cond.L.Lock()
	defer w.cond.L.Unlock()
	return int64(len(w.byOffset))
}

func (w *window) outstanding() []int64 {
	w.cond.L.Lock()
	defer w.cond.L.Unlock()
	out := make([]int64, 0, len(w.byOffset))
	for off := range w.byOffset {
		out = append(out, off)
	}
	return out
}
