package ingest

import (
	"sync"
	"time"
)

// Queue is an unbounded FIFO. Push never blocks; Pop waits up to a timeout for an item.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	closed bool
	notify chan struct{}
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{}, 1)}
}

// Push appends an item. It reports false once the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signal()
	return true
}

// Pop removes the oldest item, waiting up to timeout for one to arrive.
// A closed queue still yields its remaining items, then returns immediately.
func (q *Queue[T]) Pop(timeout time.Duration) (T, bool) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		q.mu.Lock()
		if q.head < len(q.items) {
			item := q.items[q.head]
			var zero T
			q.items[q.head] = zero
			q.head++
			q.compact()
			q.mu.Unlock()
			return item, true
		}
		closed := q.closed
		q.mu.Unlock()

		var zero T
		if closed {
			return zero, false
		}
		if timer == nil {
			timer = time.NewTimer(timeout)
		}
		select {
		case <-q.notify:
		case <-timer.C:
			timer = nil
			return q.tryPop()
		}
	}
}

func (q *Queue[T]) tryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	q.compact()
	return item, true
}

// compact drops the consumed prefix once it dominates the backing array. Caller holds mu.
func (q *Queue[T]) compact() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head > 1024 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close stops accepting items and wakes any waiting Pop.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Closed reports whether Close was called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
