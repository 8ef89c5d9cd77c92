package containers

import "sync"

// Queue is an unbounded FIFO safe for concurrent use. Pop blocks while the
// queue is empty and returns false once the queue is closed and drained.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v and wakes one waiting consumer. Pushing to a closed queue
// reports false and drops v.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.cond.Signal()
	return true
}

// Pop blocks until an element is available or the queue is closed.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	return q.popLocked()
}

// TryPop returns the front element without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Drain removes and returns every element matching match, preserving order of
// the remaining ones.
func (q *Queue[T]) Drain(match func(T) bool) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []T
	rest := q.items[:0]
	for _, it := range q.items {
		if match(it) {
			out = append(out, it)
		} else {
			rest = append(rest, it)
		}
	}
	var zero T
	for i := len(rest); i < len(q.items); i++ {
		q.items[i] = zero
	}
	q.items = rest
	return out
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes every consumer. Elements already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
