package pipeline

import (
	"context"
	"sync"
)

// Queue is a bounded FIFO that blocks producers while full and consumers
// while empty. Closing it wakes every waiter; items already queued remain
// readable until drained.
type Queue[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int
	count  int
	closed bool
	// changed is closed and replaced on every state change, waking all
	// goroutines blocked in Put, Get or Wait.
	changed chan struct{}
}

// NewQueue returns a queue holding at most capacity items.
func NewQueue[T any](capacity int) (*Queue[T], error) {
	if capacity < 1 {
		return nil, ErrInvalidQueueSize
	}
	return &Queue[T]{
		buf:     make([]T, capacity),
		changed: make(chan struct{}),
	}, nil
}

func (q *Queue[T]) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Put appends v, blocking while the queue is full. It returns ErrQueueClosed
// if the queue is closed, or ctx.Err() if ctx ends first.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if q.count < len(q.buf) {
			q.pushLocked(v)
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryPut appends v if there is room and reports whether it did.
func (q *Queue[T]) TryPut(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.count == len(q.buf) {
		return false
	}
	q.pushLocked(v)
	return true
}

func (q *Queue[T]) pushLocked(v T) {
	q.buf[(q.head+q.count)%len(q.buf)] = v
	q.count++
	q.notifyLocked()
}

// Get removes and returns the oldest item, blocking while the queue is
// empty. Once the queue is closed and drained it returns ErrQueueClosed.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if q.count > 0 {
			v := q.popLocked()
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, ErrQueueClosed
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryGet removes and returns the oldest item if there is one.
func (q *Queue[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

func (q *Queue[T]) popLocked() T {
	var zero T
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.notifyLocked()
	return v
}

// Wait blocks until the queue is non-empty, closed, or ctx ends, and
// reports whether an item is available.
func (q *Queue[T]) Wait(ctx context.Context) bool {
	for {
		q.mu.Lock()
		if q.count > 0 {
			q.mu.Unlock()
			return true
		}
		if q.closed {
			q.mu.Unlock()
			return false
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return q.Len() > 0
		}
	}
}

// Close marks the queue closed. Blocked producers fail, blocked consumers
// drain what is left. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notifyLocked()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return len(q.buf)
}

// Full reports whether the queue is at capacity.
func (q *Queue[T]) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count == len(q.buf)
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// changedCh returns a channel closed at the next state change.
func (q *Queue[T]) changedCh() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changed
}
