package buffers

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidLimit is returned when a queue is created with a limit below 1.
var ErrInvalidLimit = errors.New("queue limit must be positive")

const unbounded = -1

// Queue is a FIFO with an optional item limit. Producers never block:
// TryEnqueue rejects items once the limit is reached.
// All methods are safe for concurrent use.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	head  int // index of the oldest item in items
	limit int
	drops int64
}

// NewQueue creates a queue holding at most limit items.
func NewQueue[T any](limit int) (*Queue[T], error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidLimit, limit)
	}
	return &Queue[T]{limit: limit}, nil
}

// NewUnboundedQueue creates a queue without an item limit.
func NewUnboundedQueue[T any]() *Queue[T] {
	return &Queue[T]{limit: unbounded}
}

// TryEnqueue appends item. Returns false, leaving the queue unchanged,
// if the queue is full.
func (q *Queue[T]) TryEnqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.limit != unbounded && len(q.items)-q.head >= q.limit {
		q.drops++
		return false
	}
	q.items = append(q.items, item)
	return true
}

// TryDequeue removes and returns the oldest item.
// Returns false if the queue is empty.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head == len(q.items) {
		return zero, false
	}

	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// reclaim the consumed prefix once it dominates the backing array
	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= 64 && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Limit returns the configured limit, or -1 for an unbounded queue.
func (q *Queue[T]) Limit() int {
	return q.limit
}

// Drops returns the number of items rejected because the queue was full.
func (q *Queue[T]) Drops() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops
}
