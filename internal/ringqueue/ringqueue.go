// Package ringqueue provides a fixed-capacity FIFO circular buffer.
//
// Capacity is set at creation and never changes: a full queue rejects new
// items with ErrFull rather than growing. Besides the usual enqueue/dequeue
// the queue supports removing an arbitrary element while keeping the
// relative order of everything else, which the matching pools need when an
// order is cancelled from the middle of its price level.
//
// A Queue is not safe for concurrent use.
package ringqueue

import (
	"fmt"

	"github.com/atmx/betting-exchange/internal/fault"
)

var (
	// ErrFull is returned by Enqueue when the queue holds Cap() items.
	ErrFull = fmt.Errorf("%w: ringqueue: queue is full", fault.ErrCapacity)

	// ErrEmpty is returned by Dequeue when the queue holds no items.
	ErrEmpty = fmt.Errorf("%w: ringqueue: queue is empty", fault.ErrValidation)
)

// Queue is a bounded circular buffer of comparable items.
type Queue[T comparable] struct {
	items  []T
	front  int
	length int
}

// New allocates a queue holding at most capacity items.
func New[T comparable](capacity int) *Queue[T] {
	if capacity < 1 {
		panic("ringqueue: capacity must be positive")
	}
	return &Queue[T]{items: make([]T, capacity)}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return q.length }

// Cap returns the fixed capacity.
func (q *Queue[T]) Cap() int { return len(q.items) }

// IsEmpty reports whether the queue holds no items.
func (q *Queue[T]) IsEmpty() bool { return q.length == 0 }

// IsFull reports whether Enqueue would fail.
func (q *Queue[T]) IsFull() bool { return q.length == len(q.items) }

// Free returns how many more items fit.
func (q *Queue[T]) Free() int { return len(q.items) - q.length }

// Enqueue appends v at the back.
func (q *Queue[T]) Enqueue(v T) error {
	if q.IsFull() {
		return ErrFull
	}
	q.items[q.physical(q.length)] = v
	q.length++
	return nil
}

// Dequeue pops the front item.
func (q *Queue[T]) Dequeue() (T, error) {
	var zero T
	if q.length == 0 {
		return zero, ErrEmpty
	}
	v := q.items[q.front]
	q.items[q.front] = zero
	q.front = (q.front + 1) % len(q.items)
	q.length--
	return v, nil
}

// Peek returns the item offset positions from the front without removing it.
func (q *Queue[T]) Peek(offset int) (T, bool) {
	var zero T
	if offset < 0 || offset >= q.length {
		return zero, false
	}
	return q.items[q.physical(offset)], true
}

// Front is Peek(0).
func (q *Queue[T]) Front() (T, bool) { return q.Peek(0) }

// Back returns the most recently enqueued item.
func (q *Queue[T]) Back() (T, bool) { return q.Peek(q.length - 1) }

// Replace overwrites the item offset positions from the front.
func (q *Queue[T]) Replace(offset int, v T) bool {
	if offset < 0 || offset >= q.length {
		return false
	}
	q.items[q.physical(offset)] = v
	return true
}

// Index returns the offset of the first item equal to v, or -1.
func (q *Queue[T]) Index(v T) int {
	for i := 0; i < q.length; i++ {
		if q.items[q.physical(i)] == v {
			return i
		}
	}
	return -1
}

// Remove deletes the first item equal to v and returns it. Items in front of
// it stay where they are; items behind it move down one slot. When that span
// wraps past the end of the backing array the shift is done as two
// contiguous copies joined by the single element crossing the boundary.
func (q *Queue[T]) Remove(v T) (T, bool) {
	var zero T
	idx := q.Index(v)
	if idx < 0 {
		return zero, false
	}
	n := len(q.items)
	start := q.physical(idx)
	removed := q.items[start]
	count := q.length - 1 - idx

	if start+count < n {
		copy(q.items[start:start+count], q.items[start+1:start+count+1])
	} else {
		copy(q.items[start:n-1], q.items[start+1:n])
		q.items[n-1] = q.items[0]
		tail := start + count - n
		copy(q.items[0:tail], q.items[1:tail+1])
	}

	q.items[q.physical(q.length-1)] = zero
	q.length--
	return removed, true
}

// Items returns a copy of the queued items in FIFO order.
func (q *Queue[T]) Items() []T {
	out := make([]T, q.length)
	for i := range out {
		out[i] = q.items[q.physical(i)]
	}
	return out
}

// Truncate drops every item.
func (q *Queue[T]) Truncate() {
	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.front = 0
	q.length = 0
}

// Clone returns an independent copy with the same capacity and contents.
func (q *Queue[T]) Clone() *Queue[T] {
	items := make([]T, len(q.items))
	copy(items, q.items)
	return &Queue[T]{items: items, front: q.front, length: q.length}
}

func (q *Queue[T]) physical(offset int) int {
	return (q.front + offset) % len(q.items)
}
