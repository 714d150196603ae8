// Package queue provides a bounded blocking FIFO with in-place replacement.
//
// Go channels cannot overwrite a pending element, so the queue keeps its own
// slice under a single mutex and uses two condition variables for the
// blocking halves.
package queue

import "sync"

// Bounded is a thread-safe FIFO with a capacity limit.
//
// Enqueue blocks while the queue is full and the item would be appended.
// A replace predicate lets producers overwrite a matching pending element,
// which turns a capacity-1 queue into a latest-wins mailbox.
type Bounded[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items    []T
	capacity int
	closed   bool
}

// New creates a queue holding at most capacity items. A capacity <= 0 means
// unbounded.
func New[T any](capacity int) *Bounded[T] {
	q := &Bounded[T]{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds item to the tail, or overwrites the first pending element for
// which replace returns true. Replacing never blocks. Enqueue on a closed
// queue is dropped.
func (q *Bounded[T]) Enqueue(item T, replace func(T) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// The scan repeats after every wake: another producer may have queued a
	// matching element while this one waited.
	for {
		if replace != nil {
			for i := range q.items {
				if replace(q.items[i]) {
					q.items[i] = item
					return
				}
			}
		}
		if q.closed {
			return
		}
		if !q.full() {
			break
		}
		q.notFull.Wait()
	}

	q.items = append(q.items, item)
	q.notEmpty.Signal()
}

// Dequeue removes and returns the head. With block set it waits for an item;
// otherwise it returns immediately. ok is false when nothing was taken
// (empty poll, or the queue was closed while waiting).
func (q *Bounded[T]) Dequeue(block bool) (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for block && len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return item, false
	}

	item = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		// Drop the drifted backing array so it does not grow without bound.
		q.items = nil
	}
	// Broadcast: a woken producer may replace instead of taking the slot.
	q.notFull.Broadcast()
	return item, true
}

// Count returns the number of pending items, or the number matching filter
// when it is non-nil.
func (q *Bounded[T]) Count(filter func(T) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if filter == nil {
		return len(q.items)
	}
	n := 0
	for _, it := range q.items {
		if filter(it) {
			n++
		}
	}
	return n
}

// Remove deletes every pending element matching match and returns how many
// were removed.
func (q *Bounded[T]) Remove(match func(T) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	removed := 0
	for _, it := range q.items {
		if match(it) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	var zero T
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = zero
	}
	q.items = kept
	if removed > 0 {
		q.notFull.Broadcast()
	}
	return removed
}

// Close wakes every waiter. Pending items can still be drained with Dequeue.
func (q *Bounded[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Bounded[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Bounded[T]) full() bool {
	return q.capacity > 0 && len(q.items) >= q.capacity
}
