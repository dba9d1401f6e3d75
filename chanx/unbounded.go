package chanx

import (
	"context"
	"sync"
)

// Unbounded is a queue with no capacity limit. Send never blocks; Recv
// parks until an item arrives, the queue is closed, or its context ends.
// Any number of goroutines may send and receive.
type Unbounded[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	closed bool

	// notify holds at most one pending wake-up. A receiver that pops an
	// item while more remain passes the wake-up on.
	notify chan struct{}
	done   chan struct{}
}

// NewUnbounded creates an empty queue.
func NewUnbounded[T any]() *Unbounded[T] {
	return &Unbounded[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Send appends v. It returns [ErrClosed] once the queue has been closed.
func (u *Unbounded[T]) Send(v T) error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.items = append(u.items, v)
	u.mu.Unlock()

	u.wake()
	return nil
}

// TryRecv pops the oldest item without blocking.
func (u *Unbounded[T]) TryRecv() (T, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.popLocked()
}

// Recv pops the oldest item, parking until one is available. ok is false
// when the queue is closed and empty; err is the context error if ctx ends
// first.
func (u *Unbounded[T]) Recv(ctx context.Context) (v T, ok bool, err error) {
	for {
		u.mu.Lock()
		if v, ok = u.popLocked(); ok {
			more := u.head < len(u.items)
			u.mu.Unlock()
			if more {
				u.wake()
			}
			return v, true, nil
		}
		closed := u.closed
		u.mu.Unlock()

		if closed {
			return v, false, nil
		}

		select {
		case <-u.notify:
		case <-u.done:
		case <-ctx.Done():
			return v, false, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (u *Unbounded[T]) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.items) - u.head
}

// Close stops accepting items. Items already queued can still be received.
// Close is idempotent.
func (u *Unbounded[T]) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.closed {
		u.closed = true
		close(u.done)
	}
}

func (u *Unbounded[T]) popLocked() (T, bool) {
	var zero T
	if u.head >= len(u.items) {
		return zero, false
	}
	v := u.items[u.head]
	u.items[u.head] = zero
	u.head++

	// Compact once the consumed prefix dominates the backing array.
	if u.head == len(u.items) {
		u.items = u.items[:0]
		u.head = 0
	} else if u.head > 64 && u.head*2 > len(u.items) {
		n := copy(u.items, u.items[u.head:])
		clear(u.items[n:])
		u.items = u.items[:n]
		u.head = 0
	}
	return v, true
}

func (u *Unbounded[T]) wake() {
	select {
	case u.notify <- struct{}{}:
	default:
	}
}
