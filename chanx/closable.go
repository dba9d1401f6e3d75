package chanx

import (
	"errors"
	"sync"
)

// ErrClosed is returned by sends on a closed [Closable] or [Unbounded].
var ErrClosed = errors.New("chanx: send on closed channel")

// ErrBuffFull is returned by [Closable.TrySend] when the buffer has no room.
var ErrBuffFull = errors.New("chanx: buffer is full")

// Closable is a bounded multi-producer single-consumer queue whose sends
// never block and never panic. Producers racing Close get [ErrClosed];
// the consumer ranges over [Closable.Chan] and sees every record accepted
// before Close.
type Closable[T any] struct {
	ch chan T

	mu     sync.RWMutex // held for writing only while closing ch
	closed bool
}

// NewClosable creates a Closable with room for capacity items.
func NewClosable[T any](capacity int) *Closable[T] {
	return &Closable[T]{ch: make(chan T, capacity)}
}

// TrySend enqueues v without blocking.
func (c *Closable[T]) TrySend(v T) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}
	select {
	case c.ch <- v:
		return nil
	default:
		return ErrBuffFull
	}
}

// Close stops accepting items and closes the channel returned by Chan
// once its buffer is drained. Close is idempotent.
func (c *Closable[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// Len returns the number of buffered items.
func (c *Closable[T]) Len() int { return len(c.ch) }

// Cap returns the buffer capacity.
func (c *Closable[T]) Cap() int { return cap(c.ch) }

// Closed reports whether Close has been called.
func (c *Closable[T]) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Chan returns the receive side for the single consumer.
func (c *Closable[T]) Chan() <-chan T { return c.ch }
