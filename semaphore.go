package taskrt

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Semaphore bounds concurrency. It is context-aware: Acquire unblocks if
// the context is cancelled. The supervisor uses one for [WithWorkers]
// admission.
type Semaphore struct {
	w        *semaphore.Weighted
	cap      int64
	acquired atomic.Int64
}

// NewSemaphore creates a semaphore with the given capacity.
// Panics if n <= 0.
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		panic("taskrt: NewSemaphore requires n > 0")
	}
	return &Semaphore{
		w:   semaphore.NewWeighted(int64(n)),
		cap: int64(n),
	}
}

// Acquire blocks until a slot is available or ctx is cancelled.
// Returns ctx.Err() on cancellation, nil on success.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if err := s.w.Acquire(ctx, 1); err != nil {
		return err
	}
	s.acquired.Add(1)
	return nil
}

// TryAcquire attempts to acquire a slot without blocking.
func (s *Semaphore) TryAcquire() bool {
	if !s.w.TryAcquire(1) {
		return false
	}
	s.acquired.Add(1)
	return true
}

// Release releases a slot. Panics if more slots are released than acquired.
func (s *Semaphore) Release() {
	if s.acquired.Add(-1) < 0 {
		s.acquired.Add(1) // undo
		panic("taskrt: Semaphore.Release called without matching Acquire")
	}
	s.w.Release(1)
}

// Available returns the number of available slots.
// The value may be stale in concurrent contexts.
func (s *Semaphore) Available() int {
	return int(s.cap - s.acquired.Load())
}

// InUse returns the number of held slots.
func (s *Semaphore) InUse() int {
	return int(s.acquired.Load())
}
