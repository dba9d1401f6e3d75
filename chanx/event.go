package chanx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a one-shot broadcast flag. Any number of goroutines may wait on
// it; [Event.Set] wakes all of them and the flag stays set forever.
//
// The zero value is not usable; create one with [NewEvent].
type Event struct {
	ch   chan struct{}
	once sync.Once
	set  atomic.Bool
}

// NewEvent returns an unset Event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Set sets the flag and wakes every waiter. It reports whether this call
// was the one that set it.
func (e *Event) Set() bool {
	fired := false
	e.once.Do(func() {
		e.set.Store(true)
		close(e.ch)
		fired = true
	})
	return fired
}

// IsSet reports whether the event has been set.
func (e *Event) IsSet() bool {
	return e.set.Load()
}

// Done returns a channel that is closed once the event is set.
func (e *Event) Done() <-chan struct{} {
	return e.ch
}

// Wait parks until the event is set or ctx is done.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout parks until the event is set or d elapses. It reports
// whether the event was set.
func (e *Event) WaitTimeout(d time.Duration) bool {
	if e.IsSet() {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-e.ch:
		return true
	case <-timer.C:
		return e.IsSet()
	}
}
