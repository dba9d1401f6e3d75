package taskrt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// token is a one-shot, tree-shaped cancellation signal. It implements
// context.Context so tasks observe it at any ctx.Done() select.
//
// A parent keeps its children only to broadcast; a child keeps a
// non-owning parent pointer only to detach itself once cancelled.
// Cancelling a token cancels every descendant before its own Done channel
// closes, so a cancelled parent never coexists with a live child.
type token struct {
	base context.Context // values and deadline

	mu       sync.Mutex
	parent   *token
	children map[*token]struct{}
	closing  bool
	cause    error

	cancelled atomic.Bool
	done      chan struct{}
	stop      func() bool // detaches the root from base
}

func newToken(base context.Context) *token {
	return &token{
		base:     base,
		children: make(map[*token]struct{}),
		done:     make(chan struct{}),
	}
}

// newRootToken links a token to base: cancelling base cancels the token
// with base's cause.
func newRootToken(base context.Context) *token {
	t := newToken(base)
	if base.Done() != nil {
		t.stop = context.AfterFunc(base, func() {
			t.cancel(context.Cause(base))
		})
	}
	return t
}

// child returns a token cancelled whenever t is. If t is already
// cancelled the child starts cancelled.
func (t *token) child(base context.Context) *token {
	c := newToken(base)
	c.parent = t

	t.mu.Lock()
	if t.closing {
		cause := t.cause
		t.mu.Unlock()
		c.cancel(cause)
		return c
	}
	t.children[c] = struct{}{}
	t.mu.Unlock()
	return c
}

// cancel cancels t and all descendants. Concurrent callers return only
// once the first cancel has finished.
func (t *token) cancel(cause error) {
	if cause == nil {
		cause = context.Canceled
	}

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		<-t.done
		return
	}
	t.closing = true
	t.cause = cause
	children := make([]*token, 0, len(t.children))
	for c := range t.children {
		children = append(children, c)
	}
	t.children = nil
	t.mu.Unlock()

	for _, c := range children {
		c.cancel(cause)
	}

	t.cancelled.Store(true)
	close(t.done)

	if p := t.parent; p != nil {
		p.remove(t)
	}
	if t.stop != nil {
		t.stop()
	}
}

func (t *token) remove(c *token) {
	t.mu.Lock()
	if t.children != nil {
		delete(t.children, c)
	}
	t.mu.Unlock()
}

// Cause returns why t was cancelled, or nil.
func (t *token) Cause() error {
	if !t.cancelled.Load() {
		return nil
	}
	return t.cause
}

func (t *token) Deadline() (time.Time, bool) {
	return t.base.Deadline()
}

func (t *token) Done() <-chan struct{} {
	return t.done
}

func (t *token) Err() error {
	if !t.cancelled.Load() {
		return nil
	}
	if errors.Is(t.cause, context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return context.Canceled
}

func (t *token) Value(key any) any {
	return t.base.Value(key)
}

func (t *token) String() string {
	return "taskrt.token"
}

// tracker counts live tasks and lets callers wait for the count to reach
// zero. Unlike sync.WaitGroup, add may race with wait.
type tracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{} // closed while n == 0
}

func newTracker() *tracker {
	idle := make(chan struct{})
	close(idle)
	return &tracker{idle: idle}
}

func (t *tracker) add() {
	t.mu.Lock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
	t.mu.Unlock()
}

func (t *tracker) done() {
	t.mu.Lock()
	t.n--
	if t.n == 0 {
		close(t.idle)
	}
	t.mu.Unlock()
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// wait parks until the count is zero or ctx is done.
func (t *tracker) wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.n == 0 {
			t.mu.Unlock()
			return nil
		}
		idle := t.idle
		t.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
