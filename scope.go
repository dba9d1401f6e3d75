package taskrt

import (
	"context"
	"time"
)

// Scope groups tasks under one cancellation token. Cancelling a scope
// cancels every task and child scope beneath it, children first. Scopes
// form a tree rooted at the supervisor's root scope.
//
//	jobs := sup.Root().NewScope("jobs")
//	jobs.Go("fetch", fetch)
//	jobs.Spawn("index", func(ctx context.Context, sp taskrt.Spawner) error {
//	    sp.Go("shard-0", indexShard0)
//	    return nil
//	})
//	jobs.Cancel()
//	err := jobs.Wait(ctx)
type Scope struct {
	name    string
	sup     *Supervisor
	parent  *Scope
	tok     *token
	tracker *tracker // live tasks in this scope and all descendants
}

func newScope(sup *Supervisor, parent *Scope, name string, tok *token) *Scope {
	return &Scope{
		name:    name,
		sup:     sup,
		parent:  parent,
		tok:     tok,
		tracker: newTracker(),
	}
}

// NewScope creates a child scope. Its tasks are cancelled when s is.
//
// s keeps a reference to the child until either of them is cancelled, so
// a long-lived parent that creates scopes on demand must Cancel each one
// once it is finished with it. Cancelling an idle scope is harmless.
func (s *Scope) NewScope(name string) *Scope {
	return newScope(s.sup, s, s.name+"/"+name, s.tok.child(s.tok.base))
}

// Spawn starts a task in s.
func (s *Scope) Spawn(name string, fn TaskFunc) *Handle {
	return s.sup.spawn(s, nil, name, fn, false)
}

// Go starts a task in s that has no sub-tasks.
func (s *Scope) Go(name string, fn func(ctx context.Context) error) *Handle {
	return s.sup.spawn(s, nil, name, goFunc(fn), false)
}

// SpawnBlocking starts a task in s on the blocking pool.
func (s *Scope) SpawnBlocking(name string, fn func(ctx context.Context) error) *Handle {
	return s.sup.spawn(s, nil, name, goFunc(fn), true)
}

// Scope returns s.
func (s *Scope) Scope() *Scope { return s }

// Name returns the slash-separated path of s from the root.
func (s *Scope) Name() string { return s.name }

// Parent returns the enclosing scope, nil for the root.
func (s *Scope) Parent() *Scope { return s.parent }

// Cancel cancels s, its child scopes and all their tasks. It returns once
// every descendant token is cancelled. Subsequent calls have no effect.
func (s *Scope) Cancel() {
	s.tok.cancel(nil)
}

// CancelCause is like Cancel but records cause as the reason.
func (s *Scope) CancelCause(cause error) {
	s.tok.cancel(cause)
}

// Cancelled reports whether s has been cancelled.
func (s *Scope) Cancelled() bool {
	return s.tok.Err() != nil
}

// Cause returns why s was cancelled, or nil.
func (s *Scope) Cause() error {
	return s.tok.Cause()
}

// Done is closed when s is cancelled.
func (s *Scope) Done() <-chan struct{} {
	return s.tok.Done()
}

// Context returns a context cancelled together with s.
func (s *Scope) Context() context.Context {
	return s.tok
}

// Active returns the number of non-terminal tasks in s and its
// descendants.
func (s *Scope) Active() int {
	return s.tracker.count()
}

// Wait parks until every task in s and its descendants is terminal, or
// ctx ends. It does not cancel anything.
func (s *Scope) Wait(ctx context.Context) error {
	return s.tracker.wait(ctx)
}

// WaitTimeout is Wait bounded by d. It returns context.DeadlineExceeded
// when tasks are still live at the deadline.
func (s *Scope) WaitTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Wait(ctx)
}
