package taskrt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/baxromumarov/taskrt/ident"
)

// State is a task's lifecycle position. Completed, Cancelled and Panicked
// are terminal and never change once reached.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateCancelled
	StatePanicked
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StatePanicked:
		return "panicked"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is final.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// TaskInfo is a snapshot of a task's metadata. It is passed to hooks and
// carried by [TaskError].
type TaskInfo struct {
	ID       ident.ID
	Name     string
	Scope    string
	Parent   ident.ID // zero for tasks spawned directly in a scope
	State    State
	Blocking bool
	Started  time.Time // zero until the task runs
}

// TaskFunc is the signature of a supervised task. ctx is cancelled when
// the task, its scope, or any ancestor is cancelled. sp spawns sub-tasks
// that the task implicitly waits for before it becomes terminal; it is
// valid only while the task function runs.
type TaskFunc func(ctx context.Context, sp Spawner) error

type task struct {
	id       ident.ID
	name     string
	sup      *Supervisor
	scope    *Scope
	parent   *task
	tok      *token
	blocking bool

	state    atomic.Int32
	started  atomic.Int64 // unix nanos on the supervisor clock
	children *tracker
	sp       *taskSpawner

	done    chan struct{}
	outcome error // written once before done is closed

	mu       sync.Mutex
	cleanups []func()
	finished bool
}

func (t *task) State() State {
	return State(t.state.Load())
}

func (t *task) info() TaskInfo {
	info := TaskInfo{
		ID:       t.id,
		Name:     t.name,
		Scope:    t.scope.name,
		State:    t.State(),
		Blocking: t.blocking,
	}
	if t.parent != nil {
		info.Parent = t.parent.id
	}
	if ns := t.started.Load(); ns != 0 {
		info.Started = time.Unix(0, ns).In(t.sup.clock.Now().Location())
	}
	return info
}

// whenDone runs fn once t is terminal, immediately if it already is.
func (t *task) whenDone(fn func()) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		fn()
		return
	}
	t.cleanups = append(t.cleanups, fn)
	t.mu.Unlock()
}

// setTerminal moves t into a terminal state exactly once.
func (t *task) setTerminal(s State, outcome error) bool {
	for {
		cur := t.state.Load()
		if State(cur).Terminal() {
			return false
		}
		if t.state.CompareAndSwap(cur, int32(s)) {
			t.outcome = outcome
			return true
		}
	}
}

func (t *task) runCleanups() {
	t.mu.Lock()
	t.finished = true
	fns := t.cleanups
	t.cleanups = nil
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Handle is the caller's reference to a spawned task.
type Handle struct {
	t *task
}

// ID returns the task's identifier.
func (h *Handle) ID() ident.ID { return h.t.id }

// Name returns the name given at spawn.
func (h *Handle) Name() string { return h.t.name }

// State returns the current state.
func (h *Handle) State() State { return h.t.State() }

// Info returns a metadata snapshot.
func (h *Handle) Info() TaskInfo { return h.t.info() }

// Done is closed once the task is terminal.
func (h *Handle) Done() <-chan struct{} { return h.t.done }

// Err returns the task's outcome once terminal, nil before. The outcome is
// nil for a task that completed without error, otherwise a [*TaskError]
// whose cause is the returned error, a [*PanicError], or an error matching
// [ErrCancelled].
func (h *Handle) Err() error {
	select {
	case <-h.t.done:
		return h.t.outcome
	default:
		return nil
	}
}

// Wait parks until the task is terminal and returns its outcome, or
// returns ctx.Err() if ctx ends first.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.t.done:
		return h.t.outcome
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel requests cancellation of the task and its sub-tasks. A task that
// never reaches a suspension point keeps running until it returns.
func (h *Handle) Cancel() {
	h.t.tok.cancel(nil)
}

// CancelCause is like Cancel but records cause as the reason.
func (h *Handle) CancelCause(cause error) {
	h.t.tok.cancel(cause)
}
