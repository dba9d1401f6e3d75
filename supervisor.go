package taskrt

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/baxromumarov/taskrt/clock"
	rterrors "github.com/baxromumarov/taskrt/errors"
	"github.com/baxromumarov/taskrt/ident"
	"github.com/baxromumarov/taskrt/keyhash"
)

var errSpawnerClosed = errors.New("taskrt: spawn after the parent task returned")

// Stats is a snapshot of supervisor counters.
type Stats struct {
	Spawned   int64 // tasks ever created, including rejected ones
	Active    int64 // non-terminal tasks
	Running   int64 // tasks whose function is executing
	Completed int64 // tasks in StateCompleted, with or without error
	Failed    int64 // completed tasks that returned an error
	Cancelled int64
	Panicked  int64
	Blocking  PoolStats
	Admission int // admission slots in use; 0 when unbounded
}

// ShutdownReport describes the outcome of [Supervisor.Shutdown].
type ShutdownReport struct {
	// NotTerminated lists the tasks still live at the deadline, ordered by
	// scope and name.
	NotTerminated []TaskInfo
	Elapsed       time.Duration
	// LogErr is set by [Runtime.Shutdown] when the log flush did not
	// finish within the remaining deadline.
	LogErr error
}

// Clean reports whether every task terminated in time.
func (r ShutdownReport) Clean() bool {
	return len(r.NotTerminated) == 0 && r.LogErr == nil
}

// Err returns a SHUTDOWN_TIMEOUT error naming the tasks still live, or
// nil.
func (r ShutdownReport) Err() error {
	if len(r.NotTerminated) == 0 {
		if r.LogErr != nil {
			return rterrors.Wrap(rterrors.ErrCodeShutdownTimeout, "log flush incomplete", r.LogErr)
		}
		return nil
	}
	names := make([]string, len(r.NotTerminated))
	for i, t := range r.NotTerminated {
		names[i] = t.Name
	}
	return rterrors.NewWithContext(rterrors.ErrCodeShutdownTimeout,
		"tasks still running at shutdown deadline",
		map[string]any{
			"count": len(names),
			"tasks": strings.Join(names, ","),
		})
}

// Supervisor owns every task it spawns: it tracks them in a registry,
// isolates their panics, and shuts them down together.
type Supervisor struct {
	cfg   config
	log   *slog.Logger
	clock clock.Clock
	ids   *ident.Generator
	rng   *ident.Rng

	root     *Scope
	registry *keyhash.Map[*task]
	sem      *Semaphore
	pool     *Pool
	closed   atomic.Bool

	spawned   atomic.Int64
	active    atomic.Int64
	running   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
	panicked  atomic.Int64
}

// NewSupervisor creates a supervisor whose root scope is cancelled when
// ctx is.
func NewSupervisor(ctx context.Context, opts ...Option) *Supervisor {
	return newSupervisor(ctx, buildConfig(opts))
}

func newSupervisor(ctx context.Context, cfg config) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		log:      cfg.logger,
		clock:    cfg.clock,
		ids:      cfg.ids,
		rng:      cfg.ids.Rng(),
		registry: keyhash.NewMap[*task](0),
		pool:     NewPool(context.WithoutCancel(ctx), cfg.blockingWorkers),
	}
	if cfg.workers > 0 {
		s.sem = NewSemaphore(cfg.workers)
	}
	s.root = newScope(s, nil, "root", newRootToken(ctx))
	return s
}

// Root returns the root scope.
func (s *Supervisor) Root() *Scope { return s.root }

// Spawn starts a task in the root scope.
func (s *Supervisor) Spawn(name string, fn TaskFunc) *Handle {
	return s.root.Spawn(name, fn)
}

// Go starts a task without sub-tasks in the root scope.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) *Handle {
	return s.root.Go(name, fn)
}

// SpawnBlocking starts a task in the root scope on the blocking pool.
func (s *Supervisor) SpawnBlocking(name string, fn func(ctx context.Context) error) *Handle {
	return s.root.SpawnBlocking(name, fn)
}

// Scope returns the root scope.
func (s *Supervisor) Scope() *Scope { return s.root }

func (s *Supervisor) newTask(scope *Scope, parent *task, name string, blocking bool) *task {
	parentTok := scope.tok
	if parent != nil {
		parentTok = parent.tok
	}

	id := s.ids.New()
	base := parentTok.base
	if _, ok := ident.CorrelationFrom(base); !ok {
		base = ident.WithCorrelation(base, id)
	}

	t := &task{
		id:       id,
		name:     name,
		sup:      s,
		scope:    scope,
		parent:   parent,
		tok:      parentTok.child(base),
		blocking: blocking,
		children: newTracker(),
		done:     make(chan struct{}),
	}
	t.sp = &taskSpawner{t: t}
	return t
}

func (s *Supervisor) spawn(scope *Scope, parent *task, name string, fn TaskFunc, blocking bool) *Handle {
	if s.closed.Load() {
		return s.rejected(name, scope, parent, blocking, ErrShutdown)
	}

	t := s.newTask(scope, parent, name, blocking)
	s.track(t)

	if !blocking {
		go t.run(fn)
		return &Handle{t: t}
	}
	if err := s.pool.Submit(func() error { t.run(fn); return nil }); err != nil {
		// The pool only closes during shutdown.
		t.finish(StateCancelled, cancelledError(ErrShutdown, nil), 0)
	}
	return &Handle{t: t}
}

// rejected returns a handle that is already Cancelled.
func (s *Supervisor) rejected(name string, scope *Scope, parent *task, blocking bool, cause error) *Handle {
	t := s.newTask(scope, parent, name, blocking)
	t.tok.cancel(cause)
	t.state.Store(int32(StateCancelled))
	t.outcome = &TaskError{Task: t.info(), Err: cancelledError(cause, nil)}
	close(t.done)
	t.runCleanups()

	s.spawned.Add(1)
	s.cancelled.Add(1)
	return &Handle{t: t}
}

func (s *Supervisor) track(t *task) {
	s.spawned.Add(1)
	s.active.Add(1)
	s.registry.Store(t.id.String(), t)
	for sc := t.scope; sc != nil; sc = sc.parent {
		sc.tracker.add()
	}
	if t.parent != nil {
		t.parent.children.add()
	}
}

// untrack releases the scope and parent counts once t is done.
func (s *Supervisor) untrack(t *task) {
	if t.parent != nil {
		t.parent.children.done()
	}
	for sc := t.scope; sc != nil; sc = sc.parent {
		sc.tracker.done()
	}
}

// run executes a task from admission to terminal state.
func (t *task) run(fn TaskFunc) {
	s := t.sup

	if t.tok.Err() != nil {
		t.finish(StateCancelled, cancelledError(t.tok.Cause(), nil), 0)
		return
	}
	release := func() {}
	if s.sem != nil && !t.blocking {
		if err := s.sem.Acquire(t.tok); err != nil {
			t.finish(StateCancelled, cancelledError(t.tok.Cause(), nil), 0)
			return
		}
		release = s.sem.Release
	}
	if t.tok.Err() != nil {
		release()
		t.finish(StateCancelled, cancelledError(t.tok.Cause(), nil), 0)
		return
	}

	t.state.Store(int32(StateRunning))
	t.started.Store(s.clock.Now().UnixNano())
	s.running.Add(1)
	start := time.Now()
	if s.cfg.onEvent != nil {
		s.emit(TaskEvent{Kind: EventStarted, Task: t.info()})
	}

	err, pe := t.exec(fn)

	s.running.Add(-1)
	release()
	t.sp.close()
	cancelledAtReturn := t.tok.Err() != nil

	if err != nil || pe != nil {
		cause := err
		if pe != nil {
			cause = pe
		}
		// Stop sub-tasks before waiting on them.
		t.tok.cancel(cause)
	}
	_ = t.children.wait(context.Background())
	elapsed := time.Since(start)

	switch {
	case pe != nil:
		t.finish(StatePanicked, pe, elapsed)
	case err != nil && cancelledAtReturn:
		t.finish(StateCancelled, cancelledError(t.tok.Cause(), err), elapsed)
	default:
		t.finish(StateCompleted, err, elapsed)
	}
}

// exec runs the start hook and fn with panic recovery.
func (t *task) exec(fn TaskFunc) (err error, pe *PanicError) {
	defer func() {
		if r := recover(); r != nil {
			pe = newPanicError(r)
		}
	}()
	if h := t.sup.cfg.onStart; h != nil {
		h(t.info())
	}
	return fn(t.tok, t.sp), nil
}

// finish records the terminal state, notifies hooks and waiters, and
// releases the task's registrations.
func (t *task) finish(state State, cause error, elapsed time.Duration) {
	s := t.sup

	var outcome error
	if cause != nil {
		outcome = &TaskError{Task: t.info(), Err: cause}
	}
	if !t.setTerminal(state, outcome) {
		return
	}
	info := t.info()
	if te, ok := outcome.(*TaskError); ok {
		te.Task = info
	}

	kind := EventDone
	switch state {
	case StatePanicked:
		s.panicked.Add(1)
		kind = EventPanicked
		s.logPanic(t.tok, info, cause.(*PanicError))
	case StateCancelled:
		s.cancelled.Add(1)
		kind = EventCancelled
	default:
		s.completed.Add(1)
		if cause != nil {
			s.failed.Add(1)
			kind = EventErrored
		}
	}

	s.hook(func() {
		if s.cfg.onDone != nil {
			s.cfg.onDone(info, outcome, elapsed)
		}
	})
	s.emit(TaskEvent{Kind: kind, Task: info, Err: outcome, Duration: elapsed})

	s.registry.Delete(t.id.String())
	s.active.Add(-1)
	close(t.done)
	// Free the token from its parent; no sub-task is alive any more.
	t.tok.cancel(context.Canceled)
	s.untrack(t)
	t.runCleanups()
}

func (s *Supervisor) emit(e TaskEvent) {
	if s.cfg.onEvent == nil {
		return
	}
	s.hook(func() { s.cfg.onEvent(e) })
}

// logPanic reports a recovered task panic. A logger that itself panics on
// the value must not take the task's goroutine down with it.
func (s *Supervisor) logPanic(ctx context.Context, info TaskInfo, pe *PanicError) {
	defer func() { _ = recover() }()
	s.log.ErrorContext(ctx, "task panicked",
		"code", rterrors.ErrCodeTaskPanicked,
		"task", info.Name,
		"task_id", info.ID.String(),
		"scope", info.Scope,
		"panic", pe.Value,
		"stack", pe.Stack)
}

// hook runs an observability hook, containing its panics.
func (s *Supervisor) hook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task hook panicked", "panic", r)
		}
	}()
	fn()
}

// Tasks returns a snapshot of every live task.
func (s *Supervisor) Tasks() []TaskInfo {
	var out []TaskInfo
	s.registry.Range(func(_ string, t *task) bool {
		if !t.State().Terminal() {
			out = append(out, t.info())
		}
		return true
	})
	sortInfos(out)
	return out
}

func sortInfos(infos []TaskInfo) {
	slices.SortFunc(infos, func(a, b TaskInfo) int {
		if c := strings.Compare(a.Scope, b.Scope); c != 0 {
			return c
		}
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
}

// Stalled returns the running tasks that started more than threshold ago
// on the supervisor clock.
func (s *Supervisor) Stalled(threshold time.Duration) []TaskInfo {
	now := s.clock.Now()
	var out []TaskInfo
	s.registry.Range(func(_ string, t *task) bool {
		if t.State() != StateRunning {
			return true
		}
		if info := t.info(); now.Sub(info.Started) > threshold {
			out = append(out, info)
		}
		return true
	})
	sortInfos(out)
	return out
}

// Stats returns a snapshot of the counters.
func (s *Supervisor) Stats() Stats {
	st := Stats{
		Spawned:   s.spawned.Load(),
		Active:    s.active.Load(),
		Running:   s.running.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Cancelled: s.cancelled.Load(),
		Panicked:  s.panicked.Load(),
		Blocking:  s.pool.Stats(),
	}
	if s.sem != nil {
		st.Admission = s.sem.InUse()
	}
	return st
}

// Shutdown cancels the root scope and waits up to timeout for every task,
// including ones spawned while unwinding, to become terminal. Spawns after
// Shutdown begins return handles that are already Cancelled.
func (s *Supervisor) Shutdown(timeout time.Duration) ShutdownReport {
	start := time.Now()
	s.closed.Store(true)
	s.root.tok.cancel(ErrShutdown)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	waitErr := s.root.Wait(ctx)

	rep := ShutdownReport{Elapsed: time.Since(start)}
	if waitErr != nil {
		rep.NotTerminated = s.Tasks()
		// Blocking tasks may still hold workers; stop intake only.
		s.pool.closeQueue()
		s.log.Warn("shutdown deadline passed",
			"code", rterrors.ErrCodeShutdownTimeout,
			"not_terminated", len(rep.NotTerminated),
			"timeout", timeout)
		return rep
	}
	_ = s.pool.Close()
	return rep
}

// Closed reports whether Shutdown has been called.
func (s *Supervisor) Closed() bool {
	return s.closed.Load()
}
