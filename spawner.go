package taskrt

import (
	"context"
	"sync"
)

// Spawner starts supervised tasks. [*Scope] spawns top-level tasks of the
// scope; the Spawner handed to a running task spawns its sub-tasks.
type Spawner interface {
	// Spawn starts a task. The task function receives a child Spawner
	// for its own sub-tasks.
	Spawn(name string, fn TaskFunc) *Handle

	// Go is the short form of Spawn for tasks without sub-tasks.
	Go(name string, fn func(ctx context.Context) error) *Handle

	// SpawnBlocking runs fn on the blocking pool instead of an admission
	// slot. Use it for work that parks in syscalls or cgo.
	SpawnBlocking(name string, fn func(ctx context.Context) error) *Handle

	// Scope returns the scope new tasks belong to.
	Scope() *Scope
}

func goFunc(fn func(ctx context.Context) error) TaskFunc {
	return func(ctx context.Context, _ Spawner) error {
		return fn(ctx)
	}
}

// taskSpawner spawns sub-tasks under a running task's token. It closes
// when the task function returns; spawns after that are rejected.
type taskSpawner struct {
	t *task

	mu     sync.Mutex
	closed bool
}

func (sp *taskSpawner) Spawn(name string, fn TaskFunc) *Handle {
	return sp.spawn(name, fn, false)
}

func (sp *taskSpawner) Go(name string, fn func(ctx context.Context) error) *Handle {
	return sp.spawn(name, goFunc(fn), false)
}

func (sp *taskSpawner) SpawnBlocking(name string, fn func(ctx context.Context) error) *Handle {
	return sp.spawn(name, goFunc(fn), true)
}

func (sp *taskSpawner) Scope() *Scope {
	return sp.t.scope
}

// spawn holds the lock across registration so close cannot slip between
// the open check and the parent's child count going up.
func (sp *taskSpawner) spawn(name string, fn TaskFunc, blocking bool) *Handle {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.closed {
		return sp.t.sup.rejected(name, sp.t.scope, sp.t, blocking, errSpawnerClosed)
	}
	return sp.t.sup.spawn(sp.t.scope, sp.t, name, fn, blocking)
}

func (sp *taskSpawner) close() {
	sp.mu.Lock()
	sp.closed = true
	sp.mu.Unlock()
}
