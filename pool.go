package taskrt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/baxromumarov/taskrt/chanx"
)

// ErrPoolClosed is returned by [Pool.Submit] when the pool has been closed.
var ErrPoolClosed = errors.New("taskrt: pool is closed")

// Pool is a fixed set of worker goroutines fed from an unbounded queue.
// The supervisor runs [Scope.SpawnBlocking] tasks on one so that work
// parked in blocking syscalls never holds an admission slot.
type Pool struct {
	queue  *chanx.Unbounded[func() error]
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	errMu sync.Mutex
	errs  []error

	// Observability counters.
	submitted atomic.Int64
	completed atomic.Int64
	errored   atomic.Int64
	inFlight  atomic.Int64
	workers   int
}

// PoolStats provides a point-in-time snapshot of pool activity.
type PoolStats struct {
	Submitted  int64 // total tasks submitted
	Completed  int64 // tasks finished (success + error)
	Errored    int64 // tasks that returned non-nil error or panicked
	InFlight   int64 // tasks currently executing
	QueueDepth int   // tasks waiting in the queue
	Workers    int   // worker count (fixed at creation)
}

// NewPool creates a pool with n worker goroutines. Workers start
// immediately and process tasks until [Pool.Close] is called or ctx is
// cancelled. Panics if n <= 0.
func NewPool(ctx context.Context, n int) *Pool {
	if n <= 0 {
		panic("taskrt: NewPool requires n > 0")
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		queue:   chanx.NewUnbounded[func() error](),
		ctx:     ctx,
		cancel:  cancel,
		workers: n,
	}

	p.wg.Add(n)
	for range n {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		fn, ok, err := p.queue.Recv(p.ctx)
		if err != nil || !ok {
			return
		}
		p.runTask(fn)
	}
}

func (p *Pool) runTask(fn func() error) {
	p.inFlight.Add(1)
	defer func() {
		p.inFlight.Add(-1)
		p.completed.Add(1)
	}()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = newPanicError(r)
			}
		}()
		err = fn()
	}()
	if err != nil {
		p.errored.Add(1)
		p.errMu.Lock()
		p.errs = append(p.errs, err)
		p.errMu.Unlock()
	}
}

// Stats returns a point-in-time snapshot of pool activity.
// Safe to call concurrently.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Errored:    p.errored.Load(),
		InFlight:   p.inFlight.Load(),
		QueueDepth: p.queue.Len(),
		Workers:    p.workers,
	}
}

// Submit queues fn. It never blocks. Returns [ErrPoolClosed] after Close.
func (p *Pool) Submit(fn func() error) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if err := p.queue.Send(fn); err != nil {
		return ErrPoolClosed
	}
	p.submitted.Add(1)
	return nil
}

// Close stops accepting new tasks, lets the workers finish everything
// already queued and waits for them. Returns the joined errors from all
// failed tasks. Safe to call multiple times.
func (p *Pool) Close() error {
	p.closeQueue()
	p.wg.Wait()
	p.cancel()

	p.errMu.Lock()
	defer p.errMu.Unlock()
	return errors.Join(p.errs...)
}

// closeQueue stops intake without waiting for the workers.
func (p *Pool) closeQueue() {
	if p.closed.CompareAndSwap(false, true) {
		p.queue.Close()
	}
}
