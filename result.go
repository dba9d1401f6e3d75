package taskrt

import (
	"context"
	"errors"
)

// ErrNotDone is returned by [Result.Get] before the task is terminal.
var ErrNotDone = errors.New("taskrt: task not done")

// Result holds the outcome of a supervised task that produces a typed
// value. Create one via [SpawnResult].
type Result[T any] struct {
	h   *Handle
	val T // written by the task before its handle is done
}

// SpawnResult spawns a named task that returns a typed value.
//
//	r := taskrt.SpawnResult(sup, "compute", func(ctx context.Context) (int, error) {
//	    return expensiveCalc(ctx)
//	})
//	val, err := r.Wait(ctx)
func SpawnResult[T any](sp Spawner, name string, fn func(ctx context.Context) (T, error)) *Result[T] {
	r := &Result[T]{}
	r.h = sp.Go(name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			r.val = v
		}
		return err
	})
	return r
}

// Wait parks until the task is terminal and returns its value and
// outcome. The value is the zero T unless the task completed without
// error. If ctx ends first, Wait returns ctx.Err().
func (r *Result[T]) Wait(ctx context.Context) (T, error) {
	if err := r.h.Wait(ctx); err != nil {
		var zero T
		return zero, err
	}
	return r.val, nil
}

// Get returns the value and outcome without waiting. Before the task is
// terminal it returns [ErrNotDone].
func (r *Result[T]) Get() (T, error) {
	var zero T
	select {
	case <-r.h.Done():
	default:
		return zero, ErrNotDone
	}
	if err := r.h.Err(); err != nil {
		return zero, err
	}
	return r.val, nil
}

// Handle returns the underlying task handle.
func (r *Result[T]) Handle() *Handle {
	return r.h
}

// Done is closed once the task is terminal.
func (r *Result[T]) Done() <-chan struct{} {
	return r.h.Done()
}
