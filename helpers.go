package taskrt

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"
)

// retryJitter is the fraction by which SpawnRetry randomises each backoff.
const retryJitter = 0.2

// SpawnTimeout spawns a task that is cancelled with cause [ErrTimeout] if
// it is still live after d. Cancellation is cooperative: the task stops at
// its next suspension point.
func SpawnTimeout(sp Spawner, name string, d time.Duration, fn TaskFunc) *Handle {
	h := sp.Spawn(name, fn)
	timer := time.AfterFunc(d, func() { h.CancelCause(ErrTimeout) })
	h.t.whenDone(func() { timer.Stop() })
	return h
}

// SpawnRetry spawns a task that calls fn up to n+1 times until it returns
// nil. Between attempts it sleeps backoff, doubling each time, randomised
// by ±20% from the supervisor's seeded source. Cancellation during a
// backoff ends the task. The outcome carries the last error.
//
// SpawnRetry panics if n < 0 or backoff <= 0.
func SpawnRetry(sp Spawner, name string, n int, backoff time.Duration, fn TaskFunc) *Handle {
	if n < 0 {
		panic("taskrt: SpawnRetry requires n >= 0")
	}
	if backoff <= 0 {
		panic("taskrt: SpawnRetry requires backoff > 0")
	}
	rng := sp.Scope().sup.rng

	return sp.Spawn(name, func(ctx context.Context, sub Spawner) error {
		delay := backoff
		var err error
		for attempt := 0; attempt <= n; attempt++ {
			if err = fn(ctx, sub); err == nil {
				return nil
			}
			if attempt == n {
				break
			}
			if serr := Sleep(ctx, rng.Jitter(delay, retryJitter)); serr != nil {
				return serr
			}
			delay *= 2
		}
		return err
	})
}

// Yield lets other goroutines run and reports whether ctx has been
// cancelled. Long CPU-bound loops call it to create a suspension point.
func Yield(ctx context.Context) error {
	runtime.Gosched()
	return ctx.Err()
}

// Sleep parks for d or until ctx is cancelled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForEach runs fn for every item concurrently in a child scope of sp and
// waits for all of them. The first failure cancels the rest; ForEach
// returns that failure.
//
//	err := taskrt.ForEach(ctx, sup, "fetch", urls, func(ctx context.Context, u string) error {
//	    return fetch(ctx, u)
//	})
func ForEach[T any](ctx context.Context, sp Spawner, name string, items []T, fn func(ctx context.Context, item T) error) error {
	sc := sp.Scope().NewScope(name)
	j := NewJoiner()
	for i, item := range items {
		j.Add(sc.Go(fmt.Sprintf("%s[%d]", name, i), func(ctx context.Context) error {
			return fn(ctx, item)
		}))
	}
	return joinFailFast(ctx, sc, j)
}

// Map runs fn for every item concurrently and returns the results in input
// order. On failure it returns nil and the first error.
func Map[T, R any](ctx context.Context, sp Spawner, name string, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	sc := sp.Scope().NewScope(name)
	j := NewJoiner()
	for i, item := range items {
		j.Add(sc.Go(fmt.Sprintf("%s[%d]", name, i), func(ctx context.Context) error {
			r, err := fn(ctx, item)
			if err != nil {
				return err
			}
			results[i] = r // each task writes a unique index
			return nil
		}))
	}
	if err := joinFailFast(ctx, sc, j); err != nil {
		return nil, err
	}
	return results, nil
}

// joinFailFast drains j, cancelling sc on the first failure. If ctx ends
// first, sc is cancelled and ctx's error returned once every task is
// terminal.
func joinFailFast(ctx context.Context, sc *Scope, j *Joiner) error {
	var first error
	for {
		h, ok, err := j.Next(ctx)
		if err != nil {
			sc.CancelCause(err)
			_ = sc.Wait(context.Background())
			if first != nil {
				return first
			}
			return err
		}
		if !ok {
			sc.Cancel()
			return first
		}
		if herr := h.Err(); herr != nil && first == nil {
			first = herr
			sc.CancelCause(herr)
		}
	}
}

// Race runs every fn concurrently in a child scope and returns the first
// successful result, cancelling the rest. If all fail it returns the last
// error. An empty task list returns the zero value and nil.
func Race[T any](ctx context.Context, sp Spawner, name string, fns ...func(context.Context) (T, error)) (T, error) {
	var zero T
	if len(fns) == 0 {
		return zero, nil
	}
	for i, fn := range fns {
		if fn == nil {
			panic(fmt.Sprintf("taskrt: Race task[%d] must not be nil", i))
		}
	}

	sc := sp.Scope().NewScope(name)
	defer sc.Cancel()

	results := make([]*Result[T], len(fns))
	j := NewJoiner()
	for i, fn := range fns {
		results[i] = SpawnResult(sc, fmt.Sprintf("%s[%d]", name, i), fn)
		j.Add(results[i].Handle())
	}
	index := make(map[*task]*Result[T], len(fns))
	for _, r := range results {
		index[r.h.t] = r
	}

	var lastErr error
	for {
		h, ok, err := j.Next(ctx)
		if err != nil {
			return zero, err
		}
		if !ok {
			return zero, lastErr
		}
		v, rerr := index[h.t].Get()
		if rerr == nil {
			return v, nil
		}
		if !errors.Is(rerr, ErrCancelled) || lastErr == nil {
			lastErr = rerr
		}
	}
}
