package taskrt

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEach(t *testing.T) {
	ctx := context.Background()

	t.Run("empty slice", func(t *testing.T) {
		sup := testSupervisor(t)
		err := ForEach(ctx, sup, "none", []int{}, func(ctx context.Context, item int) error {
			t.Error("fn must not be called")
			return nil
		})
		assert.NoError(t, err)
	})

	t.Run("all items visited", func(t *testing.T) {
		sup := testSupervisor(t)
		var mu sync.Mutex
		var seen []int
		err := ForEach(ctx, sup, "visit", []int{3, 1, 2}, func(ctx context.Context, item int) error {
			mu.Lock()
			seen = append(seen, item)
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
		slices.Sort(seen)
		assert.Equal(t, []int{1, 2, 3}, seen)
	})

	t.Run("first failure cancels the rest", func(t *testing.T) {
		sup := testSupervisor(t)
		boom := errors.New("boom")
		var cancelled atomic.Int32
		var running sync.WaitGroup
		running.Add(3)
		err := ForEach(ctx, sup, "fail", []int{0, 1, 2, 3}, func(ctx context.Context, item int) error {
			if item == 0 {
				running.Wait()
				return boom
			}
			running.Done()
			<-ctx.Done()
			cancelled.Add(1)
			return ctx.Err()
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int32(3), cancelled.Load())
		assert.Zero(t, sup.Root().Active(), "ForEach returns only after every task is terminal")
	})

	t.Run("panic surfaces as PanicError", func(t *testing.T) {
		sup := testSupervisor(t)
		err := ForEach(ctx, sup, "panic", []int{1}, func(ctx context.Context, item int) error {
			panic("item panic")
		})
		var pe *PanicError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "item panic", pe.Value)
	})

	t.Run("waiting context ends early", func(t *testing.T) {
		sup := testSupervisor(t)
		wctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		err := ForEach(wctx, sup, "slow", []int{1, 2}, func(ctx context.Context, item int) error {
			return Sleep(ctx, time.Minute)
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Zero(t, sup.Root().Active())
	})
}

func TestMap(t *testing.T) {
	ctx := context.Background()

	t.Run("preserves input order", func(t *testing.T) {
		sup := testSupervisor(t)
		in := []int{5, 4, 3, 2, 1}
		out, err := Map(ctx, sup, "square", in, func(ctx context.Context, item int) (string, error) {
			time.Sleep(time.Duration(item) * time.Millisecond)
			return fmt.Sprint(item * item), nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"25", "16", "9", "4", "1"}, out)
	})

	t.Run("error returns nil slice", func(t *testing.T) {
		sup := testSupervisor(t)
		out, err := Map(ctx, sup, "bad", []int{1, 2}, func(ctx context.Context, item int) (int, error) {
			if item == 2 {
				return 0, errors.New("two")
			}
			return item, nil
		})
		assert.Error(t, err)
		assert.Nil(t, out)
	})

	t.Run("runs inside a task", func(t *testing.T) {
		sup := testSupervisor(t)
		var got []int
		h := sup.Spawn("outer", func(ctx context.Context, sp Spawner) error {
			var err error
			got, err = Map(ctx, sp, "inner", []int{1, 2}, func(ctx context.Context, item int) (int, error) {
				return item * 10, nil
			})
			return err
		})
		require.NoError(t, h.Wait(ctx))
		assert.Equal(t, []int{10, 20}, got)
	})
}

func TestRace(t *testing.T) {
	ctx := context.Background()

	t.Run("first success wins and losers are cancelled", func(t *testing.T) {
		sup := testSupervisor(t)
		loserStopped := make(chan struct{})
		val, err := Race(ctx, sup, "race",
			func(ctx context.Context) (int, error) {
				return 1, nil
			},
			func(ctx context.Context) (int, error) {
				defer close(loserStopped)
				select {
				case <-ctx.Done():
					return 0, ctx.Err()
				case <-time.After(5 * time.Second):
					t.Error("loser was not cancelled")
					return 0, fmt.Errorf("timeout")
				}
			},
		)
		require.NoError(t, err)
		assert.Equal(t, 1, val)
		<-loserStopped
	})

	t.Run("all fail returns an error", func(t *testing.T) {
		sup := testSupervisor(t)
		sentinel := errors.New("fail")
		_, err := Race(ctx, sup, "race",
			func(ctx context.Context) (int, error) { return 0, sentinel },
			func(ctx context.Context) (int, error) { return 0, errors.New("other") },
		)
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		sup := testSupervisor(t)
		val, err := Race[int](ctx, sup, "race")
		require.NoError(t, err)
		assert.Zero(t, val)
	})

	t.Run("context cancel", func(t *testing.T) {
		sup := testSupervisor(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Race(cctx, sup, "race", func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("nil task panics", func(t *testing.T) {
		sup := testSupervisor(t)
		mustPanic(t, "must not be nil", func() {
			Race(ctx, sup, "race",
				func(ctx context.Context) (int, error) { return 1, nil },
				nil,
			)
		})
	})
}

func TestSpawnTimeout(t *testing.T) {
	sup := testSupervisor(t)

	slow := SpawnTimeout(sup, "slow", 10*time.Millisecond, func(ctx context.Context, _ Spawner) error {
		return Sleep(ctx, time.Minute)
	})
	err := slow.Wait(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, ErrTimeout)

	fast := SpawnTimeout(sup, "fast", time.Minute, func(ctx context.Context, _ Spawner) error {
		return nil
	})
	require.NoError(t, fast.Wait(context.Background()))
}

func TestSpawnResult(t *testing.T) {
	sup := testSupervisor(t)
	release := make(chan struct{})

	r := SpawnResult(sup, "answer", func(ctx context.Context) (int, error) {
		<-release
		return 42, nil
	})
	_, err := r.Get()
	assert.ErrorIs(t, err, ErrNotDone)

	close(release)
	v, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = r.Get()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, "answer", r.Handle().Name())

	failed := SpawnResult(sup, "fail", func(ctx context.Context) (int, error) {
		return 7, errors.New("nope")
	})
	v, err = failed.Wait(context.Background())
	assert.Error(t, err)
	assert.Zero(t, v, "a failed task yields the zero value")
}

func TestJoinerCompletionOrder(t *testing.T) {
	sup := testSupervisor(t)
	j := NewJoiner()

	gates := make([]chan struct{}, 3)
	for i := range gates {
		gates[i] = make(chan struct{})
		gate := gates[i]
		j.Add(sup.Go(fmt.Sprint(i), func(ctx context.Context) error {
			<-gate
			return nil
		}))
	}
	assert.Equal(t, 3, j.Len())

	var order []string
	for _, i := range []int{2, 0, 1} {
		close(gates[i])
		h, ok, err := j.Next(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		order = append(order, h.Name())
	}
	assert.Equal(t, []string{"2", "0", "1"}, order)

	_, ok, err := j.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJoinerNextRespectsContext(t *testing.T) {
	sup := testSupervisor(t)
	j := NewJoiner()
	h := sup.Go("forever", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	j.Add(h)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := j.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	h.Cancel()
}

func TestSleepAndYield(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.NoError(t, Sleep(ctx, time.Millisecond))
	assert.NoError(t, Yield(ctx))

	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
	assert.ErrorIs(t, Yield(ctx), context.Canceled)
}
