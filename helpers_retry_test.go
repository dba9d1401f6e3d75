package taskrt

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSupervisor(t *testing.T, opts ...Option) *Supervisor {
	t.Helper()
	sup := NewSupervisor(context.Background(), opts...)
	t.Cleanup(func() { sup.Shutdown(5 * time.Second) })
	return sup
}

func TestSpawnRetrySuccessFirstAttempt(t *testing.T) {
	sup := testSupervisor(t)
	var calls atomic.Int32

	h := SpawnRetry(sup, "immediate", 3, 10*time.Millisecond, func(ctx context.Context, _ Spawner) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, int32(1), calls.Load(), "fn should be called exactly once on first success")
}

func TestSpawnRetrySuccessAfterRetries(t *testing.T) {
	sup := testSupervisor(t, WithSeed(1))
	var calls atomic.Int32

	h := SpawnRetry(sup, "retry-then-ok", 5, time.Millisecond, func(ctx context.Context, _ Spawner) error {
		n := calls.Add(1)
		if n <= 2 {
			return errors.New("transient failure")
		}
		return nil
	})

	require.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, int32(3), calls.Load(), "fn should be called 3 times: 2 failures + 1 success")
}

func TestSpawnRetryAllFail(t *testing.T) {
	sup := testSupervisor(t)
	var calls atomic.Int32
	lastErr := errors.New("final failure")

	h := SpawnRetry(sup, "all-fail", 2, time.Millisecond, func(ctx context.Context, _ Spawner) error {
		calls.Add(1)
		return lastErr
	})

	err := h.Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, lastErr, "should return the last error after exhausting retries")
	assert.Equal(t, StateCompleted, h.State())
	assert.Equal(t, int32(3), calls.Load(), "fn should be called n+1 times (initial + 2 retries)")
}

func TestSpawnRetryCancelDuringBackoff(t *testing.T) {
	sup := testSupervisor(t)
	var calls atomic.Int32
	failed := make(chan struct{})

	h := SpawnRetry(sup, "cancel-during-backoff", 10, time.Minute, func(ctx context.Context, _ Spawner) error {
		if calls.Add(1) == 1 {
			close(failed)
		}
		return errors.New("trigger retry")
	})

	<-failed
	h.Cancel()

	err := h.Wait(context.Background())
	assert.ErrorIs(t, err, ErrCancelled, "cancellation during backoff ends the task")
	assert.Equal(t, StateCancelled, h.State())
	assert.Equal(t, int32(1), calls.Load(),
		"fn should only be called once before cancellation during backoff")
}

func TestSpawnRetryPanicsOnInvalidArgs(t *testing.T) {
	sup := testSupervisor(t)
	noop := func(ctx context.Context, _ Spawner) error { return nil }

	mustPanic(t, "SpawnRetry requires n >= 0", func() {
		SpawnRetry(sup, "bad-n", -1, time.Millisecond, noop)
	})
	mustPanic(t, "SpawnRetry requires backoff > 0", func() {
		SpawnRetry(sup, "bad-backoff", 1, 0, noop)
	})
	mustPanic(t, "SpawnRetry requires backoff > 0", func() {
		SpawnRetry(sup, "negative-backoff", 1, -time.Second, noop)
	})
}
