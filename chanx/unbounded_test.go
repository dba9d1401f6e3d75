package chanx

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnbounded_FIFO(t *testing.T) {
	u := NewUnbounded[int]()
	for i := range 200 {
		require.NoError(t, u.Send(i))
	}
	assert.Equal(t, 200, u.Len())

	for i := range 200 {
		v, ok := u.TryRecv()
		require.True(t, ok)
		require.Equal(t, i, v)
	}

	_, ok := u.TryRecv()
	assert.False(t, ok)
	assert.Equal(t, 0, u.Len())
}

func TestUnbounded_RecvParksUntilSend(t *testing.T) {
	u := NewUnbounded[string]()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = u.Send("hello")
	}()

	v, ok, err := u.Recv(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestUnbounded_CloseDrainsThenReportsClosed(t *testing.T) {
	u := NewUnbounded[int]()
	require.NoError(t, u.Send(1))
	u.Close()

	assert.ErrorIs(t, u.Send(2), ErrClosed)

	v, ok, err := u.Recv(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok, err = u.Recv(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "closed and empty queue should report !ok")
}

func TestUnbounded_RecvContextCancel(t *testing.T) {
	u := NewUnbounded[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok, err := u.Recv(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnbounded_ManyProducersOneConsumer(t *testing.T) {
	u := NewUnbounded[int]()

	const producers, each = 8, 500
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range each {
				_ = u.Send(p*each + i)
			}
		}()
	}
	go func() {
		wg.Wait()
		u.Close()
	}()

	seen := make(map[int]bool, producers*each)
	for {
		v, ok, err := u.Recv(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		require.False(t, seen[v], "duplicate item %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, producers*each)
}

func TestUnboundedManyReceivers(t *testing.T) {
	u := NewUnbounded[int]()

	const receivers = 4
	var wg sync.WaitGroup
	var got atomic.Int64
	for range receivers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, ok, err := u.Recv(context.Background())
				if err != nil || !ok {
					return
				}
				got.Add(1)
			}
		}()
	}

	for i := range 1000 {
		require.NoError(t, u.Send(i))
	}
	u.Close()
	wg.Wait()
	assert.Equal(t, int64(1000), got.Load())
}
