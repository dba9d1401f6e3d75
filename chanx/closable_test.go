package chanx

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClosableTrySend(t *testing.T) {
	c := NewClosable[string](2)

	require.NoError(t, c.TrySend("a"))
	require.NoError(t, c.TrySend("b"))
	assert.ErrorIs(t, c.TrySend("c"), ErrBuffFull)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 2, c.Cap())

	c.Close()
	c.Close()
	assert.True(t, c.Closed())
	assert.ErrorIs(t, c.TrySend("d"), ErrClosed)

	var got []string
	for v := range c.Chan() {
		got = append(got, v)
	}
	assert.Equal(t, []string{"a", "b"}, got, "accepted items survive Close")
	assert.Zero(t, c.Len())
}

func TestClosableZeroCapacityIsAlwaysFull(t *testing.T) {
	c := NewClosable[int](0)
	assert.ErrorIs(t, c.TrySend(1), ErrBuffFull)
	c.Close()
	assert.ErrorIs(t, c.TrySend(1), ErrClosed)
}

func TestClosableProducersRacingClose(t *testing.T) {
	c := NewClosable[int](16)

	var accepted, received atomic.Int64
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for range c.Chan() {
			received.Add(1)
		}
	}()

	var wg sync.WaitGroup
	for p := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				if c.TrySend(p*1000+i) == nil {
					accepted.Add(1)
				}
			}
		}()
	}
	c.Close()
	wg.Wait()
	<-consumed

	assert.Equal(t, accepted.Load(), received.Load())
}
