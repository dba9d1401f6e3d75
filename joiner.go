package taskrt

import (
	"context"
	"sync/atomic"

	"github.com/baxromumarov/taskrt/chanx"
)

// Joiner yields tasks in the order they finish.
//
//	j := taskrt.NewJoiner()
//	for _, u := range urls {
//	    j.Add(scope.Go(u, fetcher(u)))
//	}
//	for {
//	    h, ok, err := j.Next(ctx)
//	    if err != nil || !ok {
//	        break
//	    }
//	    log.Println(h.Name(), h.Err())
//	}
type Joiner struct {
	done    *chanx.Unbounded[*Handle]
	pending atomic.Int64
}

// NewJoiner returns an empty Joiner.
func NewJoiner() *Joiner {
	return &Joiner{done: chanx.NewUnbounded[*Handle]()}
}

// Add registers h. A handle that is already terminal is available from
// Next immediately.
func (j *Joiner) Add(h *Handle) {
	j.pending.Add(1)
	h.t.whenDone(func() {
		_ = j.done.Send(h)
	})
}

// Next returns the next task to finish. ok is false once every added task
// has been returned. If ctx ends first, Next returns ctx.Err().
func (j *Joiner) Next(ctx context.Context) (h *Handle, ok bool, err error) {
	if j.pending.Load() == 0 {
		return nil, false, nil
	}
	h, ok, err = j.done.Recv(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	j.pending.Add(-1)
	return h, true, nil
}

// Len returns the number of added tasks not yet returned by Next.
func (j *Joiner) Len() int {
	return int(j.pending.Load())
}
