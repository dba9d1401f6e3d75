package taskrt

import (
	"fmt"
	"runtime"

	rterrors "github.com/baxromumarov/taskrt/errors"
)

// ErrTaskPanicked is the sentinel every [*PanicError] unwraps to, so
// errors.Is and errors.IsCode(err, ErrCodeTaskPanicked) both match.
var ErrTaskPanicked = rterrors.New(rterrors.ErrCodeTaskPanicked, "task panicked")

// PanicError wraps a recovered panic value together with the goroutine
// stack trace captured at the point of the panic. A panicking task ends
// in [StatePanicked] with a PanicError as its outcome; its siblings and
// the worker goroutine are unaffected.
type PanicError struct {
	// Value is the original value passed to panic().
	Value any

	// Stack is the goroutine stack trace at the point of panic.
	Stack string
}

// Error returns a human-readable representation of the panic,
// including the value and the full stack trace.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", e.Value, e.Stack)
}

// Unwrap returns [ErrTaskPanicked].
func (e *PanicError) Unwrap() error { return ErrTaskPanicked }

func newPanicError(v any) *PanicError {
	// 8 KiB is enough for most stack traces. runtime.Stack truncates
	// gracefully if the buffer is too small.
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return &PanicError{
		Value: v,
		Stack: string(buf[:n]),
	}
}
