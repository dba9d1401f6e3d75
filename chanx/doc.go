// Package chanx provides the notification primitives shared by the task
// supervisor and the log aggregator.
//
// Plain channels panic on double close and on send-after-close, and a
// blocked send leaks its goroutine. The types here turn those edges into
// errors:
//
//   - [Event]: a one-shot flag with many waiters. Setting it wakes every
//     waiter at once; it never resets. Used for shutdown and drain signaling.
//   - [Closable]: a bounded multi-producer single-consumer queue with
//     idempotent close. [Closable.TrySend] never blocks, which is what the
//     log emit path relies on.
//   - [Unbounded]: a queue without a capacity limit whose Send never
//     blocks, used for task completion notification and the blocking pool.
//
// Blocked callers are always parked on a channel; nothing here spins.
package chanx
