// Package taskrt is an embeddable runtime core: a task supervisor with
// hierarchical cancellation and panic isolation, plus a concurrent,
// rate-limited structured log aggregator.
//
// # Supervising Tasks
//
// A [Supervisor] owns every task it spawns. Tasks live in [Scope]s that
// form a tree under the supervisor's root scope:
//
//	sup := taskrt.NewSupervisor(ctx)
//	jobs := sup.Root().NewScope("jobs")
//	h := jobs.Spawn("index", func(ctx context.Context, sp taskrt.Spawner) error {
//	    sp.Go("shard-0", indexShard)
//	    return nil
//	})
//	err := h.Wait(ctx)
//	report := sup.Shutdown(5 * time.Second)
//
// Each task receives a context that is cancelled when the task, its scope,
// or any ancestor scope is cancelled, and a [Spawner] for sub-tasks. A
// task becomes terminal only after its sub-tasks are terminal; when it
// fails or panics its sub-tasks are cancelled first.
//
// # Task States
//
// A task moves from [StatePending] to [StateRunning] and then to exactly
// one terminal state:
//
//   - [StatePanicked]: the task panicked. The panic is recovered at the task
//     boundary into a [*PanicError]; siblings are unaffected.
//   - [StateCancelled]: the task was cancelled before it started, or it
//     returned an error after being cancelled.
//   - [StateCompleted]: anything else, with the returned error if any.
//
// [Handle.Err] wraps failures in [*TaskError] for attribution. Use
// [IsTaskError], [TaskOf], [CauseOf] and [AllTaskErrors] to inspect them.
//
// # Cancellation
//
// Cancellation is cooperative. A task observes it at any suspension point:
// a select on ctx.Done(), [Sleep], [Yield], a channel operation through
// the chanx package, or waiting for an admission slot. A task that never
// reaches a suspension point cannot be stopped mid-flight, so [SpawnTimeout]
// stops tasks on a best-effort basis.
//
// # Admission and Blocking Work
//
// [WithWorkers] bounds the number of concurrently running tasks with a
// [Semaphore]. [Scope.SpawnBlocking] runs work on a fixed [Pool] of
// goroutines instead, so tasks parked in blocking syscalls never hold
// admission slots.
//
// # Helpers
//
//   - [SpawnResult]: spawn a task that returns a typed value via [Result].
//   - [SpawnTimeout]: spawn a task with a per-task deadline.
//   - [SpawnRetry]: spawn a task with exponential-backoff retries.
//   - [ForEach] and [Map]: fan a slice out over a child scope.
//   - [Race]: first successful result wins, the rest are cancelled.
//   - [Joiner]: receive tasks in completion order.
//
// # Observability
//
// Hooks receive task lifecycle events:
//
//   - [WithOnStart]: called when each task begins executing.
//   - [WithOnDone]: called when each task is terminal, with its outcome
//     and duration.
//   - [WithOnEvent]: unified hook receiving a [TaskEvent] for every state
//     change.
//
// [Supervisor.Stats] and [Supervisor.Tasks] snapshot counters and live
// tasks; the metrics package exports them to Prometheus.
//
// # Runtime
//
// [Runtime] bundles a supervisor with a logagg.Aggregator sharing one
// clock and ID generator. [Runtime.Log] and [Runtime.Logger] emit records
// that carry the calling task's correlation ID. [Runtime.Shutdown] cancels
// every task, waits, then flushes the log within one deadline.
package taskrt
