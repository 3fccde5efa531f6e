// Package scheduler drives a render run: it owns the queue of blend-file
// tasks and a fixed pool of workers.
//
// # How It Works
//
// A Scheduler is seeded from a resolved plan and then advanced by Step, which
// never blocks:
//  1. Reap: every busy worker whose renderer exited is finalized and freed.
//  2. Split: when exactly one task is queued and several workers are idle,
//     the task's frame range is divided across all of them.
//  3. Dispatch: otherwise the queue head goes to the next idle worker, until
//     either runs out.
//
// The queue is strict FIFO. A task whose upstream tasks are still rendering
// stays at the head of the queue until they are reaped, so a dependent never
// reads half-written output. Callers either run Step from their own event
// source or use RunToCompletion, which polls on a fixed interval.
//
// # Thread-Safety
//
// A Scheduler is owned by one control loop; Step, Cancel and IsDone must be
// called sequentially. The only concurrency is the external renderers, which
// are observed through polling.
//
// # Failures
//
// A renderer exiting non-zero is not an error: the worker writes an ERROR
// marker and the run goes on. Structural errors (a bad task, a launch
// failure) are returned by Step and abort the run.
package scheduler
