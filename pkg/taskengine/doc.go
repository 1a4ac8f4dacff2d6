// Package taskengine implements the generic state machine every lifecycle
// task is built from.
//
// # Lifecycle
//
// A task document moves CREATED -> STARTED -> FINISHED | FAILED, with
// CANCELLED reachable from the two non-terminal stages by an explicit
// cancel. Inside STARTED each task type declares an ordered list of
// sub-stages; stages and sub-stages only ever move forward, and a terminal
// document accepts no further domain patches.
//
// # Registration
//
// Concrete task types register a Definition mapping sub-stages to handler
// functions. The dispatch table is built once at registration. Handlers run
// in their own goroutines and advance the task by patching it through
// ProceedTo, Complete or Fail; the engine re-enters via Apply rather than
// blocking while a task waits on adapters or child tasks.
//
// # Concurrency
//
// Concurrent patches to one document serialize through optimistic
// versioning: a patch whose DocumentVersion is not newer than the stored
// version is rejected with ConflictError and the caller must re-read and
// retry. Independent documents never contend.
//
// # Callbacks and expiration
//
// Reaching FINISHED or FAILED notifies the task's callback exactly once,
// best effort: a delivery failure is logged and counted but never reverts
// the terminal stage. An expiration sweep stops tasks past their deadline;
// stopping a non-terminal task fails it toward its callback first so the
// creator is not left waiting.
package taskengine
