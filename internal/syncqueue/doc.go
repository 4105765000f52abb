// Package syncqueue persists pending remote mutations in SQLite and exposes
// helpers for driving their lifecycle.
//
// Every library tree mutation with remote relevance lands here as a Task. The
// queue is append-only FIFO with two coalescing rules applied at enqueue time:
// updates for a path collapse to the latest one, and a delete supersedes every
// queued task for the path and its descendants. Tasks are keyed by ID so two
// operations on the same path remain independently retryable.
//
// The reconciler drains the queue strictly in order; Remove is only called on
// success or permanent failure, so a crash mid-drain replays the head task.
// Schema changes bump the version in schema.go; users clear the queue database
// to adopt the new schema.
package syncqueue
