// Package queue implements the bounded priority job queue at the heart of
// the kiln daemon.
//
// The in-memory queue is the source of truth for live job state. Jobs are
// ordered by (priority, creation time) with strict FIFO within a priority
// class, and their status transitions are one-directional. An optional
// Mirror persists job state to SQLite on a best-effort basis for visibility
// across restarts; mirror failures never affect queue operations.
//
// Only pending jobs can be cancelled. A processing job runs to completion or
// failure because no preemption mechanism exists for in-flight GPU compute.
package queue
