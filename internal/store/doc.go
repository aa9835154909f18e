// Package store persists job and workflow state in SQLite.
//
// The database is a best-effort mirror for observability across restarts,
// not the source of truth: the in-memory queue owns live job state, and
// mirror write failures are logged by callers rather than propagated. Asset
// workflow stages are the exception; the workflow state machine reads and
// writes them through this package directly.
package store
