// Package worker orchestrates job execution: it pulls jobs from the queue
// (optionally through the preprocessing overlap pipeline), prepares device
// memory for the job's stage, dispatches to the handler for the job type,
// and publishes progress and terminal results to the queue and the hub.
//
// Lifecycle is stopped -> starting -> running -> stopping -> stopped; Stop
// waits a bounded time for the loops to drain and then unloads all device
// memory.
package worker
