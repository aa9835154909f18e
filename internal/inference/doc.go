// Package inference defines the contracts between the job orchestrator and
// the model backends: the Engine interface, the preprocessing artifact, and
// progress reporting.
//
// The simulated implementations let the daemon and its tests run end-to-end
// without an accelerator; real backends plug in behind the same interfaces.
package inference
