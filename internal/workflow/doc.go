// Package workflow tracks an asset's progress through the human-reviewed
// pipeline: uploaded, mesh_generated, mesh_approved, textured,
// texture_approved, rigged, exported.
//
// Approve moves exactly one step along the fixed table; Advance is a
// trusted, unchecked jump for callers that already know the correct target.
// Every transition persists to the stage store and is broadcast through the
// progress hub.
package workflow
