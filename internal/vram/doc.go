// Package vram makes "which heavy models are resident in GPU memory" an
// explicit, centrally owned decision.
//
// The geometry-synthesis and texture-synthesis models together exceed the
// device's memory, so stage transitions must evict one before loading the
// other. The Manager owns all residency transitions; handlers never inspect
// or mutate residency directly, they ask the manager to Prepare a stage and
// then run. Prepare is idempotent and best-effort: memory shortfalls are
// logged warnings, and a genuinely oversubscribed load surfaces as a failure
// at the inference-call boundary rather than inside the manager.
package vram
