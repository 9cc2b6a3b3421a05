// Package engine serves predictions on a provisioned pipeline. It is split
// into small files by concern:
//
//   - engine.go: Engine type, Setup and lifecycle state.
//   - config.go: Config and package defaults; New applies defaults.
//   - predict.go: Request validation and the Predict entry point.
//   - admission.go: per-variant queueing and single in-flight generation.
//   - errors.go: error types and helpers (IsInvalidInput, IsNoSafeOutput, IsTooBusy).
//   - imageio.go: decoding initial images and writing PNG outputs.
//   - seed.go: seed sources.
//   - events.go, metrics.go, status.go: observability.
//
// An Engine must be Setup exactly once before Predict is called. Calling
// Predict on an engine that is not ready is a programming error and panics.
package engine
