// Package pipeline models the loaded diffusion pipeline as seen by the
// engine. The network, the sampling maths and the safety classifier live in
// an external runtime reached through Backend and Classifier; this package
// only owns the handles the engine coordinates:
//
//   - weights.go: Weights, a reference-counted handle to the shared encoder,
//     denoiser and decoder tensors.
//   - variant.go: Variant, one pipeline mode with its private sampler field.
//   - generator.go: Generator, the seeded random source of a request.
//   - backend.go: Backend and Classifier capabilities plus call payloads.
//
// The worker sub-package implements Backend and Classifier over HTTP.
package pipeline
