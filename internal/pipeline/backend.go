package pipeline

import (
	"context"
	"image"

	"diffusiond/internal/sampler"
)

// Device names understood by backends.
const (
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

// SelectDevice prefers a GPU and falls back to the CPU.
func SelectDevice(available []string) string {
	for _, d := range available {
		if d == DeviceCUDA {
			return d
		}
	}
	return DeviceCPU
}

// LoadOptions describes a one-time pipeline load from the local cache.
type LoadOptions struct {
	ModelDir       string
	SafetyModelDir string
	Device         string
	// LocalFilesOnly forbids the runtime from reaching the network.
	LocalFilesOnly bool
	// SafetyChecker toggles the classifier embedded in the pipeline call.
	SafetyChecker bool
}

// Call is a single generation on a loaded variant. Prompt and
// NegativePrompt are nil when the request carries no conditioning text.
type Call struct {
	Mode           Mode
	Weights        *Weights
	Sampler        sampler.Sampler
	Prompt         []string
	NegativePrompt []string
	NumImages      int
	Width          int
	Height         int
	InitImage      image.Image
	Strength       float64
	GuidanceScale  float64
	Steps          int
	Generator      *Generator
}

// Output holds generated images in batch order.
type Output struct {
	Images []image.Image
}

// Backend is the diffusion runtime.
type Backend interface {
	// Devices lists the compute devices the runtime can use.
	Devices(ctx context.Context) ([]string, error)
	// Load reads the pipeline weights once and returns a shared handle.
	Load(ctx context.Context, opts LoadOptions) (*Weights, error)
	// Generate runs one forward pass. Implementations must return when ctx is done.
	Generate(ctx context.Context, call Call) (Output, error)
}

// Classifier flags images containing disallowed content.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (unsafe bool, err error)
}
