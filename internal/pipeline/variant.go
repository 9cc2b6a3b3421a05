package pipeline

import (
	"sync"

	"diffusiond/internal/sampler"
)

// Mode selects how a pipeline variant is conditioned.
type Mode int

const (
	TextToImage Mode = iota
	ImageToImage
)

func (m Mode) String() string {
	switch m {
	case TextToImage:
		return "txt2img"
	case ImageToImage:
		return "img2img"
	default:
		return "unknown"
	}
}

// Variant is one loaded pipeline mode. It shares its Weights with the other
// variant and owns only the sampler field. Callers serialize generation on a
// variant themselves; the mutex here only keeps Sampler/SetSampler coherent
// for concurrent readers such as status reporting.
type Variant struct {
	mode    Mode
	weights *Weights

	mu      sync.RWMutex
	sampler sampler.Sampler
}

// NewVariant takes ownership of one reference on w.
func NewVariant(mode Mode, w *Weights, s sampler.Sampler) *Variant {
	return &Variant{mode: mode, weights: w, sampler: s}
}

func (v *Variant) Mode() Mode { return v.mode }
func (v *Variant) Weights() *Weights { return v.weights }

// Sampler returns the currently attached sampler.
func (v *Variant) Sampler() sampler.Sampler {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.sampler
}

// SetSampler attaches s for subsequent generations.
func (v *Variant) SetSampler(s sampler.Sampler) {
	v.mu.Lock()
	v.sampler = s
	v.mu.Unlock()
}

// Close releases the variant's reference on the shared weights.
func (v *Variant) Close() error { return v.weights.Release() }
