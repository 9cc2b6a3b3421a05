package pipeline

import (
	"errors"
	"sync"
)

// Weights references model tensors owned by a Backend. Both pipeline
// variants hold the same *Weights; the release hook runs once, when the last
// holder lets go.
type Weights struct {
	ID       string
	ModelDir string

	mu       sync.Mutex
	refs     int
	release  func() error
	released bool
}

// NewWeights returns a handle with a single reference. release may be nil.
func NewWeights(id, modelDir string, release func() error) *Weights {
	return &Weights{ID: id, ModelDir: modelDir, refs: 1, release: release}
}

// Retain adds a reference and returns w for chaining.
func (w *Weights) Retain() *Weights {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		panic("pipeline: Retain on released weights " + w.ID)
	}
	w.refs++
	return w
}

// Release drops a reference, freeing the tensors when none remain.
func (w *Weights) Release() error {
	w.mu.Lock()
	if w.released {
		w.mu.Unlock()
		return errors.New("pipeline: weights " + w.ID + " already released")
	}
	w.refs--
	if w.refs > 0 {
		w.mu.Unlock()
		return nil
	}
	w.released = true
	fn := w.release
	w.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return nil
}

// Refs reports the current reference count.
func (w *Weights) Refs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.refs
}
