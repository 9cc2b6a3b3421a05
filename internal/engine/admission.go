package engine

import (
	"context"
	"time"

	"diffusiond/internal/pipeline"
)

// slot wraps a variant with its admission primitives.
type slot struct {
	variant *pipeline.Variant
	genCh   chan struct{} // size 1: single in-flight generation
	queueCh chan struct{} // buffered: queue slots
}

func newSlot(v *pipeline.Variant, depth int) *slot {
	return &slot{
		variant: v,
		genCh:   make(chan struct{}, 1),
		queueCh: make(chan struct{}, depth),
	}
}

// beginGeneration reserves a queue slot and then the single in-flight slot.
// Returns a release func to be deferred.
func (e *Engine) beginGeneration(ctx context.Context, s *slot) (func(), error) {
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	mode := s.variant.Mode().String()

	timer := time.NewTimer(e.cfg.MaxWait)
	defer timer.Stop()
	select {
	case s.queueCh <- struct{}{}:
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, tooBusyError{mode: mode}
	}

	acquired := false
	defer func() {
		if !acquired {
			<-s.queueCh
		}
	}()
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	timer2 := time.NewTimer(e.cfg.MaxWait)
	defer timer2.Stop()
	select {
	case s.genCh <- struct{}{}:
		acquired = true
		return func() { <-s.genCh; <-s.queueCh }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer2.C:
		return func() {}, tooBusyError{mode: mode}
	}
}
