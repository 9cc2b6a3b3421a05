package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"diffusiond/internal/pipeline"
	"diffusiond/internal/provision"
	"diffusiond/internal/sampler"
)

func TestSetupRequiresProvisionedCache(t *testing.T) {
	fb := &fakeBackend{}
	e := New(Config{CacheDir: t.TempDir(), Backend: fb, Logger: zerolog.Nop()})
	err := e.Setup(context.Background())
	if !errors.Is(err, provision.ErrCacheIncomplete) {
		t.Fatalf("expected ErrCacheIncomplete, got %v", err)
	}
	if len(fb.loads) != 0 {
		t.Fatalf("backend loaded from an incomplete cache")
	}
	if e.Ready() {
		t.Fatalf("engine ready after failed setup")
	}
	if st := e.Status(); st.State != string(StateUninitialized) || st.LastError == "" {
		t.Fatalf("status after failed setup: %+v", st)
	}
}

func TestSetupLoadsOnceAndSharesWeights(t *testing.T) {
	e, fb := newReadyEngine(t, Config{})
	if len(fb.loads) != 1 {
		t.Fatalf("expected one load, got %d", len(fb.loads))
	}
	opts := fb.loads[0]
	if !opts.LocalFilesOnly || opts.SafetyChecker {
		t.Fatalf("load options: %+v", opts)
	}
	if opts.Device != pipeline.DeviceCUDA {
		t.Fatalf("expected cuda, got %q", opts.Device)
	}
	if e.txt2img.variant.Weights() != e.img2img.variant.Weights() {
		t.Fatalf("variants do not share weights")
	}
	if n := e.txt2img.variant.Weights().Refs(); n != 2 {
		t.Fatalf("expected 2 refs, got %d", n)
	}
	if got := e.txt2img.variant.Sampler().Name; got != sampler.DDIM {
		t.Fatalf("initial sampler %q", got)
	}
	if err := e.Setup(context.Background()); err == nil {
		t.Fatalf("second Setup should fail")
	}
}

func TestSetupFallsBackToCPU(t *testing.T) {
	_, fb := newReadyEngine(t, Config{Backend: &fakeBackend{devices: []string{"cpu"}}})
	if fb.loads[0].Device != pipeline.DeviceCPU {
		t.Fatalf("expected cpu, got %q", fb.loads[0].Device)
	}
}

func TestSetupRejectsOtherModel(t *testing.T) {
	e := New(Config{CacheDir: provisionedCache(t), ModelID: "runwayml/stable-diffusion-v1-5", Backend: &fakeBackend{}})
	if err := e.Setup(context.Background()); err == nil {
		t.Fatalf("expected model mismatch error")
	}
}

func TestCloseReleasesWeightsOnce(t *testing.T) {
	e, fb := newReadyEngine(t, Config{})
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if fb.released != 1 {
		t.Fatalf("expected one release, got %d", fb.released)
	}
	if e.Ready() {
		t.Fatalf("ready after close")
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestPredictBeforeSetupPanics(t *testing.T) {
	e := New(Config{Backend: &fakeBackend{}})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	_, _ = e.Predict(context.Background(), DefaultRequest())
}

func TestSetupPublishesEvents(t *testing.T) {
	pub := NewMemoryPublisher()
	newReadyEngine(t, Config{Publisher: pub})
	names := pub.Names()
	if len(names) != 2 || names[0] != EventSetupStart || names[1] != EventSetupDone {
		t.Fatalf("events: %v", names)
	}
}

func TestStatusReportsVariants(t *testing.T) {
	e, _ := newReadyEngine(t, Config{MaxQueueDepth: 4, Classifier: indexClassifier{}})
	st := e.Status()
	if st.State != "ready" || st.Device != "cuda" || st.ModelID != "stabilityai/stable-diffusion-2-1" || !st.SafetyFilter {
		t.Fatalf("status: %+v", st)
	}
	if len(st.Variants) != 2 || st.Variants[0].Mode != "txt2img" || st.Variants[1].Mode != "img2img" {
		t.Fatalf("variants: %+v", st.Variants)
	}
	if st.Variants[0].MaxQueueDepth != 4 || st.Variants[0].Sampler != "DDIM" {
		t.Fatalf("variant status: %+v", st.Variants[0])
	}
}
