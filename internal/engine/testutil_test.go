package engine

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"diffusiond/internal/hub"
	"diffusiond/internal/pipeline"
	"diffusiond/internal/provision"
)

const testSchedulerConfig = `{
  "_class_name": "DDIMScheduler",
  "beta_end": 0.012,
  "beta_schedule": "scaled_linear",
  "beta_start": 0.00085,
  "clip_sample": false,
  "num_train_timesteps": 1000,
  "prediction_type": "v_prediction",
  "set_alpha_to_one": false,
  "steps_offset": 1
}`

// snapshotFetcher writes a minimal snapshot for every repository.
type snapshotFetcher struct{}

func (snapshotFetcher) Snapshot(ctx context.Context, repoID, cacheDir string) (string, error) {
	storage := filepath.Join(cacheDir, hub.RepoFolderName(repoID, hub.ModelRepoType))
	snap := filepath.Join(storage, "snapshots", "0123abcd")
	if err := os.MkdirAll(filepath.Join(snap, "scheduler"), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(snap, filepath.FromSlash(SchedulerConfigPath)), []byte(testSchedulerConfig), 0o644); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Join(storage, "refs"), 0o755); err != nil {
		return "", err
	}
	return snap, os.WriteFile(filepath.Join(storage, "refs", "main"), []byte("0123abcd"), 0o644)
}

// provisionedCache returns a cache directory holding a completed run.
func provisionedCache(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "diffusers-cache")
	p := provision.New(dir, snapshotFetcher{}, zerolog.Nop())
	if _, err := p.Provision(context.Background(), provision.DefaultModelURL); err != nil {
		t.Fatalf("provision: %v", err)
	}
	return dir
}

// fakeBackend renders small images from the generator stream. Pixel (0,0)
// carries the batch index in its red channel.
type fakeBackend struct {
	mu       sync.Mutex
	devices  []string
	loads    []pipeline.LoadOptions
	calls    []pipeline.Call
	released int
	// gen, when set, replaces the default renderer.
	gen func(ctx context.Context, call pipeline.Call) (pipeline.Output, error)
}

func (f *fakeBackend) Devices(ctx context.Context) ([]string, error) {
	if f.devices == nil {
		return []string{"cpu", "cuda"}, nil
	}
	return f.devices, nil
}

func (f *fakeBackend) Load(ctx context.Context, opts pipeline.LoadOptions) (*pipeline.Weights, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, opts)
	return pipeline.NewWeights("w-1", opts.ModelDir, func() error {
		f.mu.Lock()
		f.released++
		f.mu.Unlock()
		return nil
	}), nil
}

func (f *fakeBackend) Generate(ctx context.Context, call pipeline.Call) (pipeline.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	gen := f.gen
	f.mu.Unlock()
	if gen != nil {
		return gen(ctx, call)
	}
	return render(call), nil
}

func (f *fakeBackend) callList() []pipeline.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Call(nil), f.calls...)
}

func render(call pipeline.Call) pipeline.Output {
	var out pipeline.Output
	for i := 0; i < call.NumImages; i++ {
		img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
		for p := 0; p < len(img.Pix); p += 4 {
			v := call.Generator.Uint64()
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = byte(v), byte(v>>8), byte(v>>16), 0xff
		}
		img.SetNRGBA(0, 0, color.NRGBA{R: uint8(i), A: 0xff})
		out.Images = append(out.Images, img)
	}
	return out
}

// indexClassifier flags the batch indices it was given. err is returned for
// the indices in errAt, or for every image when errAt is nil.
type indexClassifier struct {
	unsafe map[int]bool
	err    error
	errAt  map[int]bool
}

func (c indexClassifier) Classify(ctx context.Context, img image.Image) (bool, error) {
	r, _, _, _ := img.At(0, 0).RGBA()
	idx := int(r >> 8)
	if c.err != nil && (c.errAt == nil || c.errAt[idx]) {
		return false, c.err
	}
	return c.unsafe[idx], nil
}

// newReadyEngine builds and sets up an engine over a provisioned cache.
func newReadyEngine(t *testing.T, cfg Config) (*Engine, *fakeBackend) {
	t.Helper()
	fb, _ := cfg.Backend.(*fakeBackend)
	if fb == nil {
		fb = &fakeBackend{}
		cfg.Backend = fb
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = provisionedCache(t)
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = t.TempDir()
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = time.Second
	}
	e := New(cfg)
	if err := e.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e, fb
}

func strPtr(s string) *string { return &s }
func i64Ptr(v int64) *int64 { return &v }

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}
