package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"diffusiond/internal/pipeline"
	"diffusiond/internal/provision"
	"diffusiond/internal/sampler"
)

// State represents the engine lifecycle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
)

// SchedulerConfigPath is where a model snapshot keeps its scheduler settings.
const SchedulerConfigPath = "scheduler/scheduler_config.json"

type Engine struct {
	cfg Config
	log zerolog.Logger

	setupMu sync.Mutex

	mu       sync.RWMutex
	state    State
	manifest provision.Manifest
	device   string
	txt2img  *slot
	img2img  *slot
	lastErr  string

	startTime   time.Time
	predictions atomic.Uint64
	filtered    atomic.Uint64
}

// Setup loads the pipeline from the provisioned cache once. It never
// reaches the network: a cache without a completed provisioning run fails
// with provision.ErrCacheIncomplete. Status and Ready stay responsive while
// the weights load.
func (e *Engine) Setup(ctx context.Context) error {
	e.setupMu.Lock()
	defer e.setupMu.Unlock()
	if e.Ready() {
		return errors.New("engine: already set up")
	}
	if e.cfg.Backend == nil {
		return errors.New("engine: no backend configured")
	}
	e.cfg.Publisher.Publish(Event{Name: EventSetupStart, Fields: map[string]any{"cache_dir": e.cfg.CacheDir}})
	l, err := e.load(ctx)
	if err != nil {
		e.setLastError(err)
		e.log.Error().Err(err).Str("cache_dir", e.cfg.CacheDir).Msg("setup failed")
		return err
	}

	e.mu.Lock()
	e.manifest = l.manifest
	e.device = l.device
	e.txt2img = l.txt2img
	e.img2img = l.img2img
	e.lastErr = ""
	e.state = StateReady
	e.mu.Unlock()

	e.cfg.Publisher.Publish(Event{Name: EventSetupDone, Fields: map[string]any{
		"model":  l.manifest.ModelID,
		"device": l.device,
	}})
	e.log.Info().Str("model", l.manifest.ModelID).Str("device", l.device).Msg("pipeline ready")
	return nil
}

type loaded struct {
	manifest provision.Manifest
	device   string
	txt2img  *slot
	img2img  *slot
}

func (e *Engine) load(ctx context.Context) (loaded, error) {
	var l loaded
	unlock, err := provision.ReadLock(ctx, e.cfg.CacheDir, e.cfg.LockTimeout)
	if err != nil {
		return l, err
	}
	defer unlock()

	m, err := provision.Ready(e.cfg.CacheDir)
	if err != nil {
		return l, err
	}
	if e.cfg.ModelID != "" && e.cfg.ModelID != m.ModelID {
		return l, fmt.Errorf("engine: cache holds %s, configured model is %s", m.ModelID, e.cfg.ModelID)
	}
	modelDir := m.ModelDir(e.cfg.CacheDir)
	base, err := sampler.LoadConfig(filepath.Join(modelDir, filepath.FromSlash(SchedulerConfigPath)))
	if err != nil {
		return l, fmt.Errorf("engine: scheduler config: %w", err)
	}

	devices, err := e.cfg.Backend.Devices(ctx)
	if err != nil {
		return l, fmt.Errorf("engine: list devices: %w", err)
	}
	device := pipeline.SelectDevice(devices)
	e.log.Info().Strs("available", devices).Str("device", device).Msg("selected device")

	w, err := e.cfg.Backend.Load(ctx, pipeline.LoadOptions{
		ModelDir:       modelDir,
		SafetyModelDir: m.SafetyDir(e.cfg.CacheDir),
		Device:         device,
		LocalFilesOnly: true,
		SafetyChecker:  false,
	})
	if err != nil {
		return l, fmt.Errorf("engine: load pipeline: %w", err)
	}
	initial := sampler.FromConfig(base)
	l.txt2img = newSlot(pipeline.NewVariant(pipeline.TextToImage, w, initial), e.cfg.MaxQueueDepth)
	l.img2img = newSlot(pipeline.NewVariant(pipeline.ImageToImage, w.Retain(), initial), e.cfg.MaxQueueDepth)
	l.manifest = m
	l.device = device
	if e.cfg.Classifier == nil {
		e.log.Warn().Msg("no safety classifier configured; outputs are not filtered")
	}
	return l, nil
}

// Ready reports whether Setup has completed.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == StateReady
}

// Close releases both variants, waiting for a running Setup to return.
// In-flight predictions must have finished.
func (e *Engine) Close() error {
	e.setupMu.Lock()
	defer e.setupMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateReady {
		return nil
	}
	e.state = StateUninitialized
	return errors.Join(e.txt2img.variant.Close(), e.img2img.variant.Close())
}

// slotFor returns the variant slot serving mode. Panics when not ready.
func (e *Engine) slotFor(mode pipeline.Mode) *slot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != StateReady {
		panic("engine: Predict called before Setup")
	}
	if mode == pipeline.ImageToImage {
		return e.img2img
	}
	return e.txt2img
}

func (e *Engine) setLastError(err error) {
	e.mu.Lock()
	e.lastErr = err.Error()
	e.mu.Unlock()
}
