// Package provision populates the local weight cache the engine loads from.
// A run validates the model locator, wipes and recreates the cache, fetches
// the safety classifier and the model, and only then writes the manifest
// that marks the cache ready.
package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// Fetcher downloads one repository snapshot into cacheDir and returns the
// snapshot directory. hub.Client satisfies it.
type Fetcher interface {
	Snapshot(ctx context.Context, repoID, cacheDir string) (string, error)
}

// Provisioner owns one cache directory.
type Provisioner struct {
	CacheDir      string
	SafetyModelID string
	Fetcher       Fetcher
	Logger        zerolog.Logger
	// LockTimeout bounds the wait for the cache lock.
	LockTimeout time.Duration
	now         func() time.Time
}

func New(cacheDir string, f Fetcher, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		CacheDir:      cacheDir,
		SafetyModelID: SafetyModelID,
		Fetcher:       f,
		Logger:        logger,
		LockTimeout:   30 * time.Second,
		now:           time.Now,
	}
}

// lockPath sits beside the cache so wiping the cache keeps the lock file.
func lockPath(cacheDir string) string {
	return filepath.Clean(cacheDir) + ".lock"
}

// Provision fetches the model named by modelURL. The locator is validated
// before the cache is touched; any download failure aborts the run and
// leaves the cache without a manifest.
func (p *Provisioner) Provision(ctx context.Context, modelURL string) (Manifest, error) {
	modelID, err := ParseModelURL(modelURL)
	if err != nil {
		p.Logger.Error().Err(err).Str("url", modelURL).Msg("rejecting model url")
		return Manifest{}, err
	}
	p.Logger.Info().Str("url", modelURL).Str("model", modelID).Msg("starting model download")

	unlock, err := lockCache(ctx, p.CacheDir, false, p.LockTimeout)
	if err != nil {
		return Manifest{}, err
	}
	defer unlock()

	if _, err := os.Stat(p.CacheDir); err == nil {
		p.Logger.Info().Str("dir", p.CacheDir).Msg("removing existing cache directory")
		if err := os.RemoveAll(p.CacheDir); err != nil {
			return Manifest{}, fmt.Errorf("remove cache: %w", err)
		}
	}
	if err := os.MkdirAll(p.CacheDir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create cache: %w", err)
	}
	p.Logger.Info().Str("dir", p.CacheDir).Msg("created cache directory")

	safetyID := p.SafetyModelID
	if safetyID == "" {
		safetyID = SafetyModelID
	}
	p.Logger.Info().Str("model", safetyID).Msg("downloading safety checker")
	safetySnap, err := p.Fetcher.Snapshot(ctx, safetyID, p.CacheDir)
	if err != nil {
		p.Logger.Error().Err(err).Str("model", safetyID).Msg("safety checker download failed")
		return Manifest{}, fmt.Errorf("download safety checker %s: %w", safetyID, err)
	}
	p.Logger.Info().Str("model", modelID).Msg("downloading main model")
	modelSnap, err := p.Fetcher.Snapshot(ctx, modelID, p.CacheDir)
	if err != nil {
		p.Logger.Error().Err(err).Str("model", modelID).Msg("model download failed")
		return Manifest{}, fmt.Errorf("download model %s: %w", modelID, err)
	}

	m := Manifest{
		ModelID:        modelID,
		ModelSnapshot:  p.relative(modelSnap),
		SafetyModelID:  safetyID,
		SafetySnapshot: p.relative(safetySnap),
		CompletedAt:    p.now().UTC(),
	}
	if err := writeManifest(p.CacheDir, m); err != nil {
		return Manifest{}, fmt.Errorf("write manifest: %w", err)
	}
	p.Logger.Info().Str("model", modelID).Str("snapshot", modelSnap).Msg("model downloaded")
	return m, nil
}

func (p *Provisioner) relative(dir string) string {
	if rel, err := filepath.Rel(p.CacheDir, dir); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(dir)
}

// ReadLock takes a shared lock on cacheDir so a concurrent provisioning run
// cannot wipe it while the caller loads weights.
func ReadLock(ctx context.Context, cacheDir string, timeout time.Duration) (func(), error) {
	return lockCache(ctx, cacheDir, true, timeout)
}

func lockCache(ctx context.Context, cacheDir string, shared bool, timeout time.Duration) (func(), error) {
	path := lockPath(cacheDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(path)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var (
		ok  bool
		err error
	)
	if shared {
		ok, err = fl.TryRLockContext(lctx, 100*time.Millisecond)
	} else {
		ok, err = fl.TryLockContext(lctx, 100*time.Millisecond)
	}
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: %s", ErrCacheBusy, path)
	}
	return func() { _ = fl.Unlock() }, nil
}
