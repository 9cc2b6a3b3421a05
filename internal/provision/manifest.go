package provision

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"diffusiond/internal/hub"
)

// ManifestName marks a fully provisioned cache. It is written last.
const ManifestName = ".complete"

// Manifest records what a provisioning run placed in the cache. Snapshot
// paths are relative to the cache directory.
type Manifest struct {
	ModelID        string    `json:"model_id"`
	ModelSnapshot  string    `json:"model_snapshot"`
	SafetyModelID  string    `json:"safety_model_id"`
	SafetySnapshot string    `json:"safety_snapshot"`
	CompletedAt    time.Time `json:"completed_at"`
}

// ModelDir returns the absolute model snapshot directory under cacheDir.
func (m Manifest) ModelDir(cacheDir string) string {
	return filepath.Join(cacheDir, filepath.FromSlash(m.ModelSnapshot))
}

// SafetyDir returns the absolute safety classifier snapshot directory.
func (m Manifest) SafetyDir(cacheDir string) string {
	return filepath.Join(cacheDir, filepath.FromSlash(m.SafetySnapshot))
}

func writeManifest(cacheDir string, m Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(cacheDir, ManifestName+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(cacheDir, ManifestName))
}

// Ready reports whether cacheDir holds a complete provisioning run and
// returns its manifest. Every failure wraps ErrCacheIncomplete.
func Ready(cacheDir string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(filepath.Join(cacheDir, ManifestName))
	if err != nil {
		return m, fmt.Errorf("%w: %s: %v", ErrCacheIncomplete, cacheDir, err)
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("%w: corrupt manifest: %v", ErrCacheIncomplete, err)
	}
	if m.ModelID == "" || m.SafetyModelID == "" {
		return m, fmt.Errorf("%w: manifest missing model ids", ErrCacheIncomplete)
	}
	for _, id := range []string{m.ModelID, m.SafetyModelID} {
		if _, err := hub.LocalSnapshot(cacheDir, id); err != nil {
			return m, fmt.Errorf("%w: %s: %v", ErrCacheIncomplete, id, err)
		}
	}
	return m, nil
}
