package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
	"golang.org/x/sync/errgroup"
)

// ModelInfo is the subset of the registry's model API the client needs.
type ModelInfo struct {
	Sha      string         `json:"sha"`
	Siblings []ModelSibling `json:"siblings"`
}

type ModelSibling struct {
	RFileName string `json:"rfilename"`
}

// ErrOffline is returned when HF_HUB_OFFLINE forbids downloads.
var ErrOffline = errors.New("hub: downloads disabled by HF_HUB_OFFLINE=1")

// Snapshot downloads every wanted file of repoID at the main revision into
// cacheDir and returns the snapshot directory. refs/main is written only
// after all files landed, so LocalSnapshot never resolves a partial tree.
func (c *Client) Snapshot(ctx context.Context, repoID, cacheDir string) (string, error) {
	if IsOfflineMode() {
		return "", ErrOffline
	}
	info, err := c.ModelInfo(ctx, repoID)
	if err != nil {
		return "", fmt.Errorf("model info %s: %w", repoID, err)
	}
	if err := checkRevision(info.Sha); err != nil {
		return "", fmt.Errorf("model info %s: %w", repoID, err)
	}
	storage := filepath.Join(cacheDir, RepoFolderName(repoID, ModelRepoType))
	snapshot := filepath.Join(storage, "snapshots", info.Sha)

	files := make([]string, 0, len(info.Siblings))
	for _, s := range info.Siblings {
		if err := checkRepoFile(s.RFileName); err != nil {
			return "", fmt.Errorf("model info %s: %w", repoID, err)
		}
		files = append(files, s.RFileName)
	}
	files = PreferSafetensors(FilterFiles(files, c.AllowPatterns, c.IgnorePatterns))
	if len(files) == 0 {
		return "", fmt.Errorf("model %s: no files to download", repoID)
	}
	c.Logger.Info().Str("repo", repoID).Str("revision", info.Sha).Int("files", len(files)).Msg("snapshot download start")

	var total *mpb.Bar
	if c.Progress != nil {
		total = c.Progress.AddBar(int64(len(files)),
			mpb.BarRemoveOnComplete(),
			mpb.PrependDecorators(
				decor.Name(fmt.Sprintf("Fetching %d files for %s:", len(files), repoID), decor.WC{W: len(repoID) + 24}),
				decor.CountersNoUnit("%d/%d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(decor.NewPercentage("%d ", decor.WCSyncSpace)),
		)
	}

	conc := c.Concurrency
	if conc <= 0 {
		conc = defaultConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conc)
	for _, name := range files {
		name := name
		g.Go(func() error {
			if err := c.downloadFile(gctx, repoID, info.Sha, name, storage); err != nil {
				return fmt.Errorf("download %s/%s: %w", repoID, name, err)
			}
			if total != nil {
				total.Increment()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if total != nil {
			total.Abort(true)
		}
		return "", err
	}

	refPath := filepath.Join(storage, "refs", DefaultRevision)
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(refPath, []byte(info.Sha), 0o644); err != nil {
		return "", fmt.Errorf("write ref: %w", err)
	}
	c.Logger.Info().Str("repo", repoID).Str("snapshot", snapshot).Msg("snapshot download done")
	return snapshot, nil
}

// ModelInfo fetches the commit and file list of repoID at the main revision.
func (c *Client) ModelInfo(ctx context.Context, repoID string) (*ModelInfo, error) {
	url := fmt.Sprintf("%s/api/models/%s/revision/%s", strings.TrimRight(c.Endpoint, "/"), repoID, DefaultRevision)
	var info ModelInfo
	err := c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return permanent(err)
		}
		c.setHeaders(req)
		resp, err := c.httpClient().Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := checkStatus(url, resp); err != nil {
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return permanent(fmt.Errorf("parse model info: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if info.Sha == "" {
		return nil, errors.New("invalid API response: missing commit hash")
	}
	return &info, nil
}

// LocalSnapshot resolves the cached snapshot of repoID without touching the
// network.
func LocalSnapshot(cacheDir, repoID string) (string, error) {
	storage := filepath.Join(cacheDir, RepoFolderName(repoID, ModelRepoType))
	b, err := os.ReadFile(filepath.Join(storage, "refs", DefaultRevision))
	if err != nil {
		return "", fmt.Errorf("revision not found in cache: %w", err)
	}
	sha := strings.TrimSpace(string(b))
	if err := checkRevision(sha); err != nil {
		return "", fmt.Errorf("cached revision: %w", err)
	}
	snapshot := filepath.Join(storage, "snapshots", sha)
	st, err := os.Stat(snapshot)
	if err != nil {
		return "", fmt.Errorf("snapshot not found in cache: %w", err)
	}
	if !st.IsDir() {
		return "", fmt.Errorf("snapshot %s is not a directory", snapshot)
	}
	return snapshot, nil
}
