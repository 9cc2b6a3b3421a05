package hub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
)

// StatusError is an unexpected HTTP status from the registry.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Status)
}

func permanent(err error) error { return backoff.Permanent(err) }

// checkStatus turns non-2xx responses into errors; client errors other than
// 408/429 are not retried.
func checkStatus(u string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err := &StatusError{URL: u, Status: resp.StatusCode}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return permanent(err)
	}
	return err
}

func (c *Client) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = c.MaxElapsed
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = defaultMaxElapsed
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// resolveURL builds the download URL for one file at a pinned commit.
func (c *Client) resolveURL(repoID, sha, name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s", strings.TrimRight(c.Endpoint, "/"), repoID, sha, strings.Join(parts, "/"))
}

// downloadFile streams one file into blobs/<sha256> through a temporary
// .incomplete file and links it from the snapshot tree.
func (c *Client) downloadFile(ctx context.Context, repoID, sha, name, storage string) error {
	blobs := filepath.Join(storage, "blobs")
	if err := os.MkdirAll(blobs, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(blobs, "*.incomplete")
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	u := c.resolveURL(repoID, sha, name)
	var digest string
	err = c.retry(ctx, func() error {
		if err := tmp.Truncate(0); err != nil {
			return permanent(err)
		}
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return permanent(err)
		}
		c.setHeaders(req)
		resp, err := c.httpClient().Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := checkStatus(u, resp); err != nil {
			return err
		}
		bar := c.fileBar(name, resp.ContentLength)
		var body io.Reader = resp.Body
		if bar != nil {
			body = bar.ProxyReader(resp.Body)
		}
		h := sha256.New()
		n, err := io.Copy(io.MultiWriter(tmp, h), body)
		if err == nil && resp.ContentLength >= 0 && n != resp.ContentLength {
			err = fmt.Errorf("short read: got %d of %d bytes", n, resp.ContentLength)
		}
		if bar != nil {
			if err != nil {
				bar.Abort(true)
			} else {
				bar.SetTotal(-1, true)
			}
		}
		if err != nil {
			return err
		}
		digest = hex.EncodeToString(h.Sum(nil))
		return nil
	})
	if err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	blob := filepath.Join(blobs, digest)
	if err := os.Rename(tmp.Name(), blob); err != nil {
		return err
	}
	committed = true
	pointer := filepath.Join(storage, "snapshots", sha, filepath.FromSlash(name))
	if err := createSymlink(blob, pointer); err != nil {
		return err
	}
	c.Logger.Debug().Str("file", name).Str("blob", digest).Msg("downloaded")
	return nil
}

func (c *Client) fileBar(name string, size int64) *mpb.Bar {
	if c.Progress == nil {
		return nil
	}
	if size < 0 {
		size = 0
	}
	return c.Progress.AddBar(size,
		mpb.BarRemoveOnComplete(),
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: 50, C: decor.DidentRight}),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("%.2f / %.2f", decor.WCSyncWidth),
			decor.Name(" | ", decor.WCSyncSpace),
			decor.AverageSpeed(decor.UnitKiB, "%.2f", decor.WCSyncSpace),
		),
	)
}
