package hub

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// GetToken returns HF_TOKEN or the token stored by the registry CLI.
func GetToken() string {
	if token := os.Getenv("HF_TOKEN"); token != "" {
		return token
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	b, err := os.ReadFile(filepath.Join(home, ".cache", "huggingface", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// RepoFolderName converts "namespace/name" to "models--namespace--name".
func RepoFolderName(repoID, repoType string) string {
	parts := append([]string{repoType + "s"}, strings.Split(repoID, "/")...)
	return strings.Join(parts, "--")
}

// checkRevision rejects commit ids that are not a single path element.
func checkRevision(sha string) error {
	if sha == "" || sha == "." || sha == ".." || strings.ContainsAny(sha, `/\`) {
		return fmt.Errorf("invalid revision %q", sha)
	}
	return nil
}

// checkRepoFile rejects registry file names that would resolve outside the
// snapshot directory.
func checkRepoFile(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return fmt.Errorf("invalid file name %q", name)
	}
	for _, el := range strings.Split(name, "/") {
		if el == ".." {
			return fmt.Errorf("invalid file name %q", name)
		}
	}
	return nil
}

// createSymlink links dst to src with a relative target, copying the file
// when the filesystem refuses symlinks.
func createSymlink(src, dst string) error {
	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return fmt.Errorf("abs source: %w", err)
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return fmt.Errorf("abs destination: %w", err)
	}
	rel, err := filepath.Rel(filepath.Dir(dstAbs), srcAbs)
	if err != nil {
		return fmt.Errorf("relative path: %w", err)
	}
	if _, err := os.Lstat(dstAbs); err == nil {
		_ = os.Remove(dstAbs)
	}
	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return fmt.Errorf("create parent: %w", err)
	}
	if err := os.Symlink(rel, dstAbs); err == nil {
		return nil
	}
	in, err := os.Open(srcAbs)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dstAbs)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy: %w", err)
	}
	return out.Close()
}
