package provision

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// RegistryHost is the only model registry accepted.
	RegistryHost = "huggingface.co"
	// DefaultModelURL is provisioned when no locator is given.
	DefaultModelURL = "https://huggingface.co/stabilityai/stable-diffusion-2-1"
	// SafetyModelID is the safety classifier provisioned next to every model.
	SafetyModelID = "CompVis/stable-diffusion-safety-checker"
	// DefaultCacheDir is relative to the working directory.
	DefaultCacheDir = "diffusers-cache"
)

// ParseModelURL extracts "namespace/model" from a registry URL.
func ParseModelURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidModelURL, err)
	}
	if u.Host != RegistryHost {
		return "", fmt.Errorf("%w: got host %q", ErrUnsupportedHost, u.Host)
	}
	if u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidModelURL, u.Scheme)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] == ".." || parts[1] == ".." {
		return "", fmt.Errorf("%w: path %q", ErrInvalidModelURL, u.Path)
	}
	return parts[0] + "/" + parts[1], nil
}
