// Package hub downloads model repositories from a Hugging Face compatible
// registry into a local cache laid out the way the Python tooling expects:
//
//	<cache>/models--<namespace>--<name>/blobs/<sha256>
//	<cache>/models--<namespace>--<name>/snapshots/<commit>/<file> -> ../../blobs/<sha256>
//	<cache>/models--<namespace>--<name>/refs/main
package hub

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/vbauerster/mpb/v7"
)

const (
	ModelRepoType   = "model"
	DefaultRevision = "main"
	DefaultEndpoint = "https://huggingface.co"

	defaultConcurrency = 4
	defaultMaxElapsed  = 5 * time.Minute
)

// DefaultIgnorePatterns skips weight formats the diffusion runtime never loads.
var DefaultIgnorePatterns = []string{
	"*.msgpack",
	"*.h5",
	"*.ckpt",
	"*.onnx",
	"*.onnx_data",
	"*.ot",
	"*.fp16.*",
	"*.md",
	"*.png",
	"*.jpg",
	".gitattributes",
}

// Client talks to the registry. The zero value is not usable; use NewClient.
type Client struct {
	Endpoint  string
	Token     string
	UserAgent string
	HTTP      *http.Client
	// Progress renders per-file bars when set.
	Progress *mpb.Progress
	// Concurrency bounds parallel file downloads.
	Concurrency    int
	AllowPatterns  []string
	IgnorePatterns []string
	// MaxElapsed bounds the retry budget of a single request.
	MaxElapsed time.Duration
	Logger     zerolog.Logger
}

// NewClient builds a client from the environment (HF_ENDPOINT, HF_TOKEN).
func NewClient(logger zerolog.Logger) *Client {
	endpoint := os.Getenv("HF_ENDPOINT")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		Endpoint:       endpoint,
		Token:          GetToken(),
		UserAgent:      "diffusiond/0.1",
		HTTP:           &http.Client{Timeout: 0},
		Concurrency:    defaultConcurrency,
		IgnorePatterns: append([]string(nil), DefaultIgnorePatterns...),
		MaxElapsed:     defaultMaxElapsed,
		Logger:         logger,
	}
}

// WithToken sets the bearer token and returns the client.
func (c *Client) WithToken(token string) *Client {
	c.Token = token
	return c
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) setHeaders(req *http.Request) {
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

// IsOfflineMode reports whether HF_HUB_OFFLINE forbids network access.
func IsOfflineMode() bool {
	return os.Getenv("HF_HUB_OFFLINE") == "1"
}
