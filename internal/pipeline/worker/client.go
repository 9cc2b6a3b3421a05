// Package worker implements pipeline.Backend and pipeline.Classifier by
// talking to a diffusion runtime process over HTTP/JSON. Images cross the
// wire as base64-encoded PNG.
package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"diffusiond/internal/pipeline"
	"diffusiond/internal/sampler"
)

// StatusError is returned when the worker answers with a non-2xx status.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("worker %s: status %d: %s", e.Path, e.Status, e.Body)
}

// StatusCode maps worker failures to 502 for the HTTP layer.
func (e *StatusError) StatusCode() int { return http.StatusBadGateway }

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	reqTimeout time.Duration
	httpClient *http.Client
}

// New constructs a worker client. reqTimeout bounds each call via context;
// zero leaves deadlines to the caller.
func New(baseURL, apiKey string, reqTimeout, connectTimeout time.Duration) *Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		reqTimeout: reqTimeout,
		httpClient: &http.Client{Transport: tr},
	}
}

var (
	_ pipeline.Backend    = (*Client)(nil)
	_ pipeline.Classifier = (*Client)(nil)
)

type devicesResponse struct {
	Devices []string `json:"devices"`
}

func (c *Client) Devices(ctx context.Context) ([]string, error) {
	var out devicesResponse
	if err := c.do(ctx, http.MethodGet, "/devices", nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

type loadRequest struct {
	ModelDir       string `json:"model_dir"`
	SafetyModelDir string `json:"safety_model_dir,omitempty"`
	Device         string `json:"device"`
	LocalFilesOnly bool   `json:"local_files_only"`
	SafetyChecker  bool   `json:"safety_checker"`
}

type loadResponse struct {
	WeightsID string `json:"weights_id"`
}

func (c *Client) Load(ctx context.Context, opts pipeline.LoadOptions) (*pipeline.Weights, error) {
	var out loadResponse
	err := c.do(ctx, http.MethodPost, "/load", loadRequest{
		ModelDir:       opts.ModelDir,
		SafetyModelDir: opts.SafetyModelDir,
		Device:         opts.Device,
		LocalFilesOnly: opts.LocalFilesOnly,
		SafetyChecker:  opts.SafetyChecker,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.WeightsID == "" {
		return nil, errors.New("worker /load: empty weights_id")
	}
	id := out.WeightsID
	return pipeline.NewWeights(id, opts.ModelDir, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return c.do(ctx, http.MethodPost, "/release", map[string]string{"weights_id": id}, nil)
	}), nil
}

type schedulerPayload struct {
	Class  string         `json:"class"`
	Config sampler.Config `json:"config"`
}

type generateRequest struct {
	WeightsID      string           `json:"weights_id"`
	Mode           string           `json:"mode"`
	Scheduler      schedulerPayload `json:"scheduler"`
	Prompt         []string         `json:"prompt"`
	NegativePrompt []string         `json:"negative_prompt"`
	NumImages      int              `json:"num_images"`
	Width          int              `json:"width,omitempty"`
	Height         int              `json:"height,omitempty"`
	Image          string           `json:"image,omitempty"`
	Strength       *float64         `json:"strength,omitempty"`
	GuidanceScale  float64          `json:"guidance_scale"`
	Steps          int              `json:"num_inference_steps"`
	Seed           uint64           `json:"seed"`
	Device         string           `json:"device"`
}

type generateResponse struct {
	Images []string `json:"images"`
}

func (c *Client) Generate(ctx context.Context, call pipeline.Call) (pipeline.Output, error) {
	if call.Weights == nil || call.Generator == nil {
		return pipeline.Output{}, errors.New("worker generate: weights and generator are required")
	}
	req := generateRequest{
		WeightsID:      call.Weights.ID,
		Mode:           call.Mode.String(),
		Scheduler:      schedulerPayload{Class: call.Sampler.Class, Config: call.Sampler.Config},
		Prompt:         call.Prompt,
		NegativePrompt: call.NegativePrompt,
		NumImages:      call.NumImages,
		GuidanceScale:  call.GuidanceScale,
		Steps:          call.Steps,
		Seed:           call.Generator.Seed(),
		Device:         call.Generator.Device(),
	}
	switch call.Mode {
	case pipeline.ImageToImage:
		if call.InitImage == nil {
			return pipeline.Output{}, errors.New("worker generate: img2img without init image")
		}
		enc, err := EncodePNG(call.InitImage)
		if err != nil {
			return pipeline.Output{}, err
		}
		req.Image = enc
		strength := call.Strength
		req.Strength = &strength
	default:
		req.Width = call.Width
		req.Height = call.Height
	}
	var out generateResponse
	if err := c.do(ctx, http.MethodPost, "/generate", req, &out); err != nil {
		return pipeline.Output{}, err
	}
	imgs := make([]image.Image, 0, len(out.Images))
	for i, s := range out.Images {
		img, err := DecodePNG(s)
		if err != nil {
			return pipeline.Output{}, fmt.Errorf("worker generate: image %d: %w", i, err)
		}
		imgs = append(imgs, img)
	}
	return pipeline.Output{Images: imgs}, nil
}

type classifyResponse struct {
	NSFW bool `json:"nsfw"`
}

func (c *Client) Classify(ctx context.Context, img image.Image) (bool, error) {
	enc, err := EncodePNG(img)
	if err != nil {
		return false, err
	}
	var out classifyResponse
	if err := c.do(ctx, http.MethodPost, "/classify", map[string]string{"image": enc}, &out); err != nil {
		return false, err
	}
	return out.NSFW, nil
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.reqTimeout)
		defer cancel()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("worker %s: encode: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("worker %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("worker %s: decode: %w", path, err)
	}
	return nil
}

// EncodePNG returns img as base64 PNG.
func EncodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodePNG parses a base64 PNG.
func DecodePNG(s string) (image.Image, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return png.Decode(bytes.NewReader(b))
}
