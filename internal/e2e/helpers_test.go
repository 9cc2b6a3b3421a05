package e2e

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"diffusiond/internal/engine"
	"diffusiond/internal/httpapi"
	"diffusiond/internal/hub"
	"diffusiond/internal/pipeline/worker"
	"diffusiond/internal/provision"
)

const commit = "a1b2c3d4e5f60718293a4b5c6d7e8f9012345678"

// fakeRegistry serves the model API and file downloads for several repositories.
type fakeRegistry struct {
	repos map[string]map[string]string
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for repo, files := range f.repos {
		if r.URL.Path == "/api/models/"+repo+"/revision/main" {
			info := hub.ModelInfo{Sha: commit}
			for name := range files {
				info.Siblings = append(info.Siblings, hub.ModelSibling{RFileName: name})
			}
			_ = json.NewEncoder(w).Encode(info)
			return
		}
		prefix := "/" + repo + "/resolve/" + commit + "/"
		if body, ok := files[strings.TrimPrefix(r.URL.Path, prefix)]; ok && strings.HasPrefix(r.URL.Path, prefix) {
			_, _ = w.Write([]byte(body))
			return
		}
	}
	http.NotFound(w, r)
}

func registryRepos() map[string]map[string]string {
	model := map[string]string{}
	model["model_index.json"] = `{"_class_name":"StableDiffusionPipeline"}`
	model["scheduler/scheduler_config.json"] = `{"_class_name":"EulerDiscreteScheduler","num_train_timesteps":1000,"prediction_type":"v_prediction"}`
	model["unet/diffusion_pytorch_model.safetensors"] = "unet"
	model["vae/diffusion_pytorch_model.safetensors"] = "vae"
	safety := map[string]string{}
	safety["config.json"] = `{"architectures":["StableDiffusionSafetyChecker"]}`
	safety["pytorch_model.bin"] = "safety"
	return map[string]map[string]string{
		"stabilityai/stable-diffusion-2-1":        model,
		"CompVis/stable-diffusion-safety-checker": safety,
	}
}

// fakeWorker mimics the GPU worker. Images encode the seed in red and the
// batch index in green; images with green in unsafe are flagged. When gate is
// set, txt2img generations block until it is closed.
type fakeWorker struct {
	mu       sync.Mutex
	unsafe   map[int]bool
	gate     chan struct{}
	requests []map[string]any
}

func (f *fakeWorker) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"devices": []string{"cpu", "cuda"}})
	})
	mux.HandleFunc("/load", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"weights_id": "w-e2e"})
	})
	mux.HandleFunc("/release", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()
		if f.gate != nil && req["mode"] == "txt2img" {
			select {
			case <-f.gate:
			case <-r.Context().Done():
				return
			}
		}
		seed := uint8(req["seed"].(float64))
		n := int(req["num_images"].(float64))
		var out []string
		for i := 0; i < n; i++ {
			img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
			for y := 0; y < 4; y++ {
				for x := 0; x < 4; x++ {
					img.SetNRGBA(x, y, color.NRGBA{R: seed, G: uint8(i), B: uint8(x + y), A: 0xff})
				}
			}
			s, _ := worker.EncodePNG(img)
			out = append(out, s)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"images": out})
	})
	mux.HandleFunc("/classify", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		img, err := worker.DecodePNG(req["image"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, g, _, _ := img.At(0, 0).RGBA()
		f.mu.Lock()
		flagged := f.unsafe[int(g>>8)]
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]bool{"nsfw": flagged})
	})
	return mux
}

func initImage(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	s, err := worker.EncodePNG(img)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return s
}

func (f *fakeWorker) generateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type stack struct {
	srv       *httptest.Server
	engine    *engine.Engine
	worker    *fakeWorker
	outputDir string
}

// newStack provisions a cache from the fake registry, loads the engine
// through the worker client and serves it over HTTP.
func newStack(t *testing.T, fw *fakeWorker, cfg engine.Config) *stack {
	t.Helper()
	reg := httptest.NewServer(&fakeRegistry{repos: registryRepos()})
	t.Cleanup(reg.Close)
	hc := hub.NewClient(zerolog.Nop())
	hc.Endpoint = reg.URL
	hc.Token = ""
	hc.MaxElapsed = 2 * time.Second

	cacheDir := filepath.Join(t.TempDir(), provision.DefaultCacheDir)
	if _, err := provision.New(cacheDir, hc, zerolog.Nop()).Provision(context.Background(), provision.DefaultModelURL); err != nil {
		t.Fatalf("provision: %v", err)
	}

	ws := httptest.NewServer(fw.handler())
	t.Cleanup(ws.Close)
	wc := worker.New(ws.URL, "", 5*time.Second, time.Second)

	cfg.CacheDir = cacheDir
	cfg.OutputDir = t.TempDir()
	cfg.Backend = wc
	cfg.Classifier = wc
	cfg.Logger = zerolog.Nop()
	eng := engine.New(cfg)
	if err := eng.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(eng))
	t.Cleanup(func() {
		srv.Close()
		_ = eng.Close()
	})
	return &stack{srv: srv, engine: eng, worker: fw, outputDir: cfg.OutputDir}
}
