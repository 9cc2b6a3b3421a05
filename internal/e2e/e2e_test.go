package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"diffusiond/internal/engine"
	"diffusiond/pkg/types"
)

func postPrediction(t *testing.T, st *stack, input string) (*http.Response, []byte) {
	t.Helper()
	body := `{"input":` + input + `}`
	resp, err := http.Post(st.srv.URL+"/predictions", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func decodePrediction(t *testing.T, b []byte) types.PredictionResponse {
	t.Helper()
	var pr types.PredictionResponse
	if err := json.Unmarshal(b, &pr); err != nil {
		t.Fatalf("decode %q: %v", b, err)
	}
	return pr
}

func TestE2EProvisionThenPredict(t *testing.T) {
	st := newStack(t, &fakeWorker{}, engine.Config{})

	resp, b := postPrediction(t, st, `{"prompt":"a lighthouse at dusk","width":512,"height":512,"num_outputs":2,"seed":7}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, b)
	}
	pr := decodePrediction(t, b)
	if pr.Seed != 7 || len(pr.Output) != 2 {
		t.Fatalf("unexpected response: %+v", pr)
	}
	for _, p := range pr.Output {
		if filepath.Dir(p) != st.outputDir {
			t.Fatalf("output %s outside %s", p, st.outputDir)
		}
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("output missing: %v", err)
		}
	}

	st.worker.mu.Lock()
	req := st.worker.requests[0]
	st.worker.mu.Unlock()
	if req["mode"] != "txt2img" || req["device"] != "cuda" {
		t.Fatalf("worker request: mode=%v device=%v", req["mode"], req["device"])
	}
	sched := req["scheduler"].(map[string]any)
	if sched["class"] != "EulerDiscreteScheduler" {
		t.Fatalf("scheduler class %v", sched["class"])
	}
	cfg := sched["config"].(map[string]any)
	if cfg["prediction_type"] != "v_prediction" {
		t.Fatalf("base scheduler config not carried: %v", cfg)
	}
}

func TestE2ESeededRequestsAreReproducible(t *testing.T) {
	st := newStack(t, &fakeWorker{}, engine.Config{})
	input := `{"prompt":"fox","width":256,"height":256,"seed":42}`

	_, b1 := postPrediction(t, st, input)
	_, b2 := postPrediction(t, st, input)
	p1, p2 := decodePrediction(t, b1), decodePrediction(t, b2)
	if p1.Output[0] == p2.Output[0] {
		t.Fatalf("expected distinct output paths")
	}
	a, _ := os.ReadFile(p1.Output[0])
	c, _ := os.ReadFile(p2.Output[0])
	if len(a) == 0 || !bytes.Equal(a, c) {
		t.Fatalf("same seed produced different images")
	}
}

func TestE2ERejectsOversizedRequest(t *testing.T) {
	st := newStack(t, &fakeWorker{}, engine.Config{})

	resp, b := postPrediction(t, st, `{"prompt":"x","width":1024,"height":1024}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", resp.StatusCode, b)
	}
	if !strings.Contains(string(b), "Maximum size is 1024x768 or 768x1024 pixels") {
		t.Fatalf("body: %s", b)
	}
	if n := st.worker.generateCount(); n != 0 {
		t.Fatalf("worker called %d times", n)
	}
}

func TestE2EUnknownSchedulerIsBadRequest(t *testing.T) {
	st := newStack(t, &fakeWorker{}, engine.Config{})

	resp, b := postPrediction(t, st, `{"prompt":"x","width":64,"height":64,"scheduler":"LMS"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", resp.StatusCode, b)
	}
}

func TestE2EFilteredOutputs(t *testing.T) {
	st := newStack(t, &fakeWorker{unsafe: map[int]bool{1: true}}, engine.Config{})

	resp, b := postPrediction(t, st, `{"prompt":"x","width":64,"height":64,"num_outputs":3,"seed":1}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, b)
	}
	pr := decodePrediction(t, b)
	if len(pr.Output) != 2 {
		t.Fatalf("outputs: %v", pr.Output)
	}
	if !strings.HasSuffix(pr.Output[0], "-0.png") || !strings.HasSuffix(pr.Output[1], "-2.png") {
		t.Fatalf("order not preserved: %v", pr.Output)
	}
	if s := st.engine.Status(); s.FilteredTotal != 1 {
		t.Fatalf("filtered total %d", s.FilteredTotal)
	}
}

func TestE2EAllOutputsFiltered(t *testing.T) {
	st := newStack(t, &fakeWorker{unsafe: map[int]bool{0: true, 1: true}}, engine.Config{})

	resp, b := postPrediction(t, st, `{"prompt":"x","width":64,"height":64,"num_outputs":2}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", resp.StatusCode, b)
	}
	if !strings.Contains(string(b), "NSFW content detected") {
		t.Fatalf("body: %s", b)
	}
	entries, _ := os.ReadDir(st.outputDir)
	if len(entries) != 0 {
		t.Fatalf("expected no files, got %d", len(entries))
	}
}

func TestE2EBackpressure(t *testing.T) {
	fw := &fakeWorker{gate: make(chan struct{})}
	st := newStack(t, fw, engine.Config{MaxQueueDepth: 1, MaxWait: 100 * time.Millisecond})
	released := false
	release := func() {
		if !released {
			close(fw.gate)
			released = true
		}
	}
	defer release()

	done := make(chan int, 1)
	go func() {
		body := `{"input":{"prompt":"slow","width":64,"height":64}}`
		resp, err := http.Post(st.srv.URL+"/predictions", "application/json", strings.NewReader(body))
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()
	deadline := time.Now().Add(2 * time.Second)
	for fw.generateCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first request never reached the worker")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, b := postPrediction(t, st, `{"prompt":"queued","width":64,"height":64}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status %d: %s", resp.StatusCode, b)
	}

	// img2img admits independently of the busy txt2img variant.
	img := `"data:image/png;base64,` + initImage(t) + `"`
	resp, b = postPrediction(t, st, `{"prompt":"edit","image":`+img+`,"strength":0.5}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("img2img status %d: %s", resp.StatusCode, b)
	}

	release()
	if code := <-done; code != http.StatusOK {
		t.Fatalf("first request status %d", code)
	}
}

func TestE2EStatusAndReadiness(t *testing.T) {
	st := newStack(t, &fakeWorker{}, engine.Config{})

	resp, err := http.Get(st.srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status %d", resp.StatusCode)
	}

	resp, err = http.Get(st.srv.URL + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	var s types.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if s.State != "ready" || s.Device != "cuda" || s.ModelID != "stabilityai/stable-diffusion-2-1" {
		t.Fatalf("status: %+v", s)
	}
	if len(s.Variants) != 2 || s.Variants[0].Sampler != "K_EULER" {
		t.Fatalf("variants: %+v", s.Variants)
	}
}
