package engine

import (
	"context"
	"errors"
	"image"
	"os"
	"time"

	"github.com/google/uuid"

	"diffusiond/internal/pipeline"
	"diffusiond/internal/sampler"
)

// Request describes one prediction. Prompt and NegativePrompt are nil when
// absent; a non-empty Image selects image-to-image.
type Request struct {
	Prompt         *string
	NegativePrompt *string
	Width          int
	Height         int
	NumOutputs     int
	Steps          int
	GuidanceScale  float64
	Scheduler      string
	Seed           *int64
	Image          string
	Strength       float64
}

// DefaultRequest returns a Request carrying the documented input defaults.
func DefaultRequest() Request {
	return Request{
		Width:         768,
		Height:        768,
		NumOutputs:    1,
		Steps:         50,
		GuidanceScale: 7.5,
		Scheduler:     string(sampler.KEuler),
		Strength:      0.8,
	}
}

// Mode reports which pipeline variant serves r.
func (r Request) Mode() pipeline.Mode {
	if r.Image != "" {
		return pipeline.ImageToImage
	}
	return pipeline.TextToImage
}

// Result lists the persisted outputs of a prediction in batch order.
type Result struct {
	RequestID string
	Paths     []string
	Seed      int64
}

func (r Request) validate() error {
	if r.Width < 1 {
		return &InvalidRequestError{Field: "width", Reason: "must be positive"}
	}
	if r.Height < 1 {
		return &InvalidRequestError{Field: "height", Reason: "must be positive"}
	}
	// Compare by division: the product can wrap for huge dimensions.
	if r.Width > MaxPixels || r.Height > MaxPixels || r.Width > MaxPixels/r.Height {
		return &SizeLimitError{Width: r.Width, Height: r.Height}
	}
	if r.NumOutputs < 1 {
		return &InvalidRequestError{Field: "num_outputs", Reason: "must be at least 1"}
	}
	if r.Steps < 1 {
		return &InvalidRequestError{Field: "num_inference_steps", Reason: "must be at least 1"}
	}
	if r.Seed != nil && *r.Seed < 0 {
		return &InvalidRequestError{Field: "seed", Reason: "must not be negative"}
	}
	if r.Image != "" && (r.Strength < 0 || r.Strength > 1) {
		return &InvalidRequestError{Field: "strength", Reason: "must be between 0 and 1"}
	}
	return nil
}

// repeat broadcasts s to n entries, or returns nil when s is absent.
func repeat(s *string, n int) []string {
	if s == nil {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = *s
	}
	return out
}

// Predict validates req, generates on the matching variant, drops outputs
// flagged by the classifier and writes the rest as PNG files. It panics if
// the engine has not been Setup.
func (e *Engine) Predict(ctx context.Context, req Request) (res Result, err error) {
	mode := req.Mode()
	s := e.slotFor(mode)
	start := time.Now()
	res.RequestID = uuid.NewString()
	log := e.log.With().Str("request_id", res.RequestID).Str("mode", mode.String()).Logger()
	defer func() {
		predictionsTotal.WithLabelValues(mode.String(), outcome(err)).Inc()
		predictDuration.WithLabelValues(mode.String()).Observe(time.Since(start).Seconds())
		e.predictions.Add(1)
		if err != nil {
			e.setLastError(err)
			e.cfg.Publisher.Publish(Event{Name: EventPredictFailed, RequestID: res.RequestID, Fields: map[string]any{"error": err.Error()}})
			log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("prediction failed")
		}
	}()

	if err := req.validate(); err != nil {
		return res, err
	}
	name, err := sampler.Parse(req.Scheduler)
	if err != nil {
		return res, err
	}
	if req.Seed != nil {
		res.Seed = *req.Seed
	} else if res.Seed, err = e.cfg.Seeds.Seed(); err != nil {
		return res, err
	}
	log.Info().Int64("seed", res.Seed).Str("sampler", string(name)).Int("num_outputs", req.NumOutputs).Msg("using seed")

	var initImage image.Image
	if mode == pipeline.ImageToImage {
		if initImage, err = decodeInitImage(req.Image); err != nil {
			return res, err
		}
	}

	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()
	}
	e.cfg.Publisher.Publish(Event{Name: EventPredictStart, RequestID: res.RequestID, Fields: map[string]any{
		"mode": mode.String(),
		"seed": res.Seed,
	}})

	call := pipeline.Call{
		Mode:           mode,
		Weights:        s.variant.Weights(),
		Prompt:         repeat(req.Prompt, req.NumOutputs),
		NegativePrompt: repeat(req.NegativePrompt, req.NumOutputs),
		NumImages:      req.NumOutputs,
		Width:          req.Width,
		Height:         req.Height,
		InitImage:      initImage,
		Strength:       req.Strength,
		GuidanceScale:  req.GuidanceScale,
		Steps:          req.Steps,
		Generator:      pipeline.NewGenerator(e.device, uint64(res.Seed)),
	}
	out, err := e.generate(ctx, s, name, call)
	if err != nil {
		return res, err
	}

	// A failed request leaves no files behind.
	defer func() {
		if err != nil {
			for _, p := range res.Paths {
				_ = os.Remove(p)
			}
			res.Paths = nil
		}
	}()
	for i, img := range out.Images {
		if e.cfg.Classifier != nil {
			unsafe, cerr := e.cfg.Classifier.Classify(ctx, img)
			if cerr != nil {
				return res, cerr
			}
			if unsafe {
				e.filtered.Add(1)
				filteredImagesTotal.Inc()
				e.cfg.Publisher.Publish(Event{Name: EventNSFWFiltered, RequestID: res.RequestID, Fields: map[string]any{"index": i}})
				log.Info().Int("index", i).Msg("NSFW content detected in output, skipping")
				continue
			}
		}
		path := outputPath(e.cfg.OutputDir, res.RequestID, i)
		if serr := savePNG(path, img); serr != nil {
			return res, serr
		}
		res.Paths = append(res.Paths, path)
	}
	if len(res.Paths) == 0 {
		return res, &NoSafeOutputError{Generated: len(out.Images)}
	}
	e.cfg.Publisher.Publish(Event{Name: EventPredictDone, RequestID: res.RequestID, Fields: map[string]any{
		"outputs":  len(res.Paths),
		"filtered": len(out.Images) - len(res.Paths),
	}})
	log.Info().Int("outputs", len(res.Paths)).Dur("elapsed", time.Since(start)).Msg("prediction done")
	return res, nil
}

// generate holds the variant's in-flight slot while the sampler is attached
// and the backend runs, so concurrent requests never see each other's sampler.
func (e *Engine) generate(ctx context.Context, s *slot, name sampler.Name, call pipeline.Call) (pipeline.Output, error) {
	release, err := e.beginGeneration(ctx, s)
	if err != nil {
		return pipeline.Output{}, err
	}
	defer release()

	smp, err := sampler.Make(name, s.variant.Sampler().Config)
	if err != nil {
		return pipeline.Output{}, err
	}
	s.variant.SetSampler(smp)
	call.Sampler = smp

	out, err := e.cfg.Backend.Generate(ctx, call)
	if err != nil {
		return pipeline.Output{}, err
	}
	if len(out.Images) == 0 {
		return pipeline.Output{}, errors.New("engine: backend returned no images")
	}
	return out, nil
}
