package types

// PredictionInput carries the generation parameters of POST /predictions.
// Omitted fields take the server defaults.
type PredictionInput struct {
	// Text to condition on. Omit for unconditioned generation.
	// example: an astronaut riding a horse on mars
	Prompt *string `json:"prompt,omitempty" example:"an astronaut riding a horse on mars"`
	// Text to steer away from.
	// example: blurry, low quality
	NegativePrompt *string `json:"negative_prompt,omitempty" example:"blurry, low quality"`
	// Output width in pixels. Ignored when image is set.
	// example: 768
	Width *int `json:"width,omitempty" example:"768"`
	// Output height in pixels. Ignored when image is set.
	// example: 768
	Height *int `json:"height,omitempty" example:"768"`
	// Number of images to generate.
	// example: 1
	NumOutputs *int `json:"num_outputs,omitempty" example:"1"`
	// Number of denoising steps.
	// example: 50
	NumInferenceSteps *int `json:"num_inference_steps,omitempty" example:"50"`
	// Classifier-free guidance scale.
	// example: 7.5
	GuidanceScale *float64 `json:"guidance_scale,omitempty" example:"7.5"`
	// Sampler name: PNDM, KLMS, DDIM, K_EULER, K_EULER_ANCESTRAL or DPMSolverMultistep.
	// example: K_EULER
	Scheduler *string `json:"scheduler,omitempty" example:"K_EULER"`
	// Random seed. Omit to let the server pick one.
	// example: 4242
	Seed *int64 `json:"seed,omitempty" example:"4242"`
	// Base64 encoded initial image (optionally a data URL). Switches to image-to-image.
	Image *string `json:"image,omitempty"`
	// How strongly the initial image is noised, from 0 to 1.
	// example: 0.8
	Strength *float64 `json:"strength,omitempty" example:"0.8"`
}

// PredictionRequest is the body of POST /predictions.
type PredictionRequest struct {
	Input PredictionInput `json:"input"`
}

// PredictionResponse lists the files written for a prediction.
type PredictionResponse struct {
	// Request identifier, also embedded in every output file name.
	// example: 5f0c6f8e-8a53-4c53-9f3b-2f1d0f1b6a11
	ID string `json:"id" example:"5f0c6f8e-8a53-4c53-9f3b-2f1d0f1b6a11"`
	// Paths of the PNG files that passed the safety filter.
	// example: ["/tmp/out-5f0c6f8e-8a53-4c53-9f3b-2f1d0f1b6a11-0.png"]
	Output []string `json:"output"`
	// Seed actually used.
	// example: 4242
	Seed int64 `json:"seed" example:"4242"`
}

// SamplersResponse is returned by GET /samplers.
type SamplersResponse struct {
	// example: ["PNDM","KLMS","DDIM","K_EULER","K_EULER_ANCESTRAL","DPMSolverMultistep"]
	Samplers []string `json:"samplers"`
	// example: K_EULER
	Default string `json:"default" example:"K_EULER"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// VariantStatus summarizes one pipeline variant for /status.
type VariantStatus struct {
	// example: txt2img
	Mode string `json:"mode" example:"txt2img"`
	// Sampler attached by the most recent generation.
	// example: K_EULER
	Sampler string `json:"sampler" example:"K_EULER"`
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Engine state: uninitialized or ready.
	// example: ready
	State string `json:"state" example:"ready"`
	// Compute device the pipeline is bound to.
	// example: cuda
	Device string `json:"device,omitempty" example:"cuda"`
	// example: stabilityai/stable-diffusion-2-1
	ModelID string `json:"model_id,omitempty" example:"stabilityai/stable-diffusion-2-1"`
	// example: CompVis/stable-diffusion-safety-checker
	SafetyModelID string `json:"safety_model_id,omitempty" example:"CompVis/stable-diffusion-safety-checker"`
	// False when no classifier is configured and outputs are not filtered.
	// example: true
	SafetyFilter bool `json:"safety_filter" example:"true"`
	// Per-variant admission state.
	Variants []VariantStatus `json:"variants"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// example: 12
	PredictionsTotal uint64 `json:"predictions_total" example:"12"`
	// Images dropped by the safety filter.
	// example: 1
	FilteredTotal uint64 `json:"filtered_total" example:"1"`
	// Last setup or prediction error.
	LastError string `json:"last_error,omitempty"`
}
