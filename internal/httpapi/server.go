package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"diffusiond/internal/engine"
	"diffusiond/internal/sampler"
	"diffusiond/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Predict(ctx context.Context, req engine.Request) (engine.Result, error)
	Status() types.StatusResponse
	Ready() bool
}

// requestFromInput overlays the fields present in in onto the defaults.
func requestFromInput(in types.PredictionInput) engine.Request {
	req := engine.DefaultRequest()
	req.Prompt = in.Prompt
	req.NegativePrompt = in.NegativePrompt
	req.Seed = in.Seed
	if in.Width != nil {
		req.Width = *in.Width
	}
	if in.Height != nil {
		req.Height = *in.Height
	}
	if in.NumOutputs != nil {
		req.NumOutputs = *in.NumOutputs
	}
	if in.NumInferenceSteps != nil {
		req.Steps = *in.NumInferenceSteps
	}
	if in.GuidanceScale != nil {
		req.GuidanceScale = *in.GuidanceScale
	}
	if in.Scheduler != nil {
		req.Scheduler = *in.Scheduler
	}
	if in.Image != nil {
		req.Image = *in.Image
	}
	if in.Strength != nil {
		req.Strength = *in.Strength
	}
	return req
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	r.Use(MetricsMiddleware)

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/samplers", func(w http.ResponseWriter, r *http.Request) {
		resp := types.SamplersResponse{Default: string(sampler.KEuler)}
		for _, n := range sampler.Names() {
			resp.Samplers = append(resp.Samplers, string(n))
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Post("/predictions", func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var body types.PredictionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if !svc.Ready() {
			writeJSONError(w, http.StatusServiceUnavailable, engine.ErrNotReady.Error())
			return
		}
		observePredictionBody(r.ContentLength)
		req := requestFromInput(body.Input)
		lvl := requestLogLevel(r)
		start := time.Now()
		if lvl >= LevelDebug && zlog != nil {
			zlog.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Int("width", req.Width).
				Int("height", req.Height).
				Int("num_outputs", req.NumOutputs).
				Str("scheduler", req.Scheduler).
				Bool("img2img", req.Image != "").
				Msg("predict start")
		}

		// Shutdown cancels in-flight work as well as client disconnects.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		res, err := svc.Predict(ctx, req)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := statusFor(err)
			if status == http.StatusTooManyRequests {
				IncrementBackpressure(req.Mode().String())
			}
			writeJSONError(w, status, err.Error())
			logPredictEnd(r, lvl, status, start, err)
			return
		}
		writeJSON(w, http.StatusOK, types.PredictionResponse{ID: res.RequestID, Output: res.Paths, Seed: res.Seed})
		logPredictEnd(r, lvl, http.StatusOK, start, nil)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}
