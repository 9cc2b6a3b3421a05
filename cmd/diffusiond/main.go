package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"diffusiond/internal/common/fsutil"
	"diffusiond/internal/common/logging"
	"diffusiond/internal/config"
	"diffusiond/internal/engine"
	"diffusiond/internal/httpapi"
	"diffusiond/internal/pipeline"
	"diffusiond/internal/pipeline/worker"
	"diffusiond/internal/provision"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

// splitCSV splits a comma separated list, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// flagValues mirrors config.Config with flag defaults taken from the environment.
type flagValues struct {
	fs  *flag.FlagSet
	cfg config.Config

	configPath  string
	corsOrigins string
}

func newFlags(args []string) (*flagValues, error) {
	fv := &flagValues{fs: flag.NewFlagSet("diffusiond", flag.ContinueOnError)}
	fs, c := fv.fs, &fv.cfg
	fs.StringVar(&fv.configPath, "config", os.Getenv("DIFFUSIOND_CONFIG"), "Config file (.yaml, .json or .toml)")
	fs.StringVar(&c.Addr, "addr", os.Getenv("DIFFUSIOND_ADDR"), "HTTP listen address, e.g. :5000")
	fs.StringVar(&c.CacheDir, "cache-dir", os.Getenv("DIFFUSIOND_CACHE_DIR"), "Provisioned weight cache")
	fs.StringVar(&c.ModelURL, "model-url", os.Getenv("DIFFUSIOND_MODEL_URL"), "Registry URL of the model the cache must hold")
	fs.StringVar(&c.OutputDir, "output-dir", os.Getenv("DIFFUSIOND_OUTPUT_DIR"), "Directory for generated PNG files")
	fs.StringVar(&c.WorkerURL, "worker-url", os.Getenv("DIFFUSIOND_WORKER_URL"), "Base URL of the GPU worker")
	fs.StringVar(&c.WorkerAPIKey, "worker-api-key", os.Getenv("DIFFUSIOND_WORKER_API_KEY"), "Bearer token for the GPU worker")
	fs.IntVar(&c.WorkerTimeoutSeconds, "worker-timeout-seconds", envInt("DIFFUSIOND_WORKER_TIMEOUT_SECONDS", 0), "Per-call worker timeout")
	fs.BoolVar(&c.DisableSafetyFilter, "disable-safety-filter", os.Getenv("DIFFUSIOND_DISABLE_SAFETY_FILTER") == "1", "Keep images the classifier flags")
	fs.IntVar(&c.MaxQueueDepth, "max-queue-depth", envInt("DIFFUSIOND_MAX_QUEUE_DEPTH", 0), "Queued predictions per variant before 429")
	fs.IntVar(&c.MaxWaitSeconds, "max-wait-seconds", envInt("DIFFUSIOND_MAX_WAIT_SECONDS", 0), "Admission wait before 429")
	fs.IntVar(&c.RequestTimeoutSeconds, "request-timeout-seconds", envInt("DIFFUSIOND_REQUEST_TIMEOUT_SECONDS", 0), "Prediction timeout (0 disables)")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", int64(envInt("DIFFUSIOND_MAX_BODY_BYTES", 0)), "Maximum request body size")
	fs.StringVar(&c.LogLevel, "log-level", os.Getenv("DIFFUSIOND_LOG_LEVEL"), "Log level: debug|info|warn|error")
	fs.StringVar(&c.LogFormat, "log-format", os.Getenv("DIFFUSIOND_LOG_FORMAT"), "Log format: auto|console|json")
	fs.StringVar(&c.HTTPLogLevel, "http-log-level", os.Getenv("DIFFUSIOND_HTTP_LOG_LEVEL"), "Default per-request log level: off|error|info|debug")
	fs.BoolVar(&c.CORSEnabled, "cors", os.Getenv("DIFFUSIOND_CORS") == "1", "Enable CORS")
	fs.StringVar(&fv.corsOrigins, "cors-origins", os.Getenv("DIFFUSIOND_CORS_ORIGINS"), "Comma separated allowed origins")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	c.CORSOrigins = splitCSV(fv.corsOrigins)
	return fv, nil
}

// resolve merges sources: explicit flags, then the config file, then
// environment defaults, then built-in defaults.
func (fv *flagValues) resolve() (config.Config, error) {
	cfg := fv.cfg
	if fv.configPath != "" {
		file, err := config.Load(fv.configPath)
		if err != nil {
			return cfg, err
		}
		set := map[string]bool{}
		fv.fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
		str := func(name string, dst *string, v string) {
			if !set[name] && v != "" {
				*dst = v
			}
		}
		num := func(name string, dst *int, v int) {
			if !set[name] && v != 0 {
				*dst = v
			}
		}
		str("addr", &cfg.Addr, file.Addr)
		str("cache-dir", &cfg.CacheDir, file.CacheDir)
		str("model-url", &cfg.ModelURL, file.ModelURL)
		str("output-dir", &cfg.OutputDir, file.OutputDir)
		str("worker-url", &cfg.WorkerURL, file.WorkerURL)
		str("worker-api-key", &cfg.WorkerAPIKey, file.WorkerAPIKey)
		str("log-level", &cfg.LogLevel, file.LogLevel)
		str("log-format", &cfg.LogFormat, file.LogFormat)
		str("http-log-level", &cfg.HTTPLogLevel, file.HTTPLogLevel)
		num("worker-timeout-seconds", &cfg.WorkerTimeoutSeconds, file.WorkerTimeoutSeconds)
		num("max-queue-depth", &cfg.MaxQueueDepth, file.MaxQueueDepth)
		num("max-wait-seconds", &cfg.MaxWaitSeconds, file.MaxWaitSeconds)
		num("request-timeout-seconds", &cfg.RequestTimeoutSeconds, file.RequestTimeoutSeconds)
		if !set["max-body-bytes"] && file.MaxBodyBytes != 0 {
			cfg.MaxBodyBytes = file.MaxBodyBytes
		}
		if !set["disable-safety-filter"] && file.DisableSafetyFilter {
			cfg.DisableSafetyFilter = true
		}
		if !set["cors"] && file.CORSEnabled {
			cfg.CORSEnabled = true
		}
		if !set["cors-origins"] && len(file.CORSOrigins) > 0 {
			cfg.CORSOrigins = file.CORSOrigins
		}
		cfg.CORSMethods = file.CORSMethods
		cfg.CORSHeaders = file.CORSHeaders
	}
	return cfg.WithDefaults(), nil
}

func main() {
	fv, err := newFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	cfg, err := fv.resolve()
	if err != nil {
		fmt.Fprintln(os.Stderr, "diffusiond: config:", err)
		os.Exit(2)
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "diffusiond:", err)
		os.Exit(2)
	}
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("diffusiond stopped")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	modelID, err := provision.ParseModelURL(cfg.ModelURL)
	if err != nil {
		return err
	}
	cacheDir, err := fsutil.ExpandHome(cfg.CacheDir)
	if err != nil {
		return err
	}
	outputDir, err := fsutil.EnsureWritableDir(cfg.OutputDir)
	if err != nil {
		return err
	}

	httpapi.SetLogger(logger.With().Str("component", "http").Logger())
	httpapi.SetDefaultLogLevel(cfg.HTTPLogLevel)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, cfg.CORSMethods, cfg.CORSHeaders)

	wk := worker.New(cfg.WorkerURL, cfg.WorkerAPIKey, cfg.WorkerTimeout(), 10*time.Second)
	var classifier pipeline.Classifier = wk
	if cfg.DisableSafetyFilter {
		classifier = nil
	}
	eng := engine.New(engine.Config{
		CacheDir:       cacheDir,
		ModelID:        modelID,
		OutputDir:      outputDir,
		MaxQueueDepth:  cfg.MaxQueueDepth,
		MaxWait:        cfg.MaxWait(),
		RequestTimeout: cfg.RequestTimeout(),
		Backend:        wk,
		Classifier:     classifier,
		Logger:         logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	httpapi.SetBaseContext(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(eng),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("cache_dir", cacheDir).Str("worker", cfg.WorkerURL).Msg("diffusiond listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := eng.Setup(ctx); err != nil {
			errCh <- fmt.Errorf("setup: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err = <-errCh:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Error().Err(serr).Msg("graceful shutdown error")
	}
	if cerr := eng.Close(); cerr != nil {
		logger.Error().Err(cerr).Msg("release pipeline")
	}
	return err
}
