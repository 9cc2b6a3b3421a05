package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"diffusiond/internal/provision"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr     string `json:"addr" yaml:"addr" toml:"addr"`
	CacheDir string `json:"cache_dir" yaml:"cache_dir" toml:"cache_dir"`
	// ModelURL names the model the cache is expected to hold.
	ModelURL  string `json:"model_url" yaml:"model_url" toml:"model_url"`
	OutputDir string `json:"output_dir" yaml:"output_dir" toml:"output_dir"`

	WorkerURL            string `json:"worker_url" yaml:"worker_url" toml:"worker_url"`
	WorkerAPIKey         string `json:"worker_api_key" yaml:"worker_api_key" toml:"worker_api_key"`
	WorkerTimeoutSeconds int    `json:"worker_timeout_seconds" yaml:"worker_timeout_seconds" toml:"worker_timeout_seconds"`
	// DisableSafetyFilter keeps every generated image.
	DisableSafetyFilter bool `json:"disable_safety_filter" yaml:"disable_safety_filter" toml:"disable_safety_filter"`

	MaxQueueDepth         int   `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitSeconds        int   `json:"max_wait_seconds" yaml:"max_wait_seconds" toml:"max_wait_seconds"`
	RequestTimeoutSeconds int   `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
	MaxBodyBytes          int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat    string `json:"log_format" yaml:"log_format" toml:"log_format"`
	HTTPLogLevel string `json:"http_log_level" yaml:"http_log_level" toml:"http_log_level"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	CORSMethods []string `json:"cors_methods" yaml:"cors_methods" toml:"cors_methods"`
	CORSHeaders []string `json:"cors_headers" yaml:"cors_headers" toml:"cors_headers"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// WithDefaults fills unspecified fields.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":5000"
	}
	if c.CacheDir == "" {
		c.CacheDir = provision.DefaultCacheDir
	}
	if c.ModelURL == "" {
		c.ModelURL = provision.DefaultModelURL
	}
	if c.OutputDir == "" {
		c.OutputDir = os.TempDir()
	}
	if c.WorkerURL == "" {
		c.WorkerURL = "http://127.0.0.1:7860"
	}
	if c.WorkerTimeoutSeconds <= 0 {
		c.WorkerTimeoutSeconds = 600
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "auto"
	}
	if len(c.CORSMethods) == 0 {
		c.CORSMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(c.CORSHeaders) == 0 {
		c.CORSHeaders = []string{"Content-Type", "X-Log-Level"}
	}
	return c
}

func (c Config) WorkerTimeout() time.Duration {
	return time.Duration(c.WorkerTimeoutSeconds) * time.Second
}

func (c Config) MaxWait() time.Duration { return time.Duration(c.MaxWaitSeconds) * time.Second }

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
