package engine

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"diffusiond/internal/pipeline"
	"diffusiond/internal/provision"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultLockTimeout   = 30 * time.Second
)

// Config encapsulates all tunables for Engine construction.
type Config struct {
	// CacheDir is the provisioned weight cache.
	CacheDir string
	// ModelID, when set, must match the provisioned model.
	ModelID string
	// OutputDir receives generated PNG files. Defaults to os.TempDir().
	OutputDir     string
	MaxQueueDepth int
	MaxWait       time.Duration
	// RequestTimeout bounds one prediction including queueing. Zero disables it.
	RequestTimeout time.Duration
	LockTimeout    time.Duration

	Backend pipeline.Backend
	// Classifier filters unsafe outputs. Nil disables filtering.
	Classifier pipeline.Classifier
	Seeds      SeedSource
	Publisher  EventPublisher
	Logger     zerolog.Logger
}

// New constructs an uninitialized Engine from cfg.
func New(cfg Config) *Engine {
	if cfg.CacheDir == "" {
		cfg.CacheDir = provision.DefaultCacheDir
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = os.TempDir()
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaultMaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if cfg.Seeds == nil {
		cfg.Seeds = CryptoSeeds{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	return &Engine{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "engine").Logger(),
		state:     StateUninitialized,
		startTime: time.Now(),
	}
}
