// Package fetchctl implements the command that provisions the weight cache
// before the server starts.
package fetchctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v7"

	"diffusiond/internal/common/fsutil"
	"diffusiond/internal/common/logging"
	"diffusiond/internal/hub"
	"diffusiond/internal/provision"
)

// Config carries the persistent flags.
type Config struct {
	CacheDir   string
	LogLevel   string
	LogFormat  string
	NoProgress bool
	Token      string
}

// fetcherFactory builds the registry client; tests replace it.
type fetcherFactory func(cfg *Config, logger zerolog.Logger, out io.Writer) (provision.Fetcher, func())

func hubFetcher(cfg *Config, logger zerolog.Logger, out io.Writer) (provision.Fetcher, func()) {
	c := hub.NewClient(logger)
	if cfg.Token != "" {
		c.WithToken(cfg.Token)
	}
	if cfg.NoProgress {
		return c, func() {}
	}
	c.Progress = mpb.New(mpb.WithOutput(out), mpb.WithWidth(60))
	return c, c.Progress.Wait
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func buildRootCmd() *cobra.Command {
	return buildRootCmdWith(&Config{
		CacheDir:  envOr("DIFFUSIOND_CACHE_DIR", provision.DefaultCacheDir),
		LogLevel:  envOr("DIFFUSIOND_LOG_LEVEL", "info"),
		LogFormat: envOr("DIFFUSIOND_LOG_FORMAT", "auto"),
	}, hubFetcher)
}

// buildRootCmdWith constructs the command tree around cfg.
func buildRootCmdWith(cfg *Config, newFetcher fetcherFactory) *cobra.Command {
	var logger zerolog.Logger
	root := &cobra.Command{
		Use:           "fetch [model_url]",
		Short:         "Download a diffusion model and its safety checker into the local cache",
		Example:       "  fetch https://huggingface.co/stabilityai/stable-diffusion-2-1\n  fetch --cache-dir /data/diffusers-cache",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "Cache directory (defaults DIFFUSIOND_CACHE_DIR or diffusers-cache)")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	root.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: auto|console|json")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		dir, err := fsutil.ExpandHome(cfg.CacheDir)
		if err != nil {
			return err
		}
		cfg.CacheDir = dir
		logger, err = logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
		return err
	}

	modelURL := provision.DefaultModelURL
	root.Flags().StringVar(&modelURL, "model_url", modelURL, "Registry URL of the model to download")
	root.Flags().BoolVar(&cfg.NoProgress, "no-progress", false, "Disable download progress bars")
	root.Flags().StringVar(&cfg.Token, "token", "", "Registry access token (defaults HF_TOKEN)")
	root.RunE = func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			modelURL = args[0]
		}
		f, wait := newFetcher(cfg, logger, cmd.ErrOrStderr())
		p := provision.New(cfg.CacheDir, f, logger)
		m, err := p.Provision(cmd.Context(), modelURL)
		wait()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s ready in %s\n", m.ModelID, m.ModelDir(cfg.CacheDir))
		return nil
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Verify the cache holds a completed download",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !fsutil.PathExists(cfg.CacheDir) {
				return fmt.Errorf("%w: %s does not exist", provision.ErrCacheIncomplete, cfg.CacheDir)
			}
			m, err := provision.Ready(cfg.CacheDir)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		},
	}
	root.AddCommand(check)
	return root
}

// Main runs the command with args and returns the process exit code.
func Main(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := buildRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fetch:", err)
		return 1
	}
	return 0
}
