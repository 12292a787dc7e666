// Package cli implements the kestrel subcommands.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"kestrel/internal/config"
	"kestrel/internal/generation"
	"kestrel/internal/logging"
	"kestrel/internal/metrics"
)

// Env is the state shared by all subcommands. Setup fills it from the
// persistent flags before any command runs.
type Env struct {
	Config   *config.Config
	Logger   *slog.Logger
	Filter   *logging.ComponentFilterHandler
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Out io.Writer
	Err io.Writer
}

// AddPersistentFlags registers the flags Setup reads.
func AddPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "YAML config file (or KESTREL_* env)")
	cmd.PersistentFlags().String("root", "", "generation root directory (default: platform cache dir)")
	cmd.PersistentFlags().String("log-level", "", "default log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "", "log format: text or json")
}

// Setup loads the configuration, applies flag overrides and builds the
// logger and metrics.
func (e *Env) Setup(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("root"); v != "" {
		cfg.Paths.Root = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Logging.Format = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	e.Config = cfg

	if e.Out == nil {
		e.Out = os.Stdout
	}
	if e.Err == nil {
		e.Err = os.Stderr
	}

	e.Logger, e.Filter = logging.New(e.Err, logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Components: cfg.Logging.Components,
	})

	e.Registry = prometheus.NewRegistry()
	e.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	e.Metrics = metrics.New(e.Registry)
	return nil
}

// manager opens the generation root with the shared logger and metrics.
func (e *Env) manager(opts generation.Options) (*generation.Manager, error) {
	opts.Logger = e.Logger
	opts.Metrics = e.Metrics
	return generation.NewManager(e.Config.Paths.Root, opts)
}
