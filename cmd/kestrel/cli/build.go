package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"kestrel/internal/config"
	"kestrel/internal/generation"
	"kestrel/internal/journal"
	"kestrel/internal/preindex"
	"kestrel/internal/sysmetrics"
)

// NewBuildCommand returns the "build" command.
func NewBuildCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [journal|glob ...]",
		Short: "Build a new index generation from journals and publish it",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyBuildFlags(cmd, &env.Config.Build, args)
			if v, _ := cmd.Flags().GetString("temp-dir"); v != "" {
				env.Config.Paths.TempDir = v
			}
			publish := true
			if v, _ := cmd.Flags().GetBool("no-publish"); v {
				publish = false
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			mgr, err := env.manager(generation.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = mgr.Close() }()

			res, err := rebuild(ctx, env, mgr, publish)
			if err != nil {
				return err
			}
			p := newPrinter(cmd, env.Out)
			if p.structured() {
				return p.encode(res)
			}
			p.kv([][2]string{
				{"Generation", res.Generation},
				{"Published", fmt.Sprint(res.Published)},
				{"Entries", fmt.Sprint(res.Stats.Entries)},
				{"Omitted", fmt.Sprint(res.Stats.Omitted)},
				{"Terms", fmt.Sprint(res.Stats.Terms)},
				{"Postings", fmt.Sprint(res.Stats.Postings - res.Stats.Duplicates)},
				{"Duplicates", fmt.Sprint(res.Stats.Duplicates)},
				{"Duration", res.Stats.Duration.String()},
				{"Pruned", fmt.Sprint(len(res.Pruned))},
			})
			return nil
		},
	}
	cmd.Flags().Int("workers", 0, "sort workers (0 = GOMAXPROCS)")
	cmd.Flags().String("memory-threshold", "", "placement array size above which it is file-backed (e.g. 256MB, -1 = always)")
	cmd.Flags().Bool("compress-positions", false, "write the positions file as seekable zstd")
	cmd.Flags().Bool("skip-values", false, "omit the values file")
	cmd.Flags().Bool("renumber", false, "give every journal entry a fresh ordinal instead of coalescing repeats")
	cmd.Flags().Int("keep", 0, "generations to keep when pruning (0 = config)")
	cmd.Flags().String("temp-dir", "", "scratch directory for construction")
	cmd.Flags().Bool("no-publish", false, "build the generation without moving CURRENT")
	addOutputFlag(cmd)
	return cmd
}

func applyBuildFlags(cmd *cobra.Command, b *config.BuildConfig, args []string) {
	if len(args) > 0 {
		b.Journals = args
	}
	if cmd.Flags().Changed("workers") {
		b.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if cmd.Flags().Changed("memory-threshold") {
		b.MemoryThreshold, _ = cmd.Flags().GetString("memory-threshold")
	}
	if cmd.Flags().Changed("compress-positions") {
		b.CompressPositions, _ = cmd.Flags().GetBool("compress-positions")
	}
	if cmd.Flags().Changed("skip-values") {
		b.SkipValues, _ = cmd.Flags().GetBool("skip-values")
	}
	if cmd.Flags().Changed("renumber") {
		b.RenumberOrdinals, _ = cmd.Flags().GetBool("renumber")
	}
	if v, _ := cmd.Flags().GetInt("keep"); v > 0 {
		b.Keep = v
	}
}

// buildResult is the outcome of one rebuild.
type buildResult struct {
	Generation string         `json:"generation"`
	Published  bool           `json:"published"`
	Stats      preindex.Stats `json:"stats"`
	Pruned     []string       `json:"pruned,omitempty"`
}

// rebuild builds a generation from the configured journals into a fresh
// directory, then publishes it and prunes old generations. A failed build
// leaves no directory behind.
func rebuild(ctx context.Context, env *Env, mgr *generation.Manager, publish bool) (*buildResult, error) {
	cfg := env.Config.Build
	if len(cfg.Journals) == 0 {
		return nil, fmt.Errorf("no journals configured")
	}
	paths, err := journal.Resolve(cfg.Journals...)
	if err != nil {
		return nil, err
	}
	threshold, err := cfg.Threshold()
	if err != nil {
		return nil, err
	}

	dir, err := mgr.NewBuildDir()
	if err != nil {
		return nil, err
	}
	res := &buildResult{Generation: filepath.Base(dir)}
	meter := sysmetrics.NewMeter()

	opts := preindex.Options{
		Journals:          paths,
		OutputDir:         dir,
		MemoryThreshold:   threshold,
		Workers:           cfg.Workers,
		Rewrite:           rewriterFor(cfg),
		SkipValues:        cfg.SkipValues,
		CompressPositions: cfg.CompressPositions,
		Progress: func(stage preindex.Stage, pct float64) {
			env.Logger.Info("build progress", "component", "build", "generation", res.Generation,
				"stage", stage, "percent", fmt.Sprintf("%.0f", pct),
				"cpu_percent", fmt.Sprintf("%.0f", meter.CPUPercent()), "mem_inuse", sysmetrics.MemoryInuse())
		},
		Logger:  env.Logger,
		Metrics: env.Metrics,
	}
	if env.Config.Paths.TempDir != "" {
		opts.TempDir = filepath.Join(env.Config.Paths.TempDir, res.Generation)
	}

	b, err := preindex.New(opts)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	res.Stats, err = b.Build(ctx)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	if !publish {
		return res, nil
	}

	if err := mgr.Publish(ctx, dir); err != nil {
		return nil, err
	}
	res.Published = true
	res.Pruned, err = mgr.Prune(cfg.Keep)
	if err != nil {
		env.Logger.Warn("prune failed", "component", "build", "error", err)
	}
	return res, nil
}

// rewriterFor folds the rank stored in each entry's metadata into its
// document id, renumbering ordinals first when configured.
func rewriterFor(cfg config.BuildConfig) preindex.DocIDRewriter {
	fold := preindex.FoldRank(func(h journal.Header) float64 { return metaRank(h.DocumentMeta) })
	if cfg.RenumberOrdinals {
		return preindex.Chain(preindex.RenumberOrdinals(), fold)
	}
	return fold
}
