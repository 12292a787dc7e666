// Package preindex builds a reverse index generation from frozen journals.
//
// Construction runs in strictly sequential stages, each fully
// materializing its output before the next starts:
//
//  1. sizing: count postings per term and lay out one segment per term
//  2. placement: write every (document, term) posting into its segment
//  3. sorting: sort each segment by document id and coalesce duplicates
//  4. finalize: write the lexicon, docs, values and positions files
//  5. cleanup: remove intermediate files, whether or not the build succeeded
//
// The sizing output is checkpointed so placement can be retried from it.
package preindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"kestrel/internal/format"
	"kestrel/internal/logging"
	"kestrel/internal/metrics"
	"kestrel/internal/positions"
	"kestrel/internal/slots"
)

var (
	ErrNoJournals     = errors.New("no input journals")
	ErrNoOutput       = errors.New("no output directory")
	ErrJournalChanged = errors.New("journal changed between passes")
	ErrStageOrder     = errors.New("stage run before its input exists")
)

const scratchPositionsFile = "positions.scratch"

// posting is one placement slot.
type posting struct {
	Doc  uint64
	Pos  positions.Key // key in the scratch positions store
	Meta uint16
}

// Stats summarizes a build.
type Stats struct {
	Entries    uint64 // journal entries consumed
	Omitted    uint64 // entries skipped for having no terms
	Postings   uint64 // postings placed, before coalescing
	Duplicates uint64 // postings coalesced into an earlier one
	Terms      uint64
	Duration   time.Duration
}

// Builder runs the construction stages. Build runs them all; the stage
// methods are exported so a failed stage can be retried on its own.
type Builder struct {
	opts    Options
	tempDir string
	logger  *slog.Logger
	metrics *metrics.Metrics
	beat    *heartbeat

	table   *segmentTable
	slots   *slots.Array[posting]
	scratch *positions.Reader
	kept    []uint64
	stats   Stats
}

// New validates opts and prepares the temp directory.
func New(opts Options) (*Builder, error) {
	if len(opts.Journals) == 0 {
		return nil, ErrNoJournals
	}
	if opts.OutputDir == "" {
		return nil, ErrNoOutput
	}
	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(opts.OutputDir, ".preindex")
	}
	if err := os.MkdirAll(tempDir, 0o750); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &Builder{
		opts:    opts,
		tempDir: tempDir,
		logger:  logging.Default(opts.Logger).With("component", "preindex"),
		metrics: metrics.Default(opts.Metrics),
		beat:    newHeartbeat(opts.Progress, opts.ProgressInterval),
	}, nil
}

// Stats returns the counters gathered so far.
func (b *Builder) Stats() Stats { return b.stats }

// Build runs every stage in order. Cleanup always runs; on failure the
// partially written output files are removed as well.
func (b *Builder) Build(ctx context.Context) (stats Stats, err error) {
	start := time.Now()
	b.logger.Info("build starting", "journals", len(b.opts.Journals), "output", b.opts.OutputDir)

	defer func() {
		if cerr := b.timed(StageCleanup, func(context.Context) error { return b.Cleanup() })(ctx); cerr != nil {
			b.logger.Warn("cleanup failed", "error", cerr)
		}
		b.stats.Duration = time.Since(start)
		stats = b.stats
		if err != nil {
			b.removeOutputs()
			b.metrics.BuildsTotal.WithLabelValues("error").Inc()
			b.logger.Error("build failed", "error", err, "duration", b.stats.Duration)
			return
		}
		b.metrics.BuildsTotal.WithLabelValues("ok").Inc()
		b.logger.Info("build finished",
			"entries", b.stats.Entries,
			"terms", b.stats.Terms,
			"postings", b.stats.Postings,
			"duplicates", b.stats.Duplicates,
			"duration", b.stats.Duration)
	}()

	stages := []struct {
		stage Stage
		run   func(context.Context) error
	}{
		{StageSizing, b.SizeSegments},
		{StagePlacement, b.PlaceDocuments},
		{StageSorting, b.SortSegments},
		{StageFinalize, b.Finalize},
	}
	for _, s := range stages {
		if err := b.timed(s.stage, s.run)(ctx); err != nil {
			return b.stats, fmt.Errorf("%s: %w", s.stage, err)
		}
	}
	return b.stats, nil
}

func (b *Builder) timed(stage Stage, run func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		start := time.Now()
		err := run(ctx)
		b.metrics.BuildStageDuration.WithLabelValues(stage.String()).Observe(time.Since(start).Seconds())
		if err == nil {
			b.beat.done(stage)
			b.logger.Debug("stage finished", "stage", stage, "duration", time.Since(start))
		}
		return err
	}
}

// Cleanup releases intermediate state and deletes the temp directory. It
// is idempotent.
func (b *Builder) Cleanup() error {
	var errs []error
	if b.slots != nil {
		errs = append(errs, b.slots.Close())
		b.slots = nil
	}
	if b.scratch != nil {
		errs = append(errs, b.scratch.Close())
		b.scratch = nil
	}
	if err := os.RemoveAll(b.tempDir); err != nil {
		errs = append(errs, fmt.Errorf("remove temp dir: %w", err))
	}
	return errors.Join(errs...)
}

func (b *Builder) removeOutputs() {
	for _, name := range []string{format.LexiconFile, format.DocsFile, format.ValuesFile, format.PositionsFile} {
		if err := os.Remove(filepath.Join(b.opts.OutputDir, name)); err != nil && !os.IsNotExist(err) {
			b.logger.Warn("remove partial output", "file", name, "error", err)
		}
	}
}

// heartbeat throttles Progress calls.
type heartbeat struct {
	fn Progress
	s  rate.Sometimes
}

func newHeartbeat(fn Progress, interval time.Duration) *heartbeat {
	if interval <= 0 {
		interval = time.Second
	}
	return &heartbeat{fn: fn, s: rate.Sometimes{Interval: interval}}
}

func (h *heartbeat) report(stage Stage, done, total uint64) {
	if h.fn == nil {
		return
	}
	h.s.Do(func() {
		pct := 100.0
		if total > 0 {
			pct = 100 * float64(done) / float64(total)
		}
		h.fn(stage, pct)
	})
}

func (h *heartbeat) done(stage Stage) {
	if h.fn != nil {
		h.fn(stage, 100)
	}
}
