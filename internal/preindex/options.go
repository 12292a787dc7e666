package preindex

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"kestrel/internal/metrics"
)

// Stage identifies one step of construction.
type Stage int

const (
	StageSizing Stage = iota
	StagePlacement
	StageSorting
	StageFinalize
	StageCleanup
)

func (s Stage) String() string {
	switch s {
	case StageSizing:
		return "sizing"
	case StagePlacement:
		return "placement"
	case StageSorting:
		return "sorting"
	case StageFinalize:
		return "finalize"
	case StageCleanup:
		return "cleanup"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Progress receives fire-and-forget heartbeats: the running stage and its
// completion in [0, 100]. It may be called from several goroutines.
type Progress func(stage Stage, percent float64)

// Options configures a Builder.
type Options struct {
	// Journals are the input journal paths, consumed in order.
	Journals []string
	// OutputDir receives the finalized index files.
	OutputDir string
	// TempDir holds intermediate files. Empty means OutputDir/.preindex.
	TempDir string
	// MemoryThreshold is the largest placement array kept on the heap;
	// larger ones are file-backed in TempDir. Zero uses the slots default.
	MemoryThreshold int64
	// Workers bounds per-segment sort parallelism. Zero means GOMAXPROCS.
	Workers int
	// Rewrite is applied to every document id during placement.
	Rewrite DocIDRewriter
	// SkipValues omits the values file.
	SkipValues bool
	// CompressPositions writes the positions file as seekable zstd.
	CompressPositions bool

	Progress         Progress
	ProgressInterval time.Duration // zero means one second

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (o *Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}
