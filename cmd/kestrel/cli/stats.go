package cli

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"kestrel/internal/format"
	"kestrel/internal/generation"
	"kestrel/internal/postings"
	"kestrel/internal/termid"
)

type termCount struct {
	Term      termid.ID `json:"term"`
	Documents int       `json:"documents"`
}

type indexStats struct {
	Generation  string           `json:"generation"`
	Dir         string           `json:"dir"`
	Terms       int              `json:"terms"`
	Postings    int64            `json:"postings"`
	Top         []termCount      `json:"top"`
	Files       map[string]int64 `json:"files"`
	Generations []string         `json:"generations"`
}

// NewStatsCommand returns the "stats" command.
func NewStatsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Describe the served generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			top, _ := cmd.Flags().GetInt("top")
			mgr, err := env.manager(generation.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = mgr.Close() }()

			lease, err := mgr.Current(cmd.Context())
			if err != nil {
				return err
			}
			defer lease.Release()

			st, err := collectStats(lease, top)
			if err != nil {
				return err
			}
			if st.Generations, err = mgr.Generations(); err != nil {
				return err
			}

			p := newPrinter(cmd, env.Out)
			if p.structured() {
				return p.encode(st)
			}
			pairs := [][2]string{
				{"Generation", st.Generation},
				{"Dir", st.Dir},
				{"Terms", strconv.Itoa(st.Terms)},
				{"Postings", strconv.FormatInt(st.Postings, 10)},
				{"Generations on disk", strconv.Itoa(len(st.Generations))},
			}
			for _, name := range []string{format.LexiconFile, format.DocsFile, format.ValuesFile, format.PositionsFile} {
				if size, ok := st.Files[name]; ok {
					pairs = append(pairs, [2]string{name, formatBytes(size)})
				}
			}
			p.kv(pairs)
			if len(st.Top) > 0 {
				_, _ = fmt.Fprintln(env.Out)
				rows := make([][]string, 0, len(st.Top))
				for _, tc := range st.Top {
					rows = append(rows, []string{fmt.Sprintf("%016x", uint64(tc.Term)), strconv.Itoa(tc.Documents)})
				}
				p.table([]string{"TERM", "DOCUMENTS"}, rows)
			}
			return nil
		},
	}
	cmd.Flags().Int("top", 10, "list this many of the most frequent term ids")
	addOutputFlag(cmd)
	return cmd
}

func collectStats(lease *generation.Lease, top int) (*indexStats, error) {
	idx := lease.Index()
	st := &indexStats{
		Generation: lease.ID(),
		Dir:        idx.Dir(),
		Terms:      idx.NumTerms(),
		Files:      map[string]int64{},
	}
	err := idx.EachTerm(func(id termid.ID, _ postings.Segment) error {
		n, err := idx.NumDocuments(id)
		if err != nil {
			return err
		}
		st.Postings += int64(n)
		if top > 0 {
			st.Top = append(st.Top, termCount{Term: id, Documents: n})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(st.Top, func(a, b termCount) int {
		return cmp.Or(cmp.Compare(b.Documents, a.Documents), cmp.Compare(a.Term, b.Term))
	})
	if len(st.Top) > top {
		st.Top = st.Top[:top]
	}

	for _, name := range []string{format.LexiconFile, format.DocsFile, format.ValuesFile, format.PositionsFile} {
		if info, err := os.Stat(filepath.Join(idx.Dir(), name)); err == nil {
			st.Files[name] = info.Size()
		}
	}
	return st, nil
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
