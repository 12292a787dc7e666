package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"kestrel/internal/docid"
	"kestrel/internal/journal"
	"kestrel/internal/seqcodec"
	"kestrel/internal/tokenizer"
)

// maxLineSize bounds one corpus line.
const maxLineSize = 4 << 20

// NewJournalCommand returns the "journal" command tree.
func NewJournalCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Write and inspect extraction journals",
	}
	cmd.AddCommand(newJournalAppendCmd(env), newJournalDumpCmd(env))
	return cmd
}

// rankMeta stores a normalized rank in the document metadata word.
func rankMeta(rank float64) uint64 { return math.Float64bits(rank) }

// metaRank is the inverse of rankMeta.
func metaRank(meta uint64) float64 { return math.Float64frombits(meta) }

func newJournalAppendCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append [corpus.tsv ...]",
		Short: "Tokenize a TSV corpus into a new journal",
		Long: `Reads tab-separated documents, one per line:

  domain <TAB> ordinal <TAB> rank <TAB> url <TAB> title <TAB> body

rank is in [0, 1] with lower meaning better. Lines that are empty or start
with '#' are skipped. With no files, or "-", the corpus is read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			blockSize, _ := cmd.Flags().GetInt("block-size")
			levelName, _ := cmd.Flags().GetString("level")

			ok, level := zstd.EncoderLevelFromString(levelName)
			if !ok {
				return fmt.Errorf("unknown zstd level %q", levelName)
			}
			w, err := journal.NewWriter(out, journal.Options{BlockSize: blockSize, Level: level, Logger: env.Logger})
			if err != nil {
				return err
			}

			if len(args) == 0 {
				args = []string{"-"}
			}
			for _, name := range args {
				if err := appendCorpus(w, name, cmd.InOrStdin()); err != nil {
					_ = w.Close()
					return err
				}
			}
			if err := w.Close(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(env.Out, "wrote %d entries to %s (%d omitted)\n", w.Count(), out, w.Omitted())
			return nil
		},
	}
	cmd.Flags().String("out", "", "journal file to create")
	cmd.Flags().Int("block-size", journal.DefaultBlockSize, "uncompressed block size in bytes")
	cmd.Flags().String("level", "default", "zstd level: fastest, default, better, best")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func appendCorpus(w *journal.Writer, name string, stdin io.Reader) error {
	r := stdin
	if name != "-" {
		f, err := os.Open(name) //nolint:gosec // G304: operator-supplied corpus path
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		h, fields, err := parseCorpusLine(text)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", name, line, err)
		}
		ids, meta, pos, err := tokenizer.JournalArgs(tokenizer.Analyze(fields...))
		if err != nil {
			return fmt.Errorf("%s:%d: %w", name, line, err)
		}
		// Oversized and empty documents are logged and counted by the writer.
		if err := w.Append(h, ids, meta, pos); err != nil {
			return fmt.Errorf("%s:%d: %w", name, line, err)
		}
	}
	return sc.Err()
}

func parseCorpusLine(text string) (journal.Header, []tokenizer.Field, error) {
	cols := strings.SplitN(text, "\t", 6)
	if len(cols) < 4 {
		return journal.Header{}, nil, fmt.Errorf("want at least 4 tab-separated columns, got %d", len(cols))
	}
	for len(cols) < 6 {
		cols = append(cols, "")
	}
	domain, err := strconv.ParseUint(cols[0], 10, 32)
	if err != nil {
		return journal.Header{}, nil, fmt.Errorf("domain: %w", err)
	}
	ordinal, err := strconv.ParseUint(cols[1], 10, 32)
	if err != nil {
		return journal.Header{}, nil, fmt.Errorf("ordinal: %w", err)
	}
	if domain > docid.MaxDomain || ordinal > docid.MaxOrdinal {
		return journal.Header{}, nil, errors.New("domain or ordinal out of range")
	}
	rank, err := strconv.ParseFloat(cols[2], 64)
	if err != nil {
		return journal.Header{}, nil, fmt.Errorf("rank: %w", err)
	}

	fields := []tokenizer.Field{
		{Text: cols[4], Flag: tokenizer.FlagTitle},
		{Text: cols[3], Flag: tokenizer.FlagURL},
		{Text: cols[5], Flag: tokenizer.FlagBody},
	}
	h := journal.Header{
		DocumentID:   docid.Encode(uint32(domain), uint32(ordinal)),
		DocSize:      len(cols[5]),
		Features:     tokenizer.Features(fields...),
		DocumentMeta: rankMeta(rank),
	}
	return h, fields, nil
}

// dumpEntry is the JSON shape of one journal entry.
type dumpEntry struct {
	Doc      uint64     `json:"doc"`
	Domain   uint32     `json:"domain"`
	Ordinal  uint32     `json:"ordinal"`
	Rank     float64    `json:"rank"`
	Size     int        `json:"size"`
	Features uint32     `json:"features"`
	Terms    []dumpTerm `json:"terms,omitempty"`
}

type dumpTerm struct {
	ID        string   `json:"id"`
	Meta      uint16   `json:"meta"`
	Positions []uint32 `json:"positions"`
}

func newJournalDumpCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <journal|glob> ...",
		Short: "Print journal entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			withTerms, _ := cmd.Flags().GetBool("terms")
			limit, _ := cmd.Flags().GetInt("limit")

			paths, err := journal.Resolve(args...)
			if err != nil {
				return err
			}
			set, err := journal.OpenSet(paths...)
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			var entries []dumpEntry
			for limit <= 0 || len(entries) < limit {
				e, err := set.Next()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}
				d := dumpEntry{
					Doc:      uint64(e.DocumentID),
					Domain:   docid.Domain(e.DocumentID),
					Ordinal:  docid.Ordinal(e.DocumentID),
					Rank:     metaRank(e.DocumentMeta),
					Size:     e.DocSize,
					Features: e.Features,
				}
				if withTerms {
					for _, t := range e.Terms {
						seq, err := seqcodec.Decode(t.Positions)
						if err != nil {
							return fmt.Errorf("doc %d term %x: %w", e.DocumentID, uint64(t.ID), err)
						}
						d.Terms = append(d.Terms, dumpTerm{
							ID:        fmt.Sprintf("%016x", uint64(t.ID)),
							Meta:      t.Meta,
							Positions: seq.Values(),
						})
					}
				} else {
					d.Terms = make([]dumpTerm, len(e.Terms))
				}
				entries = append(entries, d)
			}

			p := newPrinter(cmd, env.Out)
			if p.structured() {
				if !withTerms {
					for i := range entries {
						entries[i].Terms = nil
					}
				}
				return p.encode(entries)
			}
			rows := make([][]string, 0, len(entries))
			for _, d := range entries {
				rows = append(rows, []string{
					strconv.FormatUint(uint64(d.Domain), 10),
					strconv.FormatUint(uint64(d.Ordinal), 10),
					strconv.FormatFloat(d.Rank, 'g', 4, 64),
					strconv.Itoa(d.Size),
					fmt.Sprintf("%03b", d.Features),
					strconv.Itoa(len(d.Terms)),
				})
			}
			p.table([]string{"DOMAIN", "ORDINAL", "RANK", "SIZE", "FEATURES", "TERMS"}, rows)
			if withTerms {
				for _, d := range entries {
					_, _ = fmt.Fprintf(env.Out, "\n%d/%d\n", d.Domain, d.Ordinal)
					for _, t := range d.Terms {
						_, _ = fmt.Fprintf(env.Out, "  %s meta=%03b positions=%v\n", t.ID, t.Meta, t.Positions)
					}
				}
			}
			_, _ = fmt.Fprintf(env.Err, "%d of %d entries\n", len(entries), set.Count())
			return nil
		},
	}
	cmd.Flags().Bool("terms", false, "include each entry's terms")
	cmd.Flags().Int("limit", 0, "stop after this many entries (0 = all)")
	addOutputFlag(cmd)
	return cmd
}
