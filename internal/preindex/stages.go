package preindex

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"kestrel/internal/format"
	"kestrel/internal/journal"
	"kestrel/internal/lexicon"
	"kestrel/internal/positions"
	"kestrel/internal/postings"
	"kestrel/internal/slots"
	"kestrel/internal/termid"
)

const (
	// ctxCheckEvery is how many journal entries or terms pass between
	// cancellation checks.
	ctxCheckEvery = 1024
	// sortBatch is the number of postings one sort task handles.
	sortBatch = 64 * 1024
)

// eachEntry iterates every entry of the input journals, skipping (and
// counting) entries without terms.
func (b *Builder) eachEntry(ctx context.Context, stage Stage, fn func(seq uint64, e *journal.Entry) error) (entries, omitted uint64, err error) {
	set, err := journal.OpenSet(b.opts.Journals...)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = set.Close() }()

	total := set.Count()
	var seq uint64
	for ; ; seq++ {
		if seq%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return seq, omitted, err
			}
		}
		e, err := set.Next()
		if errors.Is(err, io.EOF) {
			return seq, omitted, nil
		}
		if err != nil {
			return seq, omitted, err
		}
		if len(e.Terms) == 0 {
			omitted++
			if stage == StageSizing {
				b.logger.Warn("skipping journal entry without terms", "doc", e.DocumentID)
			}
			continue
		}
		if err := fn(seq, &e); err != nil {
			return seq, omitted, err
		}
		b.beat.report(stage, seq+1, total)
	}
}

// SizeSegments counts postings per term and checkpoints the segment table.
func (b *Builder) SizeSegments(ctx context.Context) error {
	counts := make(map[termid.ID]uint64)
	entries, omitted, err := b.eachEntry(ctx, StageSizing, func(_ uint64, e *journal.Entry) error {
		for _, t := range e.Terms {
			counts[t.ID]++
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.table = newSegmentTable(b.opts.Journals, counts)
	b.stats.Entries = entries
	b.stats.Omitted = omitted
	b.stats.Postings = b.table.total()
	b.metrics.JournalEntries.Add(float64(entries))
	b.metrics.JournalOmitted.Add(float64(omitted))

	if err := b.table.save(b.tempDir); err != nil {
		return fmt.Errorf("checkpoint segment table: %w", err)
	}
	b.logger.Info("segments sized", "terms", len(b.table.Terms), "postings", b.table.total(), "omitted", omitted)
	return nil
}

// PlaceDocuments writes each posting into the next free slot of its
// term's segment, applying the document id rewriter. Position sequences
// go to a scratch store and are copied to the final one during Finalize.
func (b *Builder) PlaceDocuments(ctx context.Context) error {
	if b.table == nil {
		t, err := loadSegmentTable(b.tempDir)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStageOrder, err)
		}
		b.table = t
		b.stats.Postings = t.total()
	}
	if b.slots != nil {
		_ = b.slots.Close()
		b.slots = nil
	}
	if b.scratch != nil {
		_ = b.scratch.Close()
		b.scratch = nil
	}

	arr, err := slots.New[posting](int(b.table.total()), slots.Options{
		TempDir:   b.tempDir,
		Threshold: b.opts.MemoryThreshold,
	})
	if err != nil {
		return err
	}
	b.slots = arr
	b.logger.Debug("placement array allocated", "slots", arr.Len(), "backend", arr.Backend())

	scratchPath := filepath.Join(b.tempDir, scratchPositionsFile)
	pw, err := positions.NewWriter(scratchPath, positions.Options{Logger: b.opts.Logger})
	if err != nil {
		return err
	}

	next := slices.Clone(b.table.offsets[:len(b.table.Terms)])
	_, _, err = b.eachEntry(ctx, StagePlacement, func(seq uint64, e *journal.Entry) error {
		doc := e.DocumentID
		if b.opts.Rewrite != nil {
			doc = b.opts.Rewrite(seq, e.Header)
		}
		for _, t := range e.Terms {
			i, ok := b.table.index[t.ID]
			if !ok || next[i] >= b.table.offsets[i+1] {
				return fmt.Errorf("%w: term %d", ErrJournalChanged, t.ID)
			}
			key, err := pw.Put(t.Positions)
			if err != nil {
				return err
			}
			arr.Set(int(next[i]), posting{Doc: uint64(doc), Pos: key, Meta: t.Meta})
			next[i]++
		}
		return nil
	})
	if cerr := pw.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close scratch positions: %w", cerr)
	}
	if err != nil {
		return err
	}
	for i := range next {
		if next[i] != b.table.offsets[i+1] {
			return fmt.Errorf("%w: term %d short of postings", ErrJournalChanged, b.table.Terms[i])
		}
	}

	b.scratch, err = positions.Open(scratchPath)
	return err
}

// SortSegments sorts every segment by document id across a worker pool
// and coalesces duplicate (document, term) postings: the first one seen
// keeps its positions and the metadata flags of all of them are OR'd.
func (b *Builder) SortSegments(ctx context.Context) error {
	if b.slots == nil {
		return ErrStageOrder
	}
	b.kept = make([]uint64, len(b.table.Terms))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.workers())

	var dups, sorted atomic.Uint64
	total := b.table.total()
	run := func(lo, hi int) {
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				start, end := b.table.segment(i)
				kept, d := sortAndCoalesce(b.slots.Slice(int(start), int(end)))
				b.kept[i] = uint64(kept)
				dups.Add(uint64(d))
				b.beat.report(StageSorting, sorted.Add(end-start), total)
			}
			return nil
		})
	}

	lo, batch := 0, uint64(0)
	for i := range b.table.Terms {
		batch += b.table.Counts[i]
		if batch >= sortBatch {
			run(lo, i+1)
			lo, batch = i+1, 0
		}
	}
	if lo < len(b.table.Terms) {
		run(lo, len(b.table.Terms))
	}
	if err := g.Wait(); err != nil {
		return err
	}

	b.stats.Duplicates = dups.Load()
	b.metrics.DuplicatesMerged.Add(float64(b.stats.Duplicates))
	return nil
}

func sortAndCoalesce(seg []posting) (kept, dups int) {
	slices.SortStableFunc(seg, func(a, b posting) int { return cmp.Compare(a.Doc, b.Doc) })
	for _, p := range seg {
		if kept > 0 && seg[kept-1].Doc == p.Doc {
			seg[kept-1].Meta |= p.Meta
			dups++
			continue
		}
		seg[kept] = p
		kept++
	}
	return kept, dups
}

// Finalize writes the lexicon, docs, values and positions files.
func (b *Builder) Finalize(ctx context.Context) (err error) {
	if b.slots == nil || b.kept == nil || b.scratch == nil {
		return ErrStageOrder
	}
	out := b.opts.OutputDir
	if err := os.MkdirAll(out, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	valuesPath := filepath.Join(out, format.ValuesFile)
	if b.opts.SkipValues {
		valuesPath = ""
	}
	docs, err := postings.NewWriter(filepath.Join(out, format.DocsFile), valuesPath)
	if err != nil {
		return err
	}
	pw, err := positions.NewWriter(filepath.Join(out, format.PositionsFile), positions.Options{
		Compress: b.opts.CompressPositions,
		Logger:   b.opts.Logger,
	})
	if err != nil {
		_ = docs.Close()
		return err
	}
	lex, err := lexicon.NewWriter(filepath.Join(out, format.LexiconFile))
	if err != nil {
		_ = docs.Close()
		_ = pw.Close()
		return err
	}

	closeAll := func() error {
		return errors.Join(docs.Close(), pw.Close(), lex.Close())
	}
	defer func() {
		if cerr := closeAll(); err == nil {
			err = cerr
		}
	}()

	var keys []uint64
	var vals []postings.Value
	total := uint64(len(b.table.Terms))
	for i, id := range b.table.Terms {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		start, _ := b.table.segment(i)
		seg := b.slots.Slice(int(start), int(start+b.kept[i]))

		keys, vals = keys[:0], vals[:0]
		for _, p := range seg {
			blob, err := b.scratch.Bytes(p.Pos)
			if err != nil {
				return err
			}
			key, err := pw.Put(blob)
			if err != nil {
				return err
			}
			keys = append(keys, p.Doc)
			vals = append(vals, postings.Value{Meta: p.Meta, Positions: key})
		}

		s, err := docs.WriteTerm(keys, vals)
		if err != nil {
			return fmt.Errorf("term %d: %w", id, err)
		}
		if err := lex.Add(termid.ID(id), s); err != nil {
			return err
		}
		b.beat.report(StageFinalize, uint64(i+1), total)
	}

	b.stats.Terms = total
	b.metrics.TermsWritten.Add(float64(total))
	b.metrics.PostingsWritten.Add(float64(docs.Entries()))
	b.logger.Info("index finalized", "terms", total, "postings", docs.Entries(), "positions_bytes", pw.Size())
	return nil
}
