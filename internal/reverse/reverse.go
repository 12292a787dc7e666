// Package reverse is the read-time facade over one index generation: the
// word lexicon, the skip-list postings store and the positions store.
//
// It only supplies facts (term presence, document counts, posting
// cursors, per-document metadata and positions); ranking happens
// elsewhere. All methods are safe for concurrent use, and no lock is held
// across a query.
package reverse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"kestrel/internal/blockcache"
	"kestrel/internal/docid"
	"kestrel/internal/format"
	"kestrel/internal/lexicon"
	"kestrel/internal/logging"
	"kestrel/internal/metrics"
	"kestrel/internal/positions"
	"kestrel/internal/postings"
	"kestrel/internal/seqcodec"
	"kestrel/internal/termid"
)

// Options configures an Index.
type Options struct {
	// Cache is shared with other indexes. When nil and CacheSize > 0 the
	// index creates its own.
	Cache     *blockcache.Cache[postings.Block]
	CacheSize int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Index serves one finalized generation directory.
type Index struct {
	dir     string
	lex     *lexicon.Lexicon
	store   *postings.Store
	pos     *positions.Reader
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Open opens the generation in dir. The values file is optional.
func Open(dir string, opts Options) (*Index, error) {
	logger := logging.Default(opts.Logger).With("component", "reverse-index", "dir", dir)
	m := metrics.Default(opts.Metrics)

	cache := opts.Cache
	if cache == nil && opts.CacheSize > 0 {
		c, err := blockcache.New[postings.Block](opts.CacheSize, m)
		if err != nil {
			return nil, err
		}
		cache = c
	}

	lex, err := lexicon.Open(filepath.Join(dir, format.LexiconFile))
	if err != nil {
		return nil, err
	}

	valuesPath := filepath.Join(dir, format.ValuesFile)
	if _, err := os.Stat(valuesPath); errors.Is(err, os.ErrNotExist) {
		valuesPath = ""
	}
	store, err := postings.Open(filepath.Join(dir, format.DocsFile), valuesPath, postings.Options{
		Cache:   cache,
		Metrics: m,
	})
	if err != nil {
		_ = lex.Close()
		return nil, err
	}

	pos, err := positions.Open(filepath.Join(dir, format.PositionsFile))
	if err != nil {
		_ = lex.Close()
		_ = store.Close()
		return nil, err
	}

	logger.Info("index opened", "terms", lex.Len(), "values", store.HasValues(), "compressed_positions", pos.Compressed())
	return &Index{dir: dir, lex: lex, store: store, pos: pos, logger: logger, metrics: m}, nil
}

// Dir returns the generation directory.
func (x *Index) Dir() string { return x.dir }

// NumTerms returns the number of distinct terms.
func (x *Index) NumTerms() int { return x.lex.Len() }

// EachTerm walks the lexicon in ascending term-id order.
func (x *Index) EachTerm(fn func(termid.ID, postings.Segment) error) error {
	return x.lex.Each(fn)
}

func (x *Index) lookup(id termid.ID) (postings.Segment, bool, error) {
	seg, ok, err := x.lex.Lookup(id)
	if err != nil {
		x.metrics.CorruptErrors.WithLabelValues("lexicon").Inc()
	}
	return seg, ok, err
}

// HasTerm reports whether id occurs in any document.
func (x *Index) HasTerm(id termid.ID) (bool, error) {
	_, ok, err := x.lookup(id)
	return ok, err
}

// NumDocuments returns how many documents contain id; zero for unknown terms.
func (x *Index) NumDocuments(id termid.ID) (int, error) {
	seg, ok, err := x.lookup(id)
	if err != nil || !ok {
		return 0, err
	}
	return x.store.NumDocuments(seg)
}

// Documents returns a fresh cursor over id's postings. ok is false for
// unknown terms.
func (x *Index) Documents(id termid.ID) (src *postings.EntrySource, ok bool, err error) {
	seg, ok, err := x.lookup(id)
	if err != nil || !ok {
		return nil, false, err
	}
	src, err = x.store.Documents(seg)
	if err != nil {
		return nil, false, err
	}
	return src, true, nil
}

// IsWordInDoc reports whether doc contains id.
func (x *Index) IsWordInDoc(ctx context.Context, id termid.ID, doc docid.ID) (bool, error) {
	seg, ok, err := x.lookup(id)
	if err != nil || !ok {
		return false, err
	}
	return x.store.IsWordInDoc(ctx, seg, uint64(doc))
}

// TermMeta returns the metadata flags of (id, doc).
func (x *Index) TermMeta(ctx context.Context, id termid.ID, doc docid.ID) (uint16, bool, error) {
	v, ok, err := x.value(ctx, id, doc)
	return v.Meta, ok, err
}

// Positions returns the positions of id in doc. Postings without
// positions, and absent postings, yield an empty sequence.
func (x *Index) Positions(ctx context.Context, id termid.ID, doc docid.ID) (seqcodec.Sequence, error) {
	v, ok, err := x.value(ctx, id, doc)
	if err != nil || !ok {
		return seqcodec.Sequence{}, err
	}
	seq, err := x.pos.Get(v.Positions)
	if err != nil {
		x.metrics.CorruptErrors.WithLabelValues("positions").Inc()
		return seqcodec.Sequence{}, fmt.Errorf("term %d doc %d: %w", id, doc, err)
	}
	return seq, nil
}

func (x *Index) value(ctx context.Context, id termid.ID, doc docid.ID) (postings.Value, bool, error) {
	seg, ok, err := x.lookup(id)
	if err != nil || !ok {
		return postings.Value{}, false, err
	}
	return x.store.ValuesFor(ctx, seg, uint64(doc))
}

// Close releases the generation's files. Cursors obtained from the index
// must not be used afterwards.
func (x *Index) Close() error {
	err := errors.Join(x.store.Close(), x.pos.Close(), x.lex.Close())
	x.logger.Debug("index closed")
	return err
}
