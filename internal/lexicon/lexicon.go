// Package lexicon maps term ids to posting segments with a vellum FST.
//
// File layout:
//
//	format header (4, type 'w') | reserved (4)
//	vellum FST bytes, keyed by the big-endian term id
//
// Big-endian keys make the FST's byte order match numeric term-id order.
package lexicon

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/blevesearch/vellum"

	"kestrel/internal/format"
	"kestrel/internal/mmapfile"
	"kestrel/internal/postings"
	"kestrel/internal/termid"
)

const (
	currentVersion = 0x01
	fileHeaderSize = 8
)

var (
	ErrOutOfOrder = errors.New("lexicon terms not strictly ascending")
	ErrCorrupt    = errors.New("lexicon corrupt")
)

func termKey(buf *[8]byte, id termid.ID) []byte {
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return buf[:]
}

// Writer builds a lexicon file. Terms must be added in ascending order.
type Writer struct {
	f       *os.File
	bw      *bufio.Writer
	builder *vellum.Builder
	last    termid.ID
	n       int
	key     [8]byte
}

// NewWriter creates the lexicon file at path.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create lexicon: %w", err)
	}
	bw := bufio.NewWriter(f)
	var hdr [fileHeaderSize]byte
	format.Header{Type: format.TypeLexicon, Version: currentVersion}.EncodeInto(hdr[:])
	if _, err := bw.Write(hdr[:]); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lexicon header: %w", err)
	}
	b, err := vellum.New(bw, nil)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create fst builder: %w", err)
	}
	return &Writer{f: f, bw: bw, builder: b}, nil
}

// Add records the segment of term id.
func (w *Writer) Add(id termid.ID, seg postings.Segment) error {
	if w.n > 0 && id <= w.last {
		return fmt.Errorf("%w: %d after %d", ErrOutOfOrder, id, w.last)
	}
	if err := w.builder.Insert(termKey(&w.key, id), uint64(seg)); err != nil {
		return fmt.Errorf("insert term %d: %w", id, err)
	}
	w.last = id
	w.n++
	return nil
}

// Len returns the number of terms added.
func (w *Writer) Len() int { return w.n }

// Close finishes the FST and marks the file complete.
func (w *Writer) Close() error {
	if err := w.builder.Close(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("finish fst: %w", err)
	}
	if err := w.bw.Flush(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("flush lexicon: %w", err)
	}
	var hdr [format.HeaderSize]byte
	format.Header{Type: format.TypeLexicon, Version: currentVersion, Flags: format.FlagComplete}.EncodeInto(hdr[:])
	if _, err := w.f.WriteAt(hdr[:], 0); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("finalize lexicon header: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("sync lexicon: %w", err)
	}
	return w.f.Close()
}

// Lexicon is a read-only, memory-mapped term lookup table. It is safe for
// concurrent use.
type Lexicon struct {
	mapping *mmapfile.Mapping
	fst     *vellum.FST
}

// Open maps and loads the lexicon at path.
func Open(path string) (*Lexicon, error) {
	m, err := mmapfile.Open(path, mmapfile.AdviceRandom)
	if err != nil {
		return nil, fmt.Errorf("open lexicon: %w", err)
	}
	data := m.Bytes()
	if len(data) < fileHeaderSize {
		_ = m.Release()
		return nil, fmt.Errorf("%w: %s: short header", ErrCorrupt, path)
	}
	if _, err := format.DecodeComplete(data, format.TypeLexicon, currentVersion); err != nil {
		_ = m.Release()
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}
	fst, err := vellum.Load(data[fileHeaderSize:])
	if err != nil {
		_ = m.Release()
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}
	return &Lexicon{mapping: m, fst: fst}, nil
}

// Lookup returns the segment of term id.
func (l *Lexicon) Lookup(id termid.ID) (postings.Segment, bool, error) {
	var key [8]byte
	v, ok, err := l.fst.Get(termKey(&key, id))
	if err != nil {
		return 0, false, fmt.Errorf("%w: lookup %d: %w", ErrCorrupt, id, err)
	}
	return postings.Segment(v), ok, nil
}

// Len returns the number of terms.
func (l *Lexicon) Len() int { return l.fst.Len() }

// Each calls fn for every term in ascending id order until fn returns an
// error.
func (l *Lexicon) Each(fn func(termid.ID, postings.Segment) error) error {
	it, err := l.fst.Iterator(nil, nil)
	for err == nil {
		k, v := it.Current()
		if len(k) != 8 {
			return fmt.Errorf("%w: key of %d bytes", ErrCorrupt, len(k))
		}
		if ferr := fn(termid.ID(binary.BigEndian.Uint64(k)), postings.Segment(v)); ferr != nil {
			return ferr
		}
		err = it.Next()
	}
	if errors.Is(err, vellum.ErrIteratorDone) {
		return nil
	}
	return fmt.Errorf("%w: iterate: %w", ErrCorrupt, err)
}

// Close releases the mapping.
func (l *Lexicon) Close() error {
	ferr := l.fst.Close()
	if err := l.mapping.Release(); err != nil {
		return err
	}
	return ferr
}
