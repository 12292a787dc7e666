package postings

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/ronanh/intcomp"

	"kestrel/internal/format"
)

// Writer appends term segments to a docs file and, optionally, a values
// file kept in lock-step.
type Writer struct {
	docs    *output
	values  *output // nil when values are not written
	words   []uint64
	seg     []byte
	valBuf  []byte
	terms   int
	entries uint64
	closed  bool
}

type output struct {
	f    *os.File
	bw   *bufio.Writer
	off  uint64
	kind byte
}

func createOutput(path string, kind byte) (*output, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	o := &output{f: f, bw: bufio.NewWriterSize(f, 256*1024), kind: kind}
	var hdr [fileHeaderSize]byte
	format.Header{Type: kind, Version: currentVersion}.EncodeInto(hdr[:])
	if err := o.write(hdr[:]); err != nil {
		_ = f.Close()
		return nil, err
	}
	return o, nil
}

func (o *output) write(p []byte) error {
	if _, err := o.bw.Write(p); err != nil {
		return err
	}
	o.off += uint64(len(p))
	return nil
}

func (o *output) finish() error {
	if err := o.bw.Flush(); err != nil {
		_ = o.f.Close()
		return err
	}
	var hdr [format.HeaderSize]byte
	format.Header{Type: o.kind, Version: currentVersion, Flags: format.FlagComplete}.EncodeInto(hdr[:])
	if _, err := o.f.WriteAt(hdr[:], 0); err != nil {
		_ = o.f.Close()
		return err
	}
	if err := o.f.Sync(); err != nil {
		_ = o.f.Close()
		return err
	}
	return o.f.Close()
}

func (o *output) abort() {
	_ = o.f.Close()
}

// NewWriter creates the docs file at docsPath and, if valuesPath is not
// empty, the values file.
func NewWriter(docsPath, valuesPath string) (*Writer, error) {
	docs, err := createOutput(docsPath, format.TypeDocs)
	if err != nil {
		return nil, fmt.Errorf("create docs file: %w", err)
	}
	w := &Writer{docs: docs}
	if valuesPath != "" {
		w.values, err = createOutput(valuesPath, format.TypeDocsValues)
		if err != nil {
			docs.abort()
			return nil, fmt.Errorf("create values file: %w", err)
		}
	}
	return w, nil
}

// WriteTerm writes one term's postings and returns the segment to record
// in the lexicon. keys must be strictly ascending. values is either nil
// (all zero) or parallel to keys. An empty keys slice still produces a
// segment.
func (w *Writer) WriteTerm(keys []uint64, values []Value) (Segment, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	if values != nil && len(values) != len(keys) {
		return 0, ErrValuesMismatch
	}
	for i := 1; i < len(keys); i++ {
		if keys[i] <= keys[i-1] {
			return 0, fmt.Errorf("%w: key %d at %d follows %d", ErrUnsorted, keys[i], i, keys[i-1])
		}
	}

	nblocks := (len(keys) + BlockSize - 1) / BlockSize
	dirLen := nblocks * dirEntrySize
	w.seg = append(w.seg[:0], make([]byte, segmentHeaderSize+dirLen)...)
	w.valBuf = w.valBuf[:0]

	for b := range nblocks {
		lo := b * BlockSize
		hi := min(lo+BlockSize, len(keys))
		block := keys[lo:hi]

		w.words = intcomp.CompressUint64(block, w.words[:0])
		payloadOff := len(w.seg) - segmentHeaderSize - dirLen
		if payloadOff+len(w.words)*8 > math.MaxUint32 {
			return 0, ErrSegmentTooLarge
		}
		for _, word := range w.words {
			w.seg = binary.LittleEndian.AppendUint64(w.seg, word)
		}

		valOff := len(w.valBuf)
		if w.values != nil {
			if valOff > math.MaxUint32 {
				return 0, ErrSegmentTooLarge
			}
			var vs []Value
			if values != nil {
				vs = values[lo:hi]
			}
			w.valBuf = appendValuesBlock(w.valBuf, vs, len(block))
		}

		dirEntry{
			min:    block[0],
			max:    block[len(block)-1],
			docOff: uint32(payloadOff),
			valOff: uint32(valOff),
			count:  uint32(len(block)),
			words:  uint32(len(w.words)),
		}.encode(w.seg[segmentHeaderSize+b*dirEntrySize:])
	}

	hdr := segmentHeader{
		count:        uint64(len(keys)),
		valuesOffset: noValues,
		blocks:       uint32(nblocks),
		payloadLen:   uint64(len(w.seg) - segmentHeaderSize - dirLen),
	}
	if w.values != nil {
		hdr.valuesOffset = w.values.off
		if err := w.values.write(w.valBuf); err != nil {
			return 0, fmt.Errorf("write values segment: %w", err)
		}
	}
	hdr.encode(w.seg)

	seg := Segment(w.docs.off)
	if err := w.docs.write(w.seg); err != nil {
		return 0, fmt.Errorf("write docs segment: %w", err)
	}
	w.terms++
	w.entries += uint64(len(keys))
	return seg, nil
}

func appendValuesBlock(dst []byte, vs []Value, n int) []byte {
	var maxMeta, maxPos uint64
	for _, v := range vs {
		maxMeta = max(maxMeta, uint64(v.Meta))
		maxPos = max(maxPos, uint64(v.Positions))
	}
	mw, pw := byteWidth(maxMeta), byteWidth(maxPos)
	dst = append(dst, byte(mw), byte(pw))

	start := len(dst)
	dst = append(dst, make([]byte, n*(mw+pw))...)
	body := dst[start:]
	for i, v := range vs {
		putUint(body[i*mw:], uint64(v.Meta), mw)
		putUint(body[n*mw+i*pw:], uint64(v.Positions), pw)
	}
	return dst
}

// Terms returns the number of segments written.
func (w *Writer) Terms() int { return w.terms }

// Entries returns the total number of postings written.
func (w *Writer) Entries() uint64 { return w.entries }

// Close flushes both files and marks them complete.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true
	if err := w.docs.finish(); err != nil {
		if w.values != nil {
			w.values.abort()
		}
		return fmt.Errorf("finish docs file: %w", err)
	}
	if w.values != nil {
		if err := w.values.finish(); err != nil {
			return fmt.Errorf("finish values file: %w", err)
		}
	}
	return nil
}
