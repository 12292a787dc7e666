package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"kestrel/internal/format"
)

// maxBlockSize bounds a single block so a corrupt length cannot trigger a
// huge allocation.
const maxBlockSize = 1 << 28

// zstdDec is shared by all readers; DecodeAll is safe for concurrent use.
var zstdDec, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

// Reader iterates the entries of a closed journal in write order.
type Reader struct {
	f     *os.File
	br    *bufio.Reader
	path  string
	count uint64
	read  uint64

	comp  []byte
	raw   []byte
	pos   int
	terms []Term
}

// Open opens a completed journal. A missing file, an unreadable header, or
// a journal that was never closed is an error.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	var hdr [FileHeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: read header: %w", ErrCorrupt, path, err)
	}
	if _, err := format.DecodeComplete(hdr[:], format.TypeJournal, currentVersion); err != nil {
		_ = f.Close()
		if errors.Is(err, format.ErrIncomplete) {
			return nil, fmt.Errorf("%w: %s", ErrIncompleteHeader, path)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}
	return &Reader{
		f:     f,
		br:    bufio.NewReaderSize(f, 64*1024),
		path:  path,
		count: binary.LittleEndian.Uint64(hdr[entryCountOffset:]),
	}, nil
}

// Count returns the entry count recorded in the header.
func (r *Reader) Count() uint64 { return r.count }

// Path returns the journal file path.
func (r *Reader) Path() string { return r.path }

// Next returns the next entry, or io.EOF after the last one. The returned
// entry's Terms and Positions are only valid until the following call.
func (r *Reader) Next() (Entry, error) {
	for r.pos >= len(r.raw) {
		if err := r.loadBlock(); err != nil {
			return Entry{}, err
		}
	}
	e, n, err := decodeEntry(r.raw[r.pos:], r.terms)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %s: entry %d", err, r.path, r.read)
	}
	r.terms = e.Terms
	r.pos += n
	r.read++
	return e, nil
}

func (r *Reader) loadBlock() error {
	var bh [blockHeaderSize]byte
	if _, err := io.ReadFull(r.br, bh[:]); err != nil {
		if errors.Is(err, io.EOF) {
			if r.read != r.count {
				return fmt.Errorf("%w: %s: read %d entries, header says %d", ErrCorrupt, r.path, r.read, r.count)
			}
			return io.EOF
		}
		return fmt.Errorf("%w: %s: truncated block header", ErrCorrupt, r.path)
	}
	compLen := binary.LittleEndian.Uint32(bh[0:4])
	rawLen := binary.LittleEndian.Uint32(bh[4:8])
	if compLen == 0 || rawLen == 0 || compLen > maxBlockSize || rawLen > maxBlockSize {
		return fmt.Errorf("%w: %s: bad block lengths %d/%d", ErrCorrupt, r.path, compLen, rawLen)
	}

	if cap(r.comp) < int(compLen) {
		r.comp = make([]byte, compLen)
	}
	r.comp = r.comp[:compLen]
	if _, err := io.ReadFull(r.br, r.comp); err != nil {
		return fmt.Errorf("%w: %s: truncated block", ErrCorrupt, r.path)
	}

	raw, err := zstdDec.DecodeAll(r.comp, r.raw[:0])
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorrupt, r.path, err)
	}
	if len(raw) != int(rawLen) {
		return fmt.Errorf("%w: %s: block decoded to %d bytes, want %d", ErrCorrupt, r.path, len(raw), rawLen)
	}
	r.raw = raw
	r.pos = 0
	return nil
}

// Close releases the file.
func (r *Reader) Close() error {
	return r.f.Close()
}
