package positions

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	seekable "github.com/SaveTheRbtz/zstd-seekable-format-go/pkg"

	"kestrel/internal/format"
	"kestrel/internal/mmapfile"
	"kestrel/internal/seqcodec"
)

// Reader looks up blobs by key. It is safe for concurrent use.
type Reader struct {
	path string

	// Uncompressed files are memory-mapped and served without copying.
	mapping *mmapfile.Mapping
	body    []byte

	// Compressed files go through a seekable reader.
	mu   sync.Mutex
	sr   seekable.Reader
	f    *os.File
	size uint64
}

// Open opens a completed positions file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}
	var hdr [format.HeaderSize]byte
	_, err = io.ReadFull(f, hdr[:])
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read header: %w", ErrCorrupt, path, err)
	}
	h, err := format.DecodeComplete(hdr[:], format.TypePositions, currentVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}

	if h.Flags&format.FlagCompressed != 0 {
		sr, f, err := openSeekable(path)
		if err != nil {
			return nil, err
		}
		end, err := sr.Seek(0, io.SeekEnd)
		if err != nil {
			_ = sr.Close()
			_ = f.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
		}
		return &Reader{path: path, sr: sr, f: f, size: uint64(end)}, nil
	}

	m, err := mmapfile.Open(path, mmapfile.AdviceRandom)
	if err != nil {
		return nil, err
	}
	body := m.Bytes()[format.HeaderSize:]
	return &Reader{path: path, mapping: m, body: body, size: uint64(len(body))}, nil
}

// Size returns the body size in bytes.
func (r *Reader) Size() uint64 { return r.size }

// Compressed reports whether the file is seekable zstd.
func (r *Reader) Compressed() bool { return r.sr != nil }

// Bytes returns the raw blob for key. NoPositions yields nil. For
// uncompressed files the result aliases the mapping and must not be
// modified.
func (r *Reader) Bytes(key Key) ([]byte, error) {
	if key == NoPositions {
		return nil, nil
	}
	off, n := key.Offset(), uint64(key.Len())
	if off > r.size || n > r.size-off {
		return nil, fmt.Errorf("%w: key %#x beyond %d bytes", ErrCorrupt, uint64(key), r.size)
	}
	if r.sr == nil {
		return r.body[off : off+n : off+n], nil
	}

	buf := make([]byte, n)
	r.mu.Lock()
	_, err := r.sr.ReadAt(buf, int64(off))
	r.mu.Unlock()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: read key %#x: %w", ErrCorrupt, uint64(key), err)
	}
	return buf, nil
}

// Get returns the decoded position sequence for key. NoPositions yields an
// empty sequence and no error.
func (r *Reader) Get(key Key) (seqcodec.Sequence, error) {
	b, err := r.Bytes(key)
	if err != nil {
		return seqcodec.Sequence{}, err
	}
	seq, err := seqcodec.Decode(b)
	if err != nil {
		return seqcodec.Sequence{}, fmt.Errorf("%w: key %#x: %w", ErrCorrupt, uint64(key), err)
	}
	return seq, nil
}

// Close releases the file. Outstanding slices returned by Bytes become
// invalid once the mapping is gone.
func (r *Reader) Close() error {
	if r.mapping != nil {
		return r.mapping.Release()
	}
	err := r.sr.Close()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}
