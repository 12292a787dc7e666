package positions

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"kestrel/internal/format"
	"kestrel/internal/logging"
)

// Options configures a Writer.
type Options struct {
	// Compress rewrites the finished file as seekable zstd on Close.
	Compress bool
	Logger   *slog.Logger
}

// Writer appends blobs. It is used by a single goroutine during
// construction and closed before any Reader opens the file.
type Writer struct {
	f        *os.File
	bw       *bufio.Writer
	path     string
	offset   uint64
	blobs    int
	compress bool
	logger   *slog.Logger
	closed   bool
}

// NewWriter creates the positions file at path.
func NewWriter(path string, opts Options) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create positions file: %w", err)
	}
	bw := bufio.NewWriterSize(f, 256*1024)
	hdr := format.Header{Type: format.TypePositions, Version: currentVersion}.Encode()
	if _, err := bw.Write(hdr[:]); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write positions header: %w", err)
	}
	return &Writer{
		f:        f,
		bw:       bw,
		path:     path,
		compress: opts.Compress,
		logger:   logging.Default(opts.Logger).With("component", "positions", "path", path),
	}, nil
}

// Put appends blob and returns its key. An empty blob is not stored and
// yields NoPositions.
func (w *Writer) Put(blob []byte) (Key, error) {
	if w.closed {
		return NoPositions, ErrClosed
	}
	if len(blob) == 0 {
		return NoPositions, nil
	}
	if len(blob) > MaxBlobSize {
		return NoPositions, fmt.Errorf("%w: %d bytes", ErrBlobTooLarge, len(blob))
	}
	if w.offset > MaxOffset-uint64(len(blob)) {
		return NoPositions, ErrStoreFull
	}
	if _, err := w.bw.Write(blob); err != nil {
		return NoPositions, fmt.Errorf("write position blob: %w", err)
	}
	k := MakeKey(w.offset, len(blob))
	w.offset += uint64(len(blob))
	w.blobs++
	return k, nil
}

// Size returns the number of body bytes written.
func (w *Writer) Size() uint64 { return w.offset }

// Close flushes the body, marks the header complete and, if requested,
// compresses the file in place.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true

	if err := w.bw.Flush(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("flush positions: %w", err)
	}
	hdr := format.Header{Type: format.TypePositions, Version: currentVersion, Flags: format.FlagComplete}.Encode()
	if _, err := w.f.WriteAt(hdr[:], 0); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("finalize positions header: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("sync positions: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close positions: %w", err)
	}

	if w.compress {
		if err := compressFile(w.path, 0o644); err != nil {
			return fmt.Errorf("compress positions: %w", err)
		}
	}
	w.logger.Debug("positions closed", "blobs", w.blobs, "bytes", w.offset, "compressed", w.compress)
	return nil
}
