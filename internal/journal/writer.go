package journal

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"

	"github.com/klauspost/compress/zstd"

	"kestrel/internal/logging"
	"kestrel/internal/termid"
)

// DefaultBlockSize is the staging buffer capacity. It must hold at least
// one maximum-size entry.
const DefaultBlockSize = 1 << 20

// Options configures a Writer.
type Options struct {
	// BlockSize is the staging buffer capacity in bytes. Values below
	// MaxEntrySize are raised to MaxEntrySize.
	BlockSize int
	// Level is the zstd encoder level. Zero selects zstd.SpeedDefault.
	Level  zstd.EncoderLevel
	Logger *slog.Logger
}

// Writer appends entries to a journal file. It is not safe for concurrent
// use; a journal has exactly one writer.
type Writer struct {
	f       *os.File
	enc     *zstd.Encoder
	logger  *slog.Logger
	staging []byte
	block   []byte
	limit   int

	count   uint64
	omitted uint64
	closed  bool
}

// NewWriter creates (or truncates) the journal file at path. The header is
// reserved immediately and rewritten with the final entry count on Close.
func NewWriter(path string, opts Options) (*Writer, error) {
	limit := opts.BlockSize
	if limit <= 0 {
		limit = DefaultBlockSize
	}
	limit = max(limit, MaxEntrySize)

	level := opts.Level
	if level == 0 {
		level = zstd.SpeedDefault
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create journal: %w", err)
	}

	var hdr [FileHeaderSize]byte
	encodeFileHeader(hdr[:], 0, false)
	if _, err := f.Write(hdr[:]); err != nil {
		_ = f.Close()
		enc.Close()
		return nil, fmt.Errorf("write journal header: %w", err)
	}

	return &Writer{
		f:       f,
		enc:     enc,
		logger:  logging.Default(opts.Logger).With("component", "journal", "path", path),
		staging: make([]byte, 0, limit),
		limit:   limit,
	}, nil
}

// Append writes one document entry. Entries whose encoded size exceeds
// MaxEntrySize, and entries without any term, are omitted with a warning
// and do not count toward Count. The three term slices must have equal
// length.
func (w *Writer) Append(h Header, termIDs []termid.ID, termMeta []uint16, positions [][]byte) error {
	if w.closed {
		return ErrWriterClosed
	}
	if len(termIDs) != len(termMeta) || len(termIDs) != len(positions) {
		return ErrMismatchedTerms
	}
	if len(termIDs) == 0 {
		w.omitted++
		w.logger.Warn("omitting journal entry", "doc", h.DocumentID, "error", ErrNoBody)
		return nil
	}

	size := entrySize(positions)
	if size > MaxEntrySize {
		w.omitted++
		w.logger.Warn("omitting journal entry", "doc", h.DocumentID, "size", size, "error", ErrEntryTooLarge)
		return nil
	}

	if len(w.staging)+size > w.limit {
		if err := w.flush(); err != nil {
			return err
		}
	}
	w.staging = appendEntry(w.staging, h, termIDs, termMeta, positions, size)
	w.count++
	return nil
}

// Count returns the number of entries appended so far.
func (w *Writer) Count() uint64 { return w.count }

// Omitted returns the number of entries dropped by Append.
func (w *Writer) Omitted() uint64 { return w.omitted }

func (w *Writer) flush() error {
	if len(w.staging) == 0 {
		return nil
	}
	w.block = w.enc.EncodeAll(w.staging, w.block[:0])

	var bh [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(bh[0:4], uint32(len(w.block)))
	binary.LittleEndian.PutUint32(bh[4:8], uint32(len(w.staging)))
	if _, err := w.f.Write(bh[:]); err != nil {
		return fmt.Errorf("write journal block header: %w", err)
	}
	if _, err := w.f.Write(w.block); err != nil {
		return fmt.Errorf("write journal block: %w", err)
	}
	w.staging = w.staging[:0]
	return nil
}

// Close flushes the staging buffer, records the entry count in the header
// and marks the journal complete. Close must be called exactly once;
// later calls return ErrWriterClosed.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true
	defer w.enc.Close()

	if err := w.flush(); err != nil {
		_ = w.f.Close()
		return err
	}

	var hdr [FileHeaderSize]byte
	encodeFileHeader(hdr[:], w.count, true)
	if _, err := w.f.WriteAt(hdr[:], 0); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("finalize journal header: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("sync journal: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	w.logger.Debug("journal closed", "entries", w.count, "omitted", w.omitted)
	return nil
}
