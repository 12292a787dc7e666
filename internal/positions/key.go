// Package positions stores coded position sequences as opaque blobs in a
// single append-only file. Each blob is addressed by the Key returned when
// it was written.
//
// File layout:
//
//	format header (4 bytes, type 'p')
//	body: concatenated blobs, or a seekable zstd stream of the same bytes
//	when FlagCompressed is set
//
// A Key packs the blob's body offset and length as offset<<16 | length.
// The zero Key means "no positions".
package positions

import "errors"

const (
	currentVersion = 0x01

	lenBits = 16
	// MaxBlobSize is the largest blob a Key can address.
	MaxBlobSize = 1<<lenBits - 1
	// MaxOffset is the largest body offset a Key can address.
	MaxOffset = 1<<(64-lenBits) - 1
)

var (
	ErrBlobTooLarge = errors.New("position blob too large")
	ErrStoreFull    = errors.New("positions store exceeds addressable size")
	ErrCorrupt      = errors.New("positions store corrupt")
	ErrClosed       = errors.New("positions store closed")
)

// Key addresses one blob.
type Key uint64

// NoPositions is the key of an empty blob.
const NoPositions Key = 0

// MakeKey packs a body offset and blob length.
func MakeKey(offset uint64, length int) Key {
	return Key(offset<<lenBits | uint64(length)&MaxBlobSize)
}

// Offset returns the blob's byte offset in the body.
func (k Key) Offset() uint64 { return uint64(k) >> lenBits }

// Len returns the blob length.
func (k Key) Len() int { return int(uint64(k) & MaxBlobSize) }
