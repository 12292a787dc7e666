// Package postings implements the skip-list postings store: per-term
// sorted document-id lists cut into fixed-capacity blocks, each with its
// key range recorded in a directory so readers can seek without decoding.
package postings

import (
	"encoding/binary"
	"errors"

	"kestrel/internal/positions"
)

// Docs file layout:
//
//	header: format header (4, type 'd') | reserved (4)
//	segments, one per term, at the offsets recorded in the lexicon:
//	  count (8) | valuesOffset (8) | blocks (4) | reserved (4) | payloadLen (8)
//	  directory, blocks x:
//	    min (8) | max (8) | docOff (4) | valOff (4) | count (4) | words (4)
//	  payload: per block, `words` little-endian uint64 words of intcomp output
//
// Values file layout (lock-step with docs, same block boundaries):
//
//	header: format header (4, type 'v') | reserved (4)
//	per segment, per block:
//	  metaWidth (1) | posWidth (1) | meta (count x metaWidth) | pos (count x posWidth)
//
// docOff is relative to the segment payload; valOff is relative to the
// segment's valuesOffset. Widths are the fewest bytes that hold every
// value in the block; zero means all values are zero.
const (
	currentVersion = 0x01

	fileHeaderSize    = 8
	segmentHeaderSize = 32
	dirEntrySize      = 32
	valuesBlockHeader = 2

	// BlockSize is the number of postings per skip-list block.
	BlockSize = 128

	noValues = ^uint64(0)
)

var (
	ErrCorrupt         = errors.New("postings corrupt")
	ErrBudgetExceeded  = errors.New("query budget exceeded")
	ErrUnsorted        = errors.New("posting keys not strictly ascending")
	ErrValuesMismatch  = errors.New("posting values length differs from keys")
	ErrSegmentTooLarge = errors.New("posting segment too large")
	ErrWriterClosed    = errors.New("postings writer closed")
)

// Segment is the offset of one term's posting list in the docs file.
type Segment uint64

// Value is the per-posting data kept in the values file.
type Value struct {
	Meta      uint16
	Positions positions.Key
}

// Block is a decoded block as held by the block cache. Docs blocks carry
// Keys, values blocks carry Values.
type Block struct {
	Keys   []uint64
	Values []Value
}

type segmentHeader struct {
	count        uint64
	valuesOffset uint64
	blocks       uint32
	payloadLen   uint64
}

func (h segmentHeader) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], h.count)
	binary.LittleEndian.PutUint64(buf[8:16], h.valuesOffset)
	binary.LittleEndian.PutUint32(buf[16:20], h.blocks)
	binary.LittleEndian.PutUint32(buf[20:24], 0)
	binary.LittleEndian.PutUint64(buf[24:32], h.payloadLen)
}

func decodeSegmentHeader(buf []byte) segmentHeader {
	return segmentHeader{
		count:        binary.LittleEndian.Uint64(buf[0:8]),
		valuesOffset: binary.LittleEndian.Uint64(buf[8:16]),
		blocks:       binary.LittleEndian.Uint32(buf[16:20]),
		payloadLen:   binary.LittleEndian.Uint64(buf[24:32]),
	}
}

type dirEntry struct {
	min, max uint64
	docOff   uint32
	valOff   uint32
	count    uint32
	words    uint32
}

func (e dirEntry) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], e.min)
	binary.LittleEndian.PutUint64(buf[8:16], e.max)
	binary.LittleEndian.PutUint32(buf[16:20], e.docOff)
	binary.LittleEndian.PutUint32(buf[20:24], e.valOff)
	binary.LittleEndian.PutUint32(buf[24:28], e.count)
	binary.LittleEndian.PutUint32(buf[28:32], e.words)
}

func decodeDirEntry(buf []byte) dirEntry {
	return dirEntry{
		min:    binary.LittleEndian.Uint64(buf[0:8]),
		max:    binary.LittleEndian.Uint64(buf[8:16]),
		docOff: binary.LittleEndian.Uint32(buf[16:20]),
		valOff: binary.LittleEndian.Uint32(buf[20:24]),
		count:  binary.LittleEndian.Uint32(buf[24:28]),
		words:  binary.LittleEndian.Uint32(buf[28:32]),
	}
}

// byteWidth returns the number of bytes needed to hold v.
func byteWidth(v uint64) int {
	n := 0
	for v != 0 {
		n++
		v >>= 8
	}
	return n
}

func putUint(buf []byte, v uint64, width int) {
	for i := range width {
		buf[i] = byte(v >> (8 * i))
	}
}

func getUint(buf []byte, width int) uint64 {
	var v uint64
	for i := range width {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}
