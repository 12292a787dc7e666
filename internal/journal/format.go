package journal

import (
	"encoding/binary"
	"errors"

	"kestrel/internal/docid"
	"kestrel/internal/format"
	"kestrel/internal/termid"
)

// File layout:
//
//	File header (fixed, uncompressed, FileHeaderSize bytes):
//	  format header (4) | reserved (4) | entryCount (8) | reserved (16)
//	Blocks (repeated):
//	  compressedLen (4) | rawLen (4) | zstd frame (compressedLen)
//
// Entry layout inside a decompressed block:
//
//	entrySize (2) | docSize (2) | features (4) | documentId (8) | documentMeta (8)
//	then per term:
//	  termId (8) | termMeta (2) | positionByteLen (2) | positionBytes
//
// entrySize covers the whole entry including its own two bytes. Entries
// never straddle blocks.
const (
	currentVersion = 0x01

	FileHeaderSize   = 32
	entryCountOffset = 8

	blockHeaderSize = 8

	entryHeaderSize = 2 + 2 + 4 + 8 + 8
	termHeaderSize  = 8 + 2 + 2

	// MaxEntrySize is the largest entry representable by the u16 size prefix.
	MaxEntrySize = 0xFFFF

	maxDocSize = 0xFFFF
)

var (
	ErrCorrupt          = errors.New("journal corrupt")
	ErrEntryTooLarge    = errors.New("journal entry too large")
	ErrNoBody           = errors.New("journal entry has no terms")
	ErrWriterClosed     = errors.New("journal writer closed")
	ErrMismatchedTerms  = errors.New("term ids, metadata and positions differ in length")
	ErrIncompleteHeader = errors.New("journal header not marked complete")
)

// Header describes one document.
type Header struct {
	DocumentID   docid.ID
	DocSize      int // raw document size; clamped to 65535 on disk
	Features     uint32
	DocumentMeta uint64
}

// Term is one (term, metadata, positions) tuple of an entry.
type Term struct {
	ID        termid.ID
	Meta      uint16
	Positions []byte // coded position sequence, may be empty
}

// Entry is one decoded journal record.
type Entry struct {
	Header
	Terms []Term
}

func entrySize(positions [][]byte) int {
	size := entryHeaderSize
	for _, p := range positions {
		size += termHeaderSize + len(p)
	}
	return size
}

func encodeFileHeader(buf []byte, entries uint64, complete bool) {
	h := format.Header{Type: format.TypeJournal, Version: currentVersion}
	if complete {
		h.Flags |= format.FlagComplete
	}
	h.EncodeInto(buf)
	binary.LittleEndian.PutUint64(buf[entryCountOffset:], entries)
}

func appendEntry(dst []byte, h Header, termIDs []termid.ID, termMeta []uint16, positions [][]byte, size int) []byte {
	var hdr [entryHeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(size))
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(min(max(h.DocSize, 0), maxDocSize)))
	binary.LittleEndian.PutUint32(hdr[4:8], h.Features)
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(h.DocumentID))
	binary.LittleEndian.PutUint64(hdr[16:24], h.DocumentMeta)
	dst = append(dst, hdr[:]...)

	var th [termHeaderSize]byte
	for i, id := range termIDs {
		binary.LittleEndian.PutUint64(th[0:8], uint64(id))
		binary.LittleEndian.PutUint16(th[8:10], termMeta[i])
		binary.LittleEndian.PutUint16(th[10:12], uint16(len(positions[i])))
		dst = append(dst, th[:]...)
		dst = append(dst, positions[i]...)
	}
	return dst
}

// decodeEntry parses one entry from the front of buf, reusing terms.
// It returns the entry and its encoded size.
func decodeEntry(buf []byte, terms []Term) (Entry, int, error) {
	if len(buf) < entryHeaderSize {
		return Entry{}, 0, ErrCorrupt
	}
	size := int(binary.LittleEndian.Uint16(buf[0:2]))
	if size < entryHeaderSize || size > len(buf) {
		return Entry{}, 0, ErrCorrupt
	}
	e := Entry{
		Header: Header{
			DocSize:      int(binary.LittleEndian.Uint16(buf[2:4])),
			Features:     binary.LittleEndian.Uint32(buf[4:8]),
			DocumentID:   docid.ID(binary.LittleEndian.Uint64(buf[8:16])),
			DocumentMeta: binary.LittleEndian.Uint64(buf[16:24]),
		},
	}

	terms = terms[:0]
	body := buf[entryHeaderSize:size]
	for len(body) > 0 {
		if len(body) < termHeaderSize {
			return Entry{}, 0, ErrCorrupt
		}
		n := int(binary.LittleEndian.Uint16(body[10:12]))
		if termHeaderSize+n > len(body) {
			return Entry{}, 0, ErrCorrupt
		}
		terms = append(terms, Term{
			ID:        termid.ID(binary.LittleEndian.Uint64(body[0:8])),
			Meta:      binary.LittleEndian.Uint16(body[8:10]),
			Positions: body[termHeaderSize : termHeaderSize+n : termHeaderSize+n],
		})
		body = body[termHeaderSize+n:]
	}
	e.Terms = terms
	return e, size, nil
}
