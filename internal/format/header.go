// Package format provides the binary header shared by every index file.
package format

import "errors"

// Header layout (4 bytes):
//
//	signature (1 byte, 'k' = 0x6b)
//	type (1 byte, identifies format)
//	version (1 byte)
//	flags (1 byte)
//
// Type codes:
//
//	'j' = journal
//	'w' = word lexicon
//	'd' = docs (skip-list postings)
//	'v' = docs values (lock-step with docs)
//	'p' = positions
//	's' = preindex segment table checkpoint
const (
	Signature  = 'k'
	HeaderSize = 4

	TypeJournal      = 'j'
	TypeLexicon      = 'w'
	TypeDocs         = 'd'
	TypeDocsValues   = 'v'
	TypePositions    = 'p'
	TypeSegmentTable = 's'

	// FlagComplete indicates the file was fully written (not a partial/crashed write).
	FlagComplete = 0x01
	// FlagCompressed indicates the body after the header is seekable zstd.
	FlagCompressed = 0x02
)

var (
	ErrHeaderTooSmall    = errors.New("header too small")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrVersionMismatch   = errors.New("version mismatch")
	ErrIncomplete        = errors.New("file not marked complete")
)

// Header represents the common 4-byte header.
type Header struct {
	Type    byte
	Version byte
	Flags   byte
}

// Encode writes the header to a 4-byte array.
func (h Header) Encode() [HeaderSize]byte {
	return [HeaderSize]byte{Signature, h.Type, h.Version, h.Flags}
}

// EncodeInto writes the header into the given buffer at offset 0.
// Returns the number of bytes written (always HeaderSize).
func (h Header) EncodeInto(buf []byte) int {
	buf[0] = Signature
	buf[1] = h.Type
	buf[2] = h.Version
	buf[3] = h.Flags
	return HeaderSize
}

// Decode reads a header from the given buffer.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrHeaderTooSmall
	}
	if buf[0] != Signature {
		return Header{}, ErrSignatureMismatch
	}
	return Header{
		Type:    buf[1],
		Version: buf[2],
		Flags:   buf[3],
	}, nil
}

// DecodeAndValidate reads a header and validates the type and version.
func DecodeAndValidate(buf []byte, expectedType, expectedVersion byte) (Header, error) {
	h, err := Decode(buf)
	if err != nil {
		return Header{}, err
	}
	if h.Type != expectedType {
		return Header{}, ErrTypeMismatch
	}
	if h.Version != expectedVersion {
		return Header{}, ErrVersionMismatch
	}
	return h, nil
}

// DecodeComplete is DecodeAndValidate plus a check that FlagComplete is set.
// Readers of finalized generation files use it to refuse half-written output.
func DecodeComplete(buf []byte, expectedType, expectedVersion byte) (Header, error) {
	h, err := DecodeAndValidate(buf, expectedType, expectedVersion)
	if err != nil {
		return Header{}, err
	}
	if h.Flags&FlagComplete == 0 {
		return Header{}, ErrIncomplete
	}
	return h, nil
}

// File names inside a generation directory.
const (
	LexiconFile   = "lexicon.dat"
	DocsFile      = "docs.dat"
	ValuesFile    = "values.dat"
	PositionsFile = "positions.dat"
)
