// Package seqcodec encodes ordered sequences of small non-negative integers,
// such as the word positions of a term within a document.
//
// Layout:
//
//	count (uvarint) | groups...
//
// Values are delta coded and the deltas are packed four at a time with
// group varint: one tag byte holding four 2-bit lengths, then 1-4 bytes per
// delta. A trailing partial group is zero padded to four; count says how
// many of its slots are real.
package seqcodec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgryski/go-groupvarint"
)

var (
	ErrMalformedSequence = errors.New("malformed sequence")
	ErrUnordered         = errors.New("sequence values must be non-decreasing")
	ErrTooLong           = errors.New("sequence too long for inline prefix")
)

// maxGroupBytes is the largest encoding of one group: tag + 4*4 bytes.
const maxGroupBytes = 17

// PrefixSize is the width of the inline length prefix used by AppendPrefixed.
const PrefixSize = 2

// Encode returns the encoding of values.
func Encode(values []uint32) ([]byte, error) {
	return AppendEncoded(nil, values)
}

// AppendEncoded appends the encoding of values to dst.
func AppendEncoded(dst []byte, values []uint32) ([]byte, error) {
	dst = binary.AppendUvarint(dst, uint64(len(values)))

	var (
		scratch [maxGroupBytes]byte
		group   [4]uint32
		prev    uint32
	)
	for i := 0; i < len(values); i += 4 {
		group = [4]uint32{}
		for j := 0; j < 4 && i+j < len(values); j++ {
			v := values[i+j]
			if v < prev {
				return nil, fmt.Errorf("%w: %d after %d", ErrUnordered, v, prev)
			}
			group[j] = v - prev
			prev = v
		}
		dst = append(dst, groupvarint.Encode4(scratch[:], group[:])...)
	}
	return dst, nil
}

// AppendPrefixed appends a u16 byte-length prefix followed by the encoding,
// for embedding a sequence inline in a larger buffer.
func AppendPrefixed(dst []byte, values []uint32) ([]byte, error) {
	start := len(dst)
	dst = append(dst, 0, 0)
	dst, err := AppendEncoded(dst, values)
	if err != nil {
		return nil, err
	}
	n := len(dst) - start - PrefixSize
	if n > 0xFFFF {
		return nil, ErrTooLong
	}
	binary.LittleEndian.PutUint16(dst[start:], uint16(n))
	return dst, nil
}

// ReadPrefixed decodes a sequence written by AppendPrefixed and returns the
// bytes following it.
func ReadPrefixed(buf []byte) (Sequence, []byte, error) {
	if len(buf) < PrefixSize {
		return Sequence{}, nil, fmt.Errorf("%w: missing length prefix", ErrMalformedSequence)
	}
	n := int(binary.LittleEndian.Uint16(buf))
	buf = buf[PrefixSize:]
	if n > len(buf) {
		return Sequence{}, nil, fmt.Errorf("%w: prefix %d exceeds %d remaining bytes", ErrMalformedSequence, n, len(buf))
	}
	seq, err := Decode(buf[:n])
	if err != nil {
		return Sequence{}, nil, err
	}
	return seq, buf[n:], nil
}

// Sequence is a validated, still-encoded sequence. Decoding happens lazily
// through Iterator. The zero Sequence is empty.
type Sequence struct {
	count  int
	groups []byte
}

// Decode validates buf and returns a lazily decoded view over it. The
// whole buffer must be consumed by the sequence; trailing bytes are an error.
func Decode(buf []byte) (Sequence, error) {
	if len(buf) == 0 {
		return Sequence{}, nil
	}
	count, n := binary.Uvarint(buf)
	if n <= 0 {
		return Sequence{}, fmt.Errorf("%w: bad count", ErrMalformedSequence)
	}
	groups := buf[n:]
	// Every group holds four values, so count is bounded by the bytes left.
	// Checking before rounding up keeps counts near 2^64 from wrapping.
	if count > uint64(len(groups))*4 {
		return Sequence{}, fmt.Errorf("%w: %d values cannot fit in %d bytes", ErrMalformedSequence, count, len(groups))
	}
	want := (count + 3) / 4
	if want > uint64(len(groups)) {
		return Sequence{}, fmt.Errorf("%w: %d values cannot fit in %d bytes", ErrMalformedSequence, count, len(groups))
	}

	off := 0
	for g := uint64(0); g < want; g++ {
		if off >= len(groups) {
			return Sequence{}, fmt.Errorf("%w: truncated at group %d", ErrMalformedSequence, g)
		}
		off += int(groupvarint.BytesUsed[groups[off]])
		if off > len(groups) {
			return Sequence{}, fmt.Errorf("%w: truncated at group %d", ErrMalformedSequence, g)
		}
	}
	if off != len(groups) {
		return Sequence{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedSequence, len(groups)-off)
	}
	return Sequence{count: int(count), groups: groups}, nil
}

// Len returns the number of values.
func (s Sequence) Len() int {
	return s.count
}

// Values decodes the whole sequence.
func (s Sequence) Values() []uint32 {
	out := make([]uint32, 0, s.count)
	it := s.Iterator()
	for v, ok := it.Next(); ok; v, ok = it.Next() {
		out = append(out, v)
	}
	return out
}

// Iterator returns a fresh iterator positioned before the first value.
// A Sequence may be iterated any number of times.
func (s Sequence) Iterator() Iterator {
	return Iterator{seq: s}
}

// Iterator decodes a Sequence one group at a time.
type Iterator struct {
	seq   Sequence
	off   int
	pos   int
	slot  int
	prev  uint32
	group [4]uint32
}

// Next returns the next value, or false when the sequence is exhausted.
func (it *Iterator) Next() (uint32, bool) {
	if it.pos >= it.seq.count {
		return 0, false
	}
	if it.slot == 0 {
		it.load()
	}
	it.prev += it.group[it.slot]
	it.slot = (it.slot + 1) % 4
	it.pos++
	return it.prev, true
}

func (it *Iterator) load() {
	// Decode from a padded copy: Decode4 may read a full word past the
	// group's last byte and the group can sit at the end of a mapping.
	var scratch [maxGroupBytes + 3]byte
	src := it.seq.groups[it.off:]
	used := int(groupvarint.BytesUsed[src[0]])
	copy(scratch[:], src[:used])
	groupvarint.Decode4(it.group[:], scratch[:])
	it.off += used
}
