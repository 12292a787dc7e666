package seqcodec

import (
	"encoding/binary"
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		values []uint32
	}{
		{"empty", nil},
		{"single", []uint32{7}},
		{"zero", []uint32{0}},
		{"partial group", []uint32{1, 5, 9}},
		{"full group", []uint32{1, 2, 3, 4}},
		{"repeats", []uint32{50, 50, 51, 51, 51}},
		{"wide deltas", []uint32{0, 255, 256, 65535, 65536, 1 << 24, math.MaxUint32}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Encode(tt.values)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			seq, err := Decode(buf)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if seq.Len() != len(tt.values) {
				t.Fatalf("len: want %d, got %d", len(tt.values), seq.Len())
			}
			got := seq.Values()
			if !slices.Equal(got, tt.values) && !(len(got) == 0 && len(tt.values) == 0) {
				t.Fatalf("want %v, got %v", tt.values, got)
			}
		})
	}
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 500; i++ {
		n := rng.IntN(200)
		values := make([]uint32, n)
		var v uint32
		for j := range values {
			v += uint32(rng.IntN(1 << uint(rng.IntN(20)+1)))
			values[j] = v
		}
		buf, err := Encode(values)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		seq, err := Decode(buf)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got := seq.Values(); !slices.Equal(got, values) {
			t.Fatalf("round trip %d: want %v, got %v", i, values, got)
		}
	}
}

func TestIteratorRestartable(t *testing.T) {
	buf, _ := Encode([]uint32{3, 6, 9, 12, 15})
	seq, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	it := seq.Iterator()
	it.Next()
	it.Next()

	again := seq.Iterator()
	first, ok := again.Next()
	if !ok || first != 3 {
		t.Fatalf("fresh iterator should start over, got %d %v", first, ok)
	}
}

func TestIteratorExhausts(t *testing.T) {
	buf, _ := Encode([]uint32{1})
	seq, _ := Decode(buf)
	it := seq.Iterator()
	if _, ok := it.Next(); !ok {
		t.Fatal("expected a value")
	}
	if _, ok := it.Next(); ok {
		t.Fatal("expected exhaustion")
	}
	if _, ok := it.Next(); ok {
		t.Fatal("exhausted iterator must stay exhausted")
	}
}

func TestEncodeUnordered(t *testing.T) {
	_, err := Encode([]uint32{5, 4})
	if !errors.Is(err, ErrUnordered) {
		t.Fatalf("expected ErrUnordered, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	good, _ := Encode([]uint32{1, 2, 3, 4, 5, 6, 7, 8, 9})
	tests := []struct {
		name string
		buf  []byte
	}{
		{"truncated", good[:len(good)-1]},
		{"trailing", append(slices.Clone(good), 0)},
		{"bad count", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"count without groups", []byte{9}},
		{"count near max uint64", binary.AppendUvarint(nil, ^uint64(0))},
		{"count wraps with one group", append(binary.AppendUvarint(nil, ^uint64(0)-2), 0, 0, 0, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.buf); !errors.Is(err, ErrMalformedSequence) {
				t.Fatalf("expected ErrMalformedSequence, got %v", err)
			}
		})
	}
}

func TestPrefixedInline(t *testing.T) {
	buf := []byte("head")
	buf, err := AppendPrefixed(buf, []uint32{50, 51})
	if err != nil {
		t.Fatal(err)
	}
	buf, err = AppendPrefixed(buf, []uint32{50, 52})
	if err != nil {
		t.Fatal(err)
	}

	rest := buf[len("head"):]
	first, rest, err := ReadPrefixed(rest)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, rest, err := ReadPrefixed(rest)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes, got %d", len(rest))
	}
	if !slices.Equal(first.Values(), []uint32{50, 51}) || !slices.Equal(second.Values(), []uint32{50, 52}) {
		t.Fatalf("got %v and %v", first.Values(), second.Values())
	}
}

func TestReadPrefixedOverrun(t *testing.T) {
	if _, _, err := ReadPrefixed([]byte{10, 0, 1}); !errors.Is(err, ErrMalformedSequence) {
		t.Fatalf("expected ErrMalformedSequence, got %v", err)
	}
}
