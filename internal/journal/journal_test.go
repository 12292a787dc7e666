package journal

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"kestrel/internal/docid"
	"kestrel/internal/seqcodec"
	"kestrel/internal/termid"
)

func mustPositions(t *testing.T, values ...uint32) []byte {
	t.Helper()
	b, err := seqcodec.Encode(values)
	if err != nil {
		t.Fatalf("encode positions: %v", err)
	}
	return b
}

func writeJournal(t *testing.T, path string, opts Options, fn func(w *Writer)) {
	t.Helper()
	w, err := NewWriter(path, opts)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	fn(w)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func readAll(t *testing.T, it Iterator) []Entry {
	t.Helper()
	var out []Entry
	for {
		e, err := it.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		// Copy since Terms are reused by the reader.
		terms := make([]Term, len(e.Terms))
		for i, tm := range e.Terms {
			tm.Positions = append([]byte(nil), tm.Positions...)
			terms[i] = tm
		}
		e.Terms = terms
		out = append(out, e)
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.dat")
	term := termid.Of("101")
	other := termid.Of("hello")

	writeJournal(t, path, Options{}, func(w *Writer) {
		err := w.Append(Header{DocumentID: 100, DocSize: 1234, Features: 0x5, DocumentMeta: 77},
			[]termid.ID{term, other}, []uint16{1, 2},
			[][]byte{mustPositions(t, 50, 51), nil})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		err = w.Append(Header{DocumentID: 104, DocSize: 1 << 20},
			[]termid.ID{term}, []uint16{4},
			[][]byte{mustPositions(t, 50, 52)})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if w.Count() != 2 {
			t.Errorf("Count = %d, want 2", w.Count())
		}
	})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if r.Count() != 2 {
		t.Fatalf("header count = %d, want 2", r.Count())
	}

	entries := readAll(t, r)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	e := entries[0]
	if e.DocumentID != 100 || e.DocSize != 1234 || e.Features != 0x5 || e.DocumentMeta != 77 {
		t.Errorf("entry 0 header = %+v", e.Header)
	}
	if len(e.Terms) != 2 || e.Terms[0].ID != term || e.Terms[1].ID != other {
		t.Fatalf("entry 0 terms = %+v", e.Terms)
	}
	if e.Terms[0].Meta != 1 || e.Terms[1].Meta != 2 {
		t.Errorf("entry 0 meta = %d,%d", e.Terms[0].Meta, e.Terms[1].Meta)
	}
	if len(e.Terms[1].Positions) != 0 {
		t.Errorf("entry 0 term 1 positions = %x, want empty", e.Terms[1].Positions)
	}
	seq, err := seqcodec.Decode(e.Terms[0].Positions)
	if err != nil {
		t.Fatalf("decode positions: %v", err)
	}
	if got := seq.Values(); len(got) != 2 || got[0] != 50 || got[1] != 51 {
		t.Errorf("entry 0 positions = %v, want [50 51]", got)
	}

	if entries[1].DocSize != maxDocSize {
		t.Errorf("doc size not clamped: %d", entries[1].DocSize)
	}
	if entries[1].DocumentID != docid.ID(104) {
		t.Errorf("entry 1 doc = %d", entries[1].DocumentID)
	}
}

func TestOversizeEntryOmitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.dat")
	big := make([]byte, MaxEntrySize)

	writeJournal(t, path, Options{}, func(w *Writer) {
		if err := w.Append(Header{DocumentID: 1}, []termid.ID{1}, []uint16{0}, [][]byte{nil}); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := w.Append(Header{DocumentID: 2}, []termid.ID{2}, []uint16{0}, [][]byte{big}); err != nil {
			t.Fatalf("oversize Append returned error: %v", err)
		}
		if w.Count() != 1 {
			t.Errorf("Count after oversize = %d, want 1", w.Count())
		}
		if w.Omitted() != 1 {
			t.Errorf("Omitted = %d, want 1", w.Omitted())
		}
		if err := w.Append(Header{DocumentID: 3}, []termid.ID{3}, []uint16{0}, [][]byte{nil}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	entries := readAll(t, r)
	if len(entries) != 2 || entries[0].DocumentID != 1 || entries[1].DocumentID != 3 {
		t.Fatalf("entries = %+v, want docs 1 and 3", entries)
	}
}

func TestEntryAtExactLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.dat")
	blob := make([]byte, MaxEntrySize-entryHeaderSize-termHeaderSize)

	writeJournal(t, path, Options{}, func(w *Writer) {
		if err := w.Append(Header{DocumentID: 9}, []termid.ID{9}, []uint16{0}, [][]byte{blob}); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if w.Count() != 1 {
			t.Fatalf("entry at the limit was omitted")
		}
	})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	entries := readAll(t, r)
	if len(entries) != 1 || len(entries[0].Terms[0].Positions) != len(blob) {
		t.Fatalf("unexpected entries: %d", len(entries))
	}
}

func TestNoBodyOmitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.dat")
	writeJournal(t, path, Options{}, func(w *Writer) {
		if err := w.Append(Header{DocumentID: 5}, nil, nil, nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if w.Count() != 0 || w.Omitted() != 1 {
			t.Errorf("Count/Omitted = %d/%d, want 0/1", w.Count(), w.Omitted())
		}
	})
}

func TestMismatchedTerms(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "j.dat"), Options{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()
	err = w.Append(Header{}, []termid.ID{1, 2}, []uint16{0}, [][]byte{nil, nil})
	if !errors.Is(err, ErrMismatchedTerms) {
		t.Fatalf("err = %v, want ErrMismatchedTerms", err)
	}
}

func TestCloseTwice(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "j.dat"), Options{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("second Close = %v, want ErrWriterClosed", err)
	}
	if err := w.Append(Header{}, []termid.ID{1}, []uint16{0}, [][]byte{nil}); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Append after Close = %v, want ErrWriterClosed", err)
	}
}

func TestManyBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.dat")
	const n = 5000
	pos := mustPositions(t, 1, 2, 3, 40, 500)

	// Smallest block size forces many flushes.
	writeJournal(t, path, Options{BlockSize: 1}, func(w *Writer) {
		for i := range n {
			terms := []termid.ID{termid.ID(i), termid.ID(i + 1), termid.ID(i + 2)}
			if err := w.Append(Header{DocumentID: docid.ID(i)}, terms, []uint16{0, 1, 2}, [][]byte{pos, pos, pos}); err != nil {
				t.Fatalf("Append %d: %v", i, err)
			}
		}
	})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	entries := readAll(t, r)
	if len(entries) != n {
		t.Fatalf("got %d entries, want %d", len(entries), n)
	}
	for i, e := range entries {
		if e.DocumentID != docid.ID(i) || len(e.Terms) != 3 || e.Terms[2].ID != termid.ID(i+2) {
			t.Fatalf("entry %d = %+v", i, e)
		}
	}
}

func TestEmptyJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.dat")
	writeJournal(t, path, Options{}, func(*Writer) {})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next on empty journal = %v, want io.EOF", err)
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		if _, err := Open(filepath.Join(dir, "nope")); err == nil {
			t.Fatal("expected error for missing journal")
		}
	})

	t.Run("short header", func(t *testing.T) {
		p := filepath.Join(dir, "short")
		if err := os.WriteFile(p, []byte{'k', 'j'}, 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(p); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("err = %v, want ErrCorrupt", err)
		}
	})

	t.Run("never closed", func(t *testing.T) {
		p := filepath.Join(dir, "open")
		w, err := NewWriter(p, Options{})
		if err != nil {
			t.Fatal(err)
		}
		defer w.Close()
		if _, err := Open(p); !errors.Is(err, ErrIncompleteHeader) {
			t.Fatalf("err = %v, want ErrIncompleteHeader", err)
		}
	})
}

func TestCorruptBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "j.dat")
	writeJournal(t, path, Options{}, func(w *Writer) {
		for i := range 50 {
			if err := w.Append(Header{DocumentID: docid.ID(i)}, []termid.ID{1}, []uint16{0}, [][]byte{mustPositions(t, 1, 2, 3)}); err != nil {
				t.Fatal(err)
			}
		}
	})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("garbled payload", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		for i := FileHeaderSize + blockHeaderSize; i < len(bad); i++ {
			bad[i] ^= 0xA5
		}
		p := filepath.Join(dir, "garbled")
		if err := os.WriteFile(p, bad, 0o644); err != nil {
			t.Fatal(err)
		}
		r, err := Open(p)
		if err != nil {
			t.Fatal(err)
		}
		defer r.Close()
		if _, err := r.Next(); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("Next = %v, want ErrCorrupt", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		p := filepath.Join(dir, "truncated")
		if err := os.WriteFile(p, data[:len(data)-3], 0o644); err != nil {
			t.Fatal(err)
		}
		r, err := Open(p)
		if err != nil {
			t.Fatal(err)
		}
		defer r.Close()
		if _, err := r.Next(); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("Next = %v, want ErrCorrupt", err)
		}
	})

	t.Run("missing block", func(t *testing.T) {
		p := filepath.Join(dir, "headonly")
		if err := os.WriteFile(p, data[:FileHeaderSize], 0o644); err != nil {
			t.Fatal(err)
		}
		r, err := Open(p)
		if err != nil {
			t.Fatal(err)
		}
		defer r.Close()
		if _, err := r.Next(); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("Next = %v, want ErrCorrupt (count mismatch)", err)
		}
	})
}

func TestSetAndResolve(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755); err != nil {
		t.Fatal(err)
	}
	paths := []string{
		filepath.Join(dir, "a", "b", "j1.journal"),
		filepath.Join(dir, "a", "j2.journal"),
	}
	for i, p := range paths {
		writeJournal(t, p, Options{}, func(w *Writer) {
			for j := range 3 {
				id := docid.ID(i*10 + j)
				if err := w.Append(Header{DocumentID: id}, []termid.ID{7}, []uint16{0}, [][]byte{nil}); err != nil {
					t.Fatal(err)
				}
			}
		})
	}

	got, err := Resolve(filepath.Join(dir, "**", "*.journal"), paths[0])
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 2 || got[0] != paths[0] || got[1] != paths[1] {
		t.Fatalf("Resolve = %v", got)
	}

	if _, err := Resolve(filepath.Join(dir, "*.none")); err == nil {
		t.Error("expected error for pattern with no matches")
	}

	set, err := OpenSet(got...)
	if err != nil {
		t.Fatalf("OpenSet: %v", err)
	}
	defer set.Close()
	if set.Count() != 6 {
		t.Errorf("Count = %d, want 6", set.Count())
	}
	entries := readAll(t, set)
	want := []docid.ID{0, 1, 2, 10, 11, 12}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries", len(entries))
	}
	for i, e := range entries {
		if e.DocumentID != want[i] {
			t.Errorf("entry %d doc = %d, want %d", i, e.DocumentID, want[i])
		}
	}
}
