package lexicon

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"kestrel/internal/postings"
	"kestrel/internal/termid"
)

func writeLexicon(t *testing.T, path string, ids []termid.ID) {
	t.Helper()
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i, id := range ids {
		if err := w.Add(id, postings.Segment(8+i*100)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestLookup(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	seen := map[termid.ID]bool{}
	var ids []termid.ID
	for len(ids) < 5000 {
		id := termid.ID(rng.Uint64())
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	ids = append(ids, 0, termid.ID(^uint64(0)))
	slices.Sort(ids)

	path := filepath.Join(t.TempDir(), "lexicon.dat")
	writeLexicon(t, path, ids)

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if l.Len() != len(ids) {
		t.Fatalf("Len = %d, want %d", l.Len(), len(ids))
	}
	for i, id := range ids {
		seg, ok, err := l.Lookup(id)
		if err != nil || !ok {
			t.Fatalf("Lookup(%d) = %v, %v", id, ok, err)
		}
		if seg != postings.Segment(8+i*100) {
			t.Fatalf("Lookup(%d) = %d, want %d", id, seg, 8+i*100)
		}
	}
	if _, ok, err := l.Lookup(termid.Of("surely-absent-term")); ok || err != nil {
		t.Errorf("absent term: ok=%v err=%v", ok, err)
	}

	var walked []termid.ID
	if err := l.Each(func(id termid.ID, _ postings.Segment) error {
		walked = append(walked, id)
		return nil
	}); err != nil {
		t.Fatalf("Each: %v", err)
	}
	if !slices.Equal(walked, ids) {
		t.Error("Each did not visit terms in ascending order")
	}
}

func TestEachStops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.dat")
	writeLexicon(t, path, []termid.ID{1, 2, 3})
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	stop := errors.New("stop")
	calls := 0
	err = l.Each(func(termid.ID, postings.Segment) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("Each = %v after %d calls", err, calls)
	}
}

func TestEmptyLexicon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.dat")
	writeLexicon(t, path, nil)
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()
	if l.Len() != 0 {
		t.Errorf("Len = %d", l.Len())
	}
	if err := l.Each(func(termid.ID, postings.Segment) error { return errors.New("called") }); err != nil {
		t.Errorf("Each on empty lexicon: %v", err)
	}
}

func TestOutOfOrder(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "lexicon.dat"))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Add(5, 8); err != nil {
		t.Fatal(err)
	}
	for _, id := range []termid.ID{5, 4} {
		if err := w.Add(id, 16); !errors.Is(err, ErrOutOfOrder) {
			t.Errorf("Add(%d) = %v, want ErrOutOfOrder", id, err)
		}
	}
}

func TestOpenIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.dat")
	writeLexicon(t, path, []termid.ID{1})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[3] = 0
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Open = %v, want ErrCorrupt", err)
	}
}
