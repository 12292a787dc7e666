package slots

import (
	"cmp"
	"os"
	"slices"
	"testing"
)

type record struct {
	Key  uint64
	Aux  uint64
	Flag uint16
}

func TestBackendSelection(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name      string
		n         int
		threshold int64
		want      Backend
	}{
		{"small in memory", 10, 1 << 20, Memory},
		{"exactly at threshold", 8, 8 * 24, Memory},
		{"over threshold", 9, 8 * 24, File},
		{"forced file", 4, -1, File},
		{"empty always memory", 0, -1, Memory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New[record](tt.n, Options{TempDir: dir, Threshold: tt.threshold})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer a.Close()
			if a.Backend() != tt.want {
				t.Errorf("backend = %v, want %v", a.Backend(), tt.want)
			}
			if a.Len() != tt.n {
				t.Errorf("Len = %d, want %d", a.Len(), tt.n)
			}
		})
	}
}

func TestReadWriteSort(t *testing.T) {
	for _, threshold := range []int64{0, -1} {
		a, err := New[record](1000, Options{TempDir: t.TempDir(), Threshold: threshold})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		for i := range a.Len() {
			a.Set(i, record{Key: uint64(999 - i), Aux: uint64(i), Flag: uint16(i)})
		}
		if got := a.Get(10); got.Key != 989 || got.Aux != 10 {
			t.Errorf("%v: Get(10) = %+v", a.Backend(), got)
		}

		view := a.Slice(100, 200)
		slices.SortFunc(view, func(x, y record) int { return cmp.Compare(x.Key, y.Key) })
		if a.Get(100).Key != 800 || a.Get(199).Key != 899 {
			t.Errorf("%v: sort through view not visible: %d..%d", a.Backend(), a.Get(100).Key, a.Get(199).Key)
		}
		if a.Get(99).Key != 900 {
			t.Errorf("%v: sort leaked outside the view", a.Backend())
		}
		if err := a.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
}

func TestCloseRemovesFile(t *testing.T) {
	dir := t.TempDir()
	a, err := New[uint64](64, Options{TempDir: dir, Threshold: -1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected one backing file, got %d", len(entries))
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	entries, _ = os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("backing file left behind: %v", entries)
	}
}

func TestNegativeLength(t *testing.T) {
	if _, err := New[uint64](-1, Options{}); err == nil {
		t.Fatal("expected error for negative length")
	}
}
