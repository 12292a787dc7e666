package postings

import (
	"slices"
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"kestrel/internal/docid"
)

func union(a, b []uint64) []uint64 {
	out := append(slices.Clone(a), b...)
	slices.Sort(out)
	return out
}

func TestRetainRejectEquivalence(t *testing.T) {
	buf := []uint64{10, 20, 30, 40, 50, 60}
	tests := []struct {
		name   string
		ranges []docid.Range
		retain []uint64
	}{
		{"no ranges", nil, nil},
		{"one range covering one element", []docid.Range{{Start: 30, End: 31}}, []uint64{30}},
		{"overlapping ranges", []docid.Range{{Start: 15, End: 35}, {Start: 25, End: 45}}, []uint64{20, 30, 40}},
		{"range outside value span", []docid.Range{{Start: 100, End: 200}}, nil},
		{"unsorted ranges", []docid.Range{{Start: 55, End: 61}, {Start: 0, End: 11}}, []uint64{10, 60}},
		{"adjacent ranges", []docid.Range{{Start: 20, End: 30}, {Start: 30, End: 40}}, []uint64{20, 30}},
		{"empty range ignored", []docid.Range{{Start: 40, End: 40}, {Start: 50, End: 10}}, nil},
		{"end is exclusive", []docid.Range{{Start: 0, End: 10}}, nil},
		{"everything", []docid.Range{{Start: 0, End: ^uint64(0)}}, buf},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept := Retain(slices.Clone(buf), tt.ranges...)
			dropped := Reject(slices.Clone(buf), tt.ranges...)

			if !slices.Equal(kept, tt.retain) && !(len(kept) == 0 && len(tt.retain) == 0) {
				t.Errorf("Retain = %v, want %v", kept, tt.retain)
			}
			if got := Reject(slices.Clone(kept), tt.ranges...); len(got) != 0 {
				t.Errorf("Reject(Retain) = %v, want empty", got)
			}
			if got := union(kept, dropped); !slices.Equal(got, buf) {
				t.Errorf("Retain ∪ Reject = %v, want %v", got, buf)
			}
			if !slices.IsSorted(kept) || !slices.IsSorted(dropped) {
				t.Error("filters must preserve order")
			}
		})
	}
}

func TestRetainInPlace(t *testing.T) {
	buf := []uint64{1, 2, 3, 4}
	out := Retain(buf, docid.Range{Start: 2, End: 4})
	if &out[0] != &buf[0] {
		t.Error("Retain should reuse the input buffer")
	}
	if !slices.Equal(out, []uint64{2, 3}) {
		t.Errorf("Retain = %v", out)
	}
}

func TestNewRangeSet(t *testing.T) {
	rs := NewRangeSet(
		docid.Range{Start: 50, End: 60},
		docid.Range{Start: 0, End: 10},
		docid.Range{Start: 5, End: 20},
		docid.Range{Start: 20, End: 25},
		docid.Range{Start: 7, End: 7},
	)
	want := RangeSet{{Start: 0, End: 25}, {Start: 50, End: 60}}
	if !slices.Equal(rs, want) {
		t.Fatalf("NewRangeSet = %v, want %v", rs, want)
	}
	for v, in := range map[uint64]bool{0: true, 24: true, 25: false, 49: false, 50: true, 59: true, 60: false} {
		if rs.Contains(v) != in {
			t.Errorf("Contains(%d) = %v, want %v", v, !in, in)
		}
	}
}

func TestDomainRangeFilter(t *testing.T) {
	var buf []uint64
	for domain := uint32(1); domain <= 3; domain++ {
		for ord := uint32(0); ord < 4; ord++ {
			buf = append(buf, uint64(docid.EncodeRanked(int(domain), domain, ord)))
		}
	}
	slices.Sort(buf)
	kept := Retain(slices.Clone(buf), docid.DomainRanges(2)...)
	if len(kept) != 4 {
		t.Fatalf("kept %d ids, want 4", len(kept))
	}
	for _, id := range kept {
		if docid.Domain(docid.ID(id)) != 2 {
			t.Errorf("kept id from domain %d", docid.Domain(docid.ID(id)))
		}
	}
}

func TestRetainRejectSet(t *testing.T) {
	buf := []uint64{1, 5, 9, 1 << 40}
	set := roaring64.BitmapOf(5, 1<<40, 77)

	kept := RetainSet(slices.Clone(buf), set)
	if !slices.Equal(kept, []uint64{5, 1 << 40}) {
		t.Errorf("RetainSet = %v", kept)
	}
	dropped := RejectSet(slices.Clone(buf), set)
	if !slices.Equal(dropped, []uint64{1, 9}) {
		t.Errorf("RejectSet = %v", dropped)
	}
	if got := RetainSet(slices.Clone(buf), roaring64.New()); len(got) != 0 {
		t.Errorf("RetainSet(empty) = %v", got)
	}
}
