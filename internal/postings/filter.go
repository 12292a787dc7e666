package postings

import (
	"cmp"
	"slices"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"kestrel/internal/docid"
)

// RangeSet is a normalized union of [start, end) ranges: sorted, with
// overlapping and adjacent ranges merged and empty ones dropped.
type RangeSet []docid.Range

// NewRangeSet normalizes ranges, which may be unsorted and overlapping.
func NewRangeSet(ranges ...docid.Range) RangeSet {
	rs := make(RangeSet, 0, len(ranges))
	for _, r := range ranges {
		if r.Start < r.End {
			rs = append(rs, r)
		}
	}
	slices.SortFunc(rs, func(a, b docid.Range) int { return cmp.Compare(a.Start, b.Start) })

	out := rs[:0]
	for _, r := range rs {
		if n := len(out); n > 0 && r.Start <= out[n-1].End {
			out[n-1].End = max(out[n-1].End, r.End)
			continue
		}
		out = append(out, r)
	}
	return out
}

// Contains reports whether v falls inside any range.
func (rs RangeSet) Contains(v uint64) bool {
	i := sort.Search(len(rs), func(i int) bool { return rs[i].Start > v }) - 1
	return i >= 0 && v < rs[i].End
}

// Retain keeps only the entries of buf inside at least one range,
// preserving order, and returns the shortened buffer.
func Retain(buf []uint64, ranges ...docid.Range) []uint64 {
	rs := NewRangeSet(ranges...)
	return filter(buf, func(v uint64) bool { return rs.Contains(v) })
}

// Reject keeps only the entries of buf inside none of the ranges,
// preserving order, and returns the shortened buffer.
func Reject(buf []uint64, ranges ...docid.Range) []uint64 {
	rs := NewRangeSet(ranges...)
	return filter(buf, func(v uint64) bool { return !rs.Contains(v) })
}

// RetainSet keeps only the entries of buf present in set.
func RetainSet(buf []uint64, set *roaring64.Bitmap) []uint64 {
	return filter(buf, set.Contains)
}

// RejectSet keeps only the entries of buf absent from set.
func RejectSet(buf []uint64, set *roaring64.Bitmap) []uint64 {
	return filter(buf, func(v uint64) bool { return !set.Contains(v) })
}

func filter(buf []uint64, keep func(uint64) bool) []uint64 {
	n := 0
	for _, v := range buf {
		if keep(v) {
			buf[n] = v
			n++
		}
	}
	return buf[:n]
}
