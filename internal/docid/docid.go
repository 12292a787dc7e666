// Package docid packs and unpacks 64-bit document identifiers.
//
// Layout, most significant bit first:
//
//	[unused:1][rank:6][domain:31][ordinal:26]
//
// Rank is overlaid after construction so that sorting raw ids yields
// rank-major order (lower rank = better). Domain clusters documents of the
// same site; ordinal is a generation-local sequence number.
package docid

import "fmt"

// ID is a packed document identifier.
type ID uint64

const (
	OrdinalBits = 26
	DomainBits  = 31
	RankBits    = 6

	domainShift = OrdinalBits
	rankShift   = OrdinalBits + DomainBits

	ordinalMask = 1<<OrdinalBits - 1
	domainMask  = 1<<DomainBits - 1

	// MaxRank is the largest (worst) rank bucket.
	MaxRank = 1<<RankBits - 1
	// MaxDomain and MaxOrdinal are the largest encodable field values.
	MaxDomain  = domainMask
	MaxOrdinal = ordinalMask

	rankMask ID = MaxRank << rankShift
)

// Encode packs a domain and ordinal into an id with rank 0. Values wider
// than their fields are truncated, not rejected.
func Encode(domain, ordinal uint32) ID {
	return ID(uint64(domain)&domainMask)<<domainShift | ID(uint64(ordinal)&ordinalMask)
}

// EncodeRanked packs rank, domain and ordinal. The rank is clamped to [0, MaxRank].
func EncodeRanked(rank int, domain, ordinal uint32) ID {
	return AddRankBucket(rank, Encode(domain, ordinal))
}

// RankBucket maps a normalized rank in [0,1] onto a 6-bit bucket.
// Out-of-range inputs are clamped.
func RankBucket(r float64) int {
	if r != r || r <= 0 {
		return 0
	}
	b := int(r * (MaxRank + 1))
	return clampRank(b)
}

// AddRank overlays the bucket for a normalized rank onto id, replacing any
// rank already present.
func AddRank(r float64, id ID) ID {
	return AddRankBucket(RankBucket(r), id)
}

// AddRankBucket overlays an explicit bucket, clamped to [0, MaxRank].
func AddRankBucket(bucket int, id ID) ID {
	return RemoveRank(id) | ID(clampRank(bucket))<<rankShift
}

// RemoveRank clears the rank bits and leaves every other bit untouched.
func RemoveRank(id ID) ID {
	return id &^ rankMask
}

// Rank returns the rank bucket of id.
func Rank(id ID) int {
	return int(id&rankMask) >> rankShift
}

// Domain returns the domain field of id.
func Domain(id ID) uint32 {
	return uint32(id>>domainShift) & domainMask
}

// Ordinal returns the ordinal field of id.
func Ordinal(id ID) uint32 {
	return uint32(id) & ordinalMask
}

func (id ID) String() string {
	return fmt.Sprintf("%d/%d/%d", Rank(id), Domain(id), Ordinal(id))
}

func clampRank(b int) int {
	if b < 0 {
		return 0
	}
	if b > MaxRank {
		return MaxRank
	}
	return b
}

// Range is a half-open interval [Start, End) of raw id values.
type Range struct {
	Start uint64
	End   uint64
}

// Contains reports whether v falls in the range.
func (r Range) Contains(v uint64) bool {
	return v >= r.Start && v < r.End
}

// DomainRange returns the ids of one domain at one rank bucket. The result
// is contiguous because ordinal occupies the low bits.
func DomainRange(rank int, domain uint32) Range {
	start := uint64(EncodeRanked(rank, domain, 0))
	return Range{Start: start, End: start + ordinalMask + 1}
}

// DomainRanges returns one range per rank bucket covering every id of a
// domain regardless of the rank folded into it.
func DomainRanges(domain uint32) []Range {
	out := make([]Range, 0, MaxRank+1)
	for rank := 0; rank <= MaxRank; rank++ {
		out = append(out, DomainRange(rank, domain))
	}
	return out
}
