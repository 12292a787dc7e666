package preindex

import (
	"kestrel/internal/docid"
	"kestrel/internal/journal"
)

// DocIDRewriter maps the document id of the seq'th journal entry (counted
// across all input journals, from zero) to the id stored in postings.
type DocIDRewriter func(seq uint64, h journal.Header) docid.ID

// FoldRank overlays the rank bucket of rankOf(h), a score in [0, 1] with
// lower meaning better, onto each document id.
func FoldRank(rankOf func(journal.Header) float64) DocIDRewriter {
	return func(_ uint64, h journal.Header) docid.ID {
		return docid.AddRank(rankOf(h), h.DocumentID)
	}
}

// RenumberOrdinals replaces each id's ordinal with a fresh per-domain
// sequence number, so repeated journal entries for one document become
// distinct postings instead of being coalesced. Numbering restarts when seq
// does not advance, so a repeated placement pass yields the same ids.
func RenumberOrdinals() DocIDRewriter {
	var (
		next    map[uint32]uint32
		lastSeq uint64
	)
	return func(seq uint64, h journal.Header) docid.ID {
		if next == nil || seq <= lastSeq {
			next = make(map[uint32]uint32)
		}
		lastSeq = seq
		d := docid.Domain(h.DocumentID)
		ord := next[d]
		next[d] = ord + 1
		return docid.EncodeRanked(docid.Rank(h.DocumentID), d, ord)
	}
}

// Chain applies rewriters left to right.
func Chain(rewriters ...DocIDRewriter) DocIDRewriter {
	return func(seq uint64, h journal.Header) docid.ID {
		for _, r := range rewriters {
			h.DocumentID = r(seq, h)
		}
		return h.DocumentID
	}
}
