package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"kestrel/internal/docid"
	"kestrel/internal/generation"
	"kestrel/internal/postings"
	"kestrel/internal/reverse"
	"kestrel/internal/termid"
	"kestrel/internal/tokenizer"
)

// intersectChunk is how many candidates one Intersect call produces.
const intersectChunk = 1024

var errEmptyQuery = errors.New("query has no terms")

// searchRequest is a conjunctive term query.
type searchRequest struct {
	Text           string
	Limit          int
	Budget         time.Duration
	Domains        []uint32
	ExcludeDomains []uint32
	Docs           []uint64 // restrict to these ids when non-empty
	Positions      bool
}

type searchHit struct {
	Doc     uint64    `json:"doc"`
	Domain  uint32    `json:"domain"`
	Ordinal uint32    `json:"ordinal"`
	Rank    int       `json:"rank"`
	Terms   []termHit `json:"terms,omitempty"`
}

type termHit struct {
	Term      string   `json:"term"`
	Meta      uint16   `json:"meta"`
	Positions []uint32 `json:"positions"`
}

type searchResult struct {
	Generation string      `json:"generation"`
	Terms      []string    `json:"terms"`
	Missing    []string    `json:"missing,omitempty"`
	Hits       []searchHit `json:"hits"`
	// Partial is set when the budget ran out before the lists were exhausted.
	Partial bool          `json:"partial"`
	Elapsed time.Duration `json:"elapsedNs"`
}

// search runs req against the leased generation. A budget expiry is not
// an error: the hits found so far are returned with Partial set.
func search(ctx context.Context, lease *generation.Lease, req searchRequest) (*searchResult, error) {
	start := time.Now()
	terms := slices.Compact(slices.Sorted(slices.Values(tokenizer.Tokens([]byte(req.Text)))))
	if len(terms) == 0 {
		return nil, errEmptyQuery
	}
	if req.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Budget)
		defer cancel()
	}

	res := &searchResult{Generation: lease.ID(), Terms: terms, Hits: []searchHit{}}
	defer func() { res.Elapsed = time.Since(start) }()

	idx := lease.Index()
	sources := make([]*postings.EntrySource, 0, len(terms))
	for _, term := range terms {
		src, ok, err := idx.Documents(termid.Of(term))
		if err != nil {
			return nil, err
		}
		if !ok {
			res.Missing = append(res.Missing, term)
			continue
		}
		sources = append(sources, src)
	}
	if len(res.Missing) > 0 {
		return res, nil
	}

	var include, exclude []docid.Range
	for _, d := range req.Domains {
		include = append(include, docid.DomainRanges(d)...)
	}
	for _, d := range req.ExcludeDomains {
		exclude = append(exclude, docid.DomainRanges(d)...)
	}
	var allow *roaring64.Bitmap
	if len(req.Docs) > 0 {
		allow = roaring64.BitmapOf(req.Docs...)
	}

	buf := make([]uint64, intersectChunk)
	for req.Limit <= 0 || len(res.Hits) < req.Limit {
		n, err := reverse.Intersect(ctx, buf, sources...)
		if err != nil && !errors.Is(err, postings.ErrBudgetExceeded) {
			return nil, err
		}
		matches := buf[:n]
		if include != nil {
			matches = postings.Retain(matches, include...)
		}
		if exclude != nil {
			matches = postings.Reject(matches, exclude...)
		}
		if allow != nil {
			matches = postings.RetainSet(matches, allow)
		}
		for _, id := range matches {
			if req.Limit > 0 && len(res.Hits) == req.Limit {
				break
			}
			res.Hits = append(res.Hits, newHit(id))
		}
		if err != nil {
			res.Partial = true
			break
		}
		if n < len(buf) {
			break
		}
	}

	if req.Positions && !res.Partial {
		if err := addPositions(ctx, idx, terms, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func newHit(id uint64) searchHit {
	d := docid.ID(id)
	return searchHit{Doc: id, Domain: docid.Domain(d), Ordinal: docid.Ordinal(d), Rank: docid.Rank(d)}
}

func addPositions(ctx context.Context, idx *reverse.Index, terms []string, res *searchResult) error {
	for i := range res.Hits {
		h := &res.Hits[i]
		for _, term := range terms {
			th, err := termDetail(ctx, idx, term, docid.ID(h.Doc))
			if errors.Is(err, postings.ErrBudgetExceeded) {
				res.Partial = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("positions of %q in %d: %w", term, h.Doc, err)
			}
			h.Terms = append(h.Terms, th)
		}
	}
	return nil
}

func termDetail(ctx context.Context, idx *reverse.Index, term string, doc docid.ID) (termHit, error) {
	id := termid.Of(term)
	meta, _, err := idx.TermMeta(ctx, id, doc)
	if err != nil {
		return termHit{}, err
	}
	seq, err := idx.Positions(ctx, id, doc)
	if err != nil {
		return termHit{}, err
	}
	return termHit{Term: term, Meta: meta, Positions: seq.Values()}, nil
}
