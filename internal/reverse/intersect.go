package reverse

import (
	"cmp"
	"context"
	"slices"

	"kestrel/internal/postings"
)

// Intersect fills buf with document ids present in every source, in
// ascending order, and returns how many were written. Sources are
// advanced with block-skipping seeks, so calling Intersect again resumes
// where the previous call stopped.
//
// When the budget in ctx runs out, Intersect returns the matches found so
// far together with postings.ErrBudgetExceeded.
func Intersect(ctx context.Context, buf []uint64, sources ...*postings.EntrySource) (int, error) {
	if len(sources) == 0 || len(buf) == 0 {
		return 0, nil
	}
	// Drive from the shortest list.
	srcs := slices.Clone(sources)
	slices.SortFunc(srcs, func(a, b *postings.EntrySource) int { return cmp.Compare(a.Len(), b.Len()) })
	lead, rest := srcs[0], srcs[1:]

	n := 0
	for n < len(buf) {
		cand, ok, err := lead.Peek(ctx)
		if err != nil || !ok {
			return n, err
		}

		matched := true
		for _, s := range rest {
			if err := s.SeekTo(ctx, cand); err != nil {
				return n, err
			}
			v, ok, err := s.Peek(ctx)
			if err != nil || !ok {
				return n, err
			}
			if v != cand {
				if err := lead.SeekTo(ctx, v); err != nil {
					return n, err
				}
				matched = false
				break
			}
		}
		if !matched {
			continue
		}

		buf[n] = cand
		n++
		if err := lead.SeekTo(ctx, cand+1); err != nil {
			return n, err
		}
	}
	return n, nil
}
