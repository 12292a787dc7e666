package postings

import (
	"context"
	"sort"
)

// EntrySource is a resumable, forward-only cursor over one term's
// postings. It belongs to a single query and is not safe for concurrent
// use. A budget expiry leaves the cursor where it stopped, so the caller
// may keep what it has read.
type EntrySource struct {
	store *Store
	seg   Segment
	view  segmentView

	block int      // current block
	keys  []uint64 // decoded keys of the current block, nil if not loaded
	vals  []Value  // decoded values of the current block, nil if not loaded
	pos   int      // next unread index in the current block
}

// Len returns the total number of postings in the list.
func (s *EntrySource) Len() int { return int(s.view.count) }

// HasMore reports whether unread postings remain.
func (s *EntrySource) HasMore() bool { return s.block < s.view.blocks }

// Read fills buf with the next ascending document ids and returns how many
// were written. It returns ErrBudgetExceeded, possibly with n > 0, when
// ctx's deadline passes; no block is decoded after that.
func (s *EntrySource) Read(ctx context.Context, buf []uint64) (int, error) {
	return s.read(ctx, buf, nil)
}

// ReadValues is Read that also fills vals with the value of each returned
// posting. vals must be at least as long as keys.
func (s *EntrySource) ReadValues(ctx context.Context, keys []uint64, vals []Value) (int, error) {
	if len(vals) < len(keys) {
		return 0, ErrValuesMismatch
	}
	return s.read(ctx, keys, vals)
}

func (s *EntrySource) read(ctx context.Context, keys []uint64, vals []Value) (int, error) {
	if err := s.store.checkBudget(ctx); err != nil {
		return 0, err
	}
	n := 0
	for n < len(keys) && s.block < s.view.blocks {
		if s.keys == nil {
			if err := s.store.checkBudget(ctx); err != nil {
				s.store.metrics.PostingsRead.Add(float64(n))
				return n, err
			}
			k, err := s.store.decodeKeys(s.seg, &s.view, s.block)
			if err != nil {
				return n, err
			}
			s.keys, s.pos = k, 0
		}
		if vals != nil && s.vals == nil {
			v, err := s.store.decodeValues(s.seg, &s.view, s.block)
			if err != nil {
				return n, err
			}
			s.vals = v
		}

		c := copy(keys[n:], s.keys[s.pos:])
		if vals != nil {
			copy(vals[n:n+c], s.vals[s.pos:s.pos+c])
		}
		n += c
		s.pos += c
		if s.pos == len(s.keys) {
			s.block++
			s.keys, s.vals, s.pos = nil, nil, 0
		}
	}
	s.store.metrics.PostingsRead.Add(float64(n))
	return n, nil
}

// SeekTo advances the cursor to the first posting >= target, skipping
// whole blocks through the directory. It never moves backwards.
func (s *EntrySource) SeekTo(ctx context.Context, target uint64) error {
	if err := s.store.checkBudget(ctx); err != nil {
		return err
	}
	if s.block >= s.view.blocks {
		return nil
	}
	if s.keys != nil {
		if s.keys[len(s.keys)-1] >= target {
			s.pos += sort.Search(len(s.keys)-s.pos, func(i int) bool { return s.keys[s.pos+i] >= target })
			return nil
		}
		s.block++
		s.keys, s.vals, s.pos = nil, nil, 0
	}

	s.block = s.view.searchBlock(s.block, target)
	if s.block >= s.view.blocks || s.view.entry(s.block).min >= target {
		return nil
	}
	k, err := s.store.decodeKeys(s.seg, &s.view, s.block)
	if err != nil {
		return err
	}
	s.keys = k
	s.pos = sort.Search(len(k), func(i int) bool { return k[i] >= target })
	return nil
}

// Peek returns the next posting without consuming it.
func (s *EntrySource) Peek(ctx context.Context) (uint64, bool, error) {
	if s.block >= s.view.blocks {
		return 0, false, nil
	}
	if s.keys == nil {
		if err := s.store.checkBudget(ctx); err != nil {
			return 0, false, err
		}
		k, err := s.store.decodeKeys(s.seg, &s.view, s.block)
		if err != nil {
			return 0, false, err
		}
		s.keys, s.pos = k, 0
	}
	return s.keys[s.pos], true, nil
}
