package journal

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// Iterator is the forward-only view of journal entries consumed by the
// preindex builder. *Reader and *Set both implement it.
type Iterator interface {
	Next() (Entry, error)
	Count() uint64
	Close() error
}

// Set chains several journals into one iterator, in the given order.
type Set struct {
	readers []*Reader
	cur     int
	count   uint64
}

// OpenSet opens every journal in paths. If any fails to open, the ones
// already opened are closed and the error is returned.
func OpenSet(paths ...string) (*Set, error) {
	s := &Set{}
	for _, p := range paths {
		r, err := Open(p)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.readers = append(s.readers, r)
		s.count += r.Count()
	}
	return s, nil
}

// Count returns the total entry count across all journals.
func (s *Set) Count() uint64 { return s.count }

// Next returns the next entry across the set, or io.EOF when every journal
// is exhausted.
func (s *Set) Next() (Entry, error) {
	for s.cur < len(s.readers) {
		e, err := s.readers[s.cur].Next()
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, io.EOF) {
			return Entry{}, err
		}
		s.cur++
	}
	return Entry{}, io.EOF
}

// Close closes every journal in the set and returns the first error.
func (s *Set) Close() error {
	var first error
	for _, r := range s.readers {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.readers = nil
	return first
}

// Resolve expands glob patterns (with ** support) into a sorted,
// de-duplicated list of journal paths. A pattern that matches nothing is
// an error, since a build silently missing a journal is worse than failing.
func Resolve(patterns ...string) ([]string, error) {
	var out []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("resolve journal pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("resolve journal pattern %q: no matches", pattern)
		}
		for _, m := range matches {
			out = append(out, filepath.Clean(m))
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
