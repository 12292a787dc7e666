package preindex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"kestrel/internal/format"
	"kestrel/internal/termid"
)

const (
	tableVersion = 0x01
	tableFile    = "segments.tbl"
)

var ErrBadCheckpoint = errors.New("segment table checkpoint unreadable")

// segmentTable is the output of the sizing stage: every term with its
// posting count, in ascending term-id order. Offsets are the prefix sums
// of the counts.
type segmentTable struct {
	Journals []string `msgpack:"journals"`
	Terms    []uint64 `msgpack:"terms"`
	Counts   []uint64 `msgpack:"counts"`

	offsets []uint64
	index   map[termid.ID]int
}

func newSegmentTable(journals []string, counts map[termid.ID]uint64) *segmentTable {
	t := &segmentTable{
		Journals: journals,
		Terms:    make([]uint64, 0, len(counts)),
	}
	for id := range counts {
		t.Terms = append(t.Terms, uint64(id))
	}
	slices.Sort(t.Terms)
	t.Counts = make([]uint64, len(t.Terms))
	for i, id := range t.Terms {
		t.Counts[i] = counts[termid.ID(id)]
	}
	t.derive()
	return t
}

func (t *segmentTable) derive() {
	t.offsets = make([]uint64, len(t.Terms)+1)
	t.index = make(map[termid.ID]int, len(t.Terms))
	for i, id := range t.Terms {
		t.offsets[i+1] = t.offsets[i] + t.Counts[i]
		t.index[termid.ID(id)] = i
	}
}

// total returns the number of postings across all terms.
func (t *segmentTable) total() uint64 { return t.offsets[len(t.Terms)] }

// segment returns the [start, end) slot range of term i.
func (t *segmentTable) segment(i int) (uint64, uint64) {
	return t.offsets[i], t.offsets[i+1]
}

func (t *segmentTable) save(dir string) error {
	body, err := msgpack.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode segment table: %w", err)
	}
	hdr := format.Header{Type: format.TypeSegmentTable, Version: tableVersion, Flags: format.FlagComplete}.Encode()

	tmp, err := os.CreateTemp(dir, ".segments-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(append(hdr[:], body...)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, filepath.Join(dir, tableFile))
}

func loadSegmentTable(dir string) (*segmentTable, error) {
	data, err := os.ReadFile(filepath.Join(dir, tableFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadCheckpoint, err)
	}
	if _, err := format.DecodeComplete(data, format.TypeSegmentTable, tableVersion); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadCheckpoint, err)
	}
	t := &segmentTable{}
	if err := msgpack.Unmarshal(data[format.HeaderSize:], t); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadCheckpoint, err)
	}
	if len(t.Terms) != len(t.Counts) || !slices.IsSorted(t.Terms) {
		return nil, fmt.Errorf("%w: inconsistent terms and counts", ErrBadCheckpoint)
	}
	t.derive()
	return t, nil
}
