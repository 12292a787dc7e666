package postings

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/ronanh/intcomp"

	"kestrel/internal/blockcache"
	"kestrel/internal/format"
	"kestrel/internal/metrics"
	"kestrel/internal/mmapfile"
	"kestrel/internal/positions"
)

// Options configures a Store.
type Options struct {
	// Cache holds decoded blocks across queries. Nil disables caching.
	Cache   *blockcache.Cache[Block]
	Metrics *metrics.Metrics
}

// Store serves posting lists from memory-mapped docs and values files.
// It holds no locks on the read path and is safe for concurrent use.
type Store struct {
	id      uint64
	docs    *mmapfile.Mapping
	values  *mmapfile.Mapping
	docBuf  []byte
	valBuf  []byte
	cache   *blockcache.Cache[Block]
	metrics *metrics.Metrics
}

// Open maps the docs file and, if valuesPath is not empty, the values file.
func Open(docsPath, valuesPath string, opts Options) (*Store, error) {
	docs, err := openMapped(docsPath, format.TypeDocs)
	if err != nil {
		return nil, err
	}
	s := &Store{
		id:      blockcache.NewStoreID(),
		docs:    docs,
		docBuf:  docs.Bytes(),
		cache:   opts.Cache,
		metrics: metrics.Default(opts.Metrics),
	}
	if valuesPath != "" {
		values, err := openMapped(valuesPath, format.TypeDocsValues)
		if err != nil {
			_ = docs.Release()
			return nil, err
		}
		s.values = values
		s.valBuf = values.Bytes()
	}
	return s, nil
}

func openMapped(path string, kind byte) (*mmapfile.Mapping, error) {
	m, err := mmapfile.Open(path, mmapfile.AdviceRandom)
	if err != nil {
		return nil, fmt.Errorf("open postings file: %w", err)
	}
	if m.Len() < fileHeaderSize {
		_ = m.Release()
		return nil, fmt.Errorf("%w: %s: short header", ErrCorrupt, path)
	}
	if _, err := format.DecodeComplete(m.Bytes(), kind, currentVersion); err != nil {
		_ = m.Release()
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}
	return m, nil
}

// HasValues reports whether a values file is attached.
func (s *Store) HasValues() bool { return s.values != nil }

// Close releases the store's mappings and drops its cached blocks.
func (s *Store) Close() error {
	s.cache.PurgeStore(s.id)
	var errs []error
	if err := s.docs.Release(); err != nil {
		errs = append(errs, err)
	}
	if s.values != nil {
		if err := s.values.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// segmentView is an undecoded segment whose header and extents have been
// checked. Directory entries are checked by checkBlock when first decoded.
type segmentView struct {
	offset  uint64
	count   uint64
	blocks  int
	dir     []byte
	payload []byte
	payBase uint64 // absolute offset of payload in the docs file
	valBase uint64
}

func (v *segmentView) entry(i int) dirEntry {
	return decodeDirEntry(v.dir[i*dirEntrySize:])
}

// searchBlock returns the first block at or after from whose max is >= key.
func (v *segmentView) searchBlock(from int, key uint64) int {
	return from + sort.Search(v.blocks-from, func(i int) bool {
		return v.entry(from+i).max >= key
	})
}

func (s *Store) corrupt(store string, seg Segment, msg string, args ...any) error {
	s.metrics.CorruptErrors.WithLabelValues(store).Inc()
	return fmt.Errorf("%w: segment %d: %s", ErrCorrupt, uint64(seg), fmt.Sprintf(msg, args...))
}

func (s *Store) segment(seg Segment) (segmentView, error) {
	off := uint64(seg)
	size := uint64(len(s.docBuf))
	if off < fileHeaderSize || off > size || size-off < segmentHeaderSize {
		return segmentView{}, s.corrupt("docs", seg, "offset beyond file")
	}
	h := decodeSegmentHeader(s.docBuf[off:])
	dirStart := off + segmentHeaderSize
	dirLen := uint64(h.blocks) * dirEntrySize
	if dirLen > size-dirStart || h.payloadLen > size-dirStart-dirLen {
		return segmentView{}, s.corrupt("docs", seg, "directory or payload beyond file")
	}
	if h.count > uint64(h.blocks)*BlockSize || h.count < uint64(h.blocks) {
		return segmentView{}, s.corrupt("docs", seg, "count %d inconsistent with %d blocks", h.count, h.blocks)
	}
	v := segmentView{
		offset:  off,
		count:   h.count,
		blocks:  int(h.blocks),
		dir:     s.docBuf[dirStart : dirStart+dirLen],
		payBase: dirStart + dirLen,
		valBase: h.valuesOffset,
	}
	v.payload = s.docBuf[v.payBase : v.payBase+h.payloadLen]
	return v, nil
}

// checkBlock validates directory entry i against its neighbours and the
// payload. It reads at most three directory entries.
func (s *Store) checkBlock(seg Segment, v *segmentView, i int) error {
	e := v.entry(i)
	if e.min > e.max || e.count == 0 || e.count > BlockSize || uint64(e.count) > v.count {
		return s.corrupt("docs", seg, "block %d has bad bounds", i)
	}
	if i > 0 && v.entry(i-1).max >= e.min {
		return s.corrupt("docs", seg, "block %d overlaps its predecessor", i)
	}
	if i+1 < v.blocks && v.entry(i+1).min <= e.max {
		return s.corrupt("docs", seg, "block %d overlaps its successor", i)
	}
	if uint64(e.docOff)+uint64(e.words)*8 > uint64(len(v.payload)) {
		return s.corrupt("docs", seg, "block %d payload beyond segment", i)
	}
	return nil
}

// decodeKeys returns the sorted keys of block i.
func (s *Store) decodeKeys(seg Segment, v *segmentView, i int) (keys []uint64, err error) {
	e := v.entry(i)
	ck := blockcache.Key{Store: s.id, Kind: blockcache.KindDocs, Offset: v.payBase + uint64(e.docOff)}
	if b, ok := s.cache.Get(ck); ok {
		return b.Keys, nil
	}
	if err := s.checkBlock(seg, v, i); err != nil {
		return nil, err
	}

	raw := v.payload[e.docOff : uint64(e.docOff)+uint64(e.words)*8]
	words := make([]uint64, e.words)
	for j := range words {
		words[j] = binary.LittleEndian.Uint64(raw[j*8:])
	}

	defer func() {
		if r := recover(); r != nil {
			keys, err = nil, s.corrupt("docs", seg, "block %d: undecodable payload: %v", i, r)
		}
	}()
	keys = intcomp.UncompressUint64(words, make([]uint64, 0, e.count))
	s.metrics.BlocksDecoded.WithLabelValues("docs").Inc()

	if len(keys) != int(e.count) || keys[0] != e.min || keys[len(keys)-1] != e.max {
		return nil, s.corrupt("docs", seg, "block %d disagrees with its directory entry", i)
	}
	for j := 1; j < len(keys); j++ {
		if keys[j] <= keys[j-1] {
			return nil, s.corrupt("docs", seg, "block %d keys out of order", i)
		}
	}
	s.cache.Add(ck, Block{Keys: keys})
	return keys, nil
}

// decodeValues returns the values of block i, all zero when the store has
// no values file.
func (s *Store) decodeValues(seg Segment, v *segmentView, i int) ([]Value, error) {
	e := v.entry(i)
	if s.values == nil || v.valBase == noValues {
		return make([]Value, e.count), nil
	}
	off := v.valBase + uint64(e.valOff)
	ck := blockcache.Key{Store: s.id, Kind: blockcache.KindValues, Offset: off}
	if b, ok := s.cache.Get(ck); ok {
		return b.Values, nil
	}

	size := uint64(len(s.valBuf))
	if off < fileHeaderSize || off > size || size-off < valuesBlockHeader {
		return nil, s.corrupt("values", seg, "block %d offset beyond file", i)
	}
	mw, pw := int(s.valBuf[off]), int(s.valBuf[off+1])
	n := int(e.count)
	if mw > 2 || pw > 8 || uint64(n*(mw+pw)) > size-off-valuesBlockHeader {
		return nil, s.corrupt("values", seg, "block %d has bad widths %d/%d", i, mw, pw)
	}
	body := s.valBuf[off+valuesBlockHeader:]
	vals := make([]Value, n)
	for j := range vals {
		vals[j] = Value{
			Meta:      uint16(getUint(body[j*mw:], mw)),
			Positions: positions.Key(getUint(body[n*mw+j*pw:], pw)),
		}
	}
	s.metrics.BlocksDecoded.WithLabelValues("values").Inc()
	s.cache.Add(ck, Block{Values: vals})
	return vals, nil
}

// checkBudget maps an expired query deadline to ErrBudgetExceeded.
func (s *Store) checkBudget(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.metrics.BudgetExceeded.Inc()
		return ErrBudgetExceeded
	}
	return err
}

// NumDocuments returns the number of postings in seg without decoding any
// block.
func (s *Store) NumDocuments(seg Segment) (int, error) {
	v, err := s.segment(seg)
	if err != nil {
		return 0, err
	}
	return int(v.count), nil
}

// Documents returns a cursor over seg's postings.
func (s *Store) Documents(seg Segment) (*EntrySource, error) {
	v, err := s.segment(seg)
	if err != nil {
		return nil, err
	}
	return &EntrySource{store: s, seg: seg, view: v}, nil
}

// find locates key in seg, decoding at most one block.
func (s *Store) find(ctx context.Context, seg Segment, key uint64) (segmentView, int, int, error) {
	if err := s.checkBudget(ctx); err != nil {
		return segmentView{}, 0, -1, err
	}
	v, err := s.segment(seg)
	if err != nil {
		return segmentView{}, 0, -1, err
	}
	b := v.searchBlock(0, key)
	if b == v.blocks || v.entry(b).min > key {
		return v, b, -1, nil
	}
	keys, err := s.decodeKeys(seg, &v, b)
	if err != nil {
		return v, b, -1, err
	}
	j := sort.Search(len(keys), func(j int) bool { return keys[j] >= key })
	if j == len(keys) || keys[j] != key {
		return v, b, -1, nil
	}
	return v, b, j, nil
}

// IsWordInDoc reports whether key is among seg's postings.
func (s *Store) IsWordInDoc(ctx context.Context, seg Segment, key uint64) (bool, error) {
	_, _, j, err := s.find(ctx, seg, key)
	return j >= 0, err
}

// ValuesFor returns the value stored with key in seg.
func (s *Store) ValuesFor(ctx context.Context, seg Segment, key uint64) (Value, bool, error) {
	v, b, j, err := s.find(ctx, seg, key)
	if err != nil || j < 0 {
		return Value{}, false, err
	}
	vals, err := s.decodeValues(seg, &v, b)
	if err != nil {
		return Value{}, false, err
	}
	return vals[j], true, nil
}
