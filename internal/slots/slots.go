// Package slots provides fixed-length arrays of plain records used as
// scratch space by the preindex builder.
//
// An Array is backed either by ordinary heap memory or, above a size
// threshold, by a memory-mapped temporary file. Both variants hand out
// the same []T view, so callers index and sort it directly without going
// through an interface on the hot path.
//
// T must be a fixed-size type without pointers; file-backed arrays store
// its raw bytes.
package slots

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultThreshold is the largest array kept in memory by default.
const DefaultThreshold = 256 << 20

var ErrClosed = errors.New("slot array closed")

// Backend identifies where an Array keeps its data.
type Backend int

const (
	Memory Backend = iota
	File
)

func (b Backend) String() string {
	switch b {
	case Memory:
		return "memory"
	case File:
		return "file"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// Options selects the backend.
type Options struct {
	// TempDir receives the backing file of large arrays. Empty means os.TempDir().
	TempDir string
	// Threshold is the byte size above which an array is file-backed.
	// Zero means DefaultThreshold; negative forces file backing.
	Threshold int64
}

// Array is a fixed-length array of T.
type Array[T any] struct {
	backend Backend
	data    []T
	mapped  []byte
	path    string
	closed  bool
}

// New allocates an array of n zero-valued records.
func New[T any](n int, opts Options) (*Array[T], error) {
	if n < 0 {
		return nil, fmt.Errorf("slots: negative length %d", n)
	}
	var zero T
	size := int64(n) * int64(unsafe.Sizeof(zero))

	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if size == 0 || (threshold > 0 && size <= threshold) {
		return &Array[T]{backend: Memory, data: make([]T, n)}, nil
	}
	return newFileArray[T](n, size, opts.TempDir)
}

func newFileArray[T any](n int, size int64, dir string) (*Array[T], error) {
	f, err := os.CreateTemp(dir, "slots-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create slot file: %w", err)
	}
	path := f.Name()
	fail := func(err error) (*Array[T], error) {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}

	if err := f.Truncate(size); err != nil {
		return fail(fmt.Errorf("size slot file: %w", err))
	}
	mapped, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED) //nolint:gosec // G115: fd fits int
	if err != nil {
		return fail(fmt.Errorf("mmap slot file: %w", err))
	}
	// Placement scatters writes across the whole file.
	_ = unix.Madvise(mapped, unix.MADV_RANDOM)
	if err := f.Close(); err != nil {
		_ = unix.Munmap(mapped)
		_ = os.Remove(path)
		return nil, fmt.Errorf("close slot file: %w", err)
	}

	data := unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(mapped))), n)
	return &Array[T]{backend: File, data: data, mapped: mapped, path: path}, nil
}

// Backend reports which variant was selected.
func (a *Array[T]) Backend() Backend { return a.backend }

// Len returns the number of records.
func (a *Array[T]) Len() int { return len(a.data) }

// Get returns record i.
func (a *Array[T]) Get(i int) T { return a.data[i] }

// Set stores record i.
func (a *Array[T]) Set(i int, v T) { a.data[i] = v }

// Slice returns records [start, end) as a view into the array. Writes
// through the view are visible to the array. The view is invalid after Close.
func (a *Array[T]) Slice(start, end int) []T { return a.data[start:end:end] }

// Close releases the memory and removes the backing file, if any. It is
// safe to call more than once.
func (a *Array[T]) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.data = nil
	if a.backend == Memory {
		return nil
	}
	var errs []error
	if err := unix.Munmap(a.mapped); err != nil {
		errs = append(errs, fmt.Errorf("munmap slot file: %w", err))
	}
	a.mapped = nil
	if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("remove slot file: %w", err))
	}
	return errors.Join(errs...)
}
