// Package mmapfile maps finished index files read-only.
//
// A Mapping has a single owner, the reader that opened it. Queries never
// hold mappings directly: they hold a generation lease, and the generation
// releases its readers once the last lease is gone.
package mmapfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	ErrEmpty    = errors.New("mmap file is empty")
	ErrReleased = errors.New("mapping already released")
)

// Advice is an access-pattern hint passed to madvise.
type Advice int

const (
	AdviceNormal Advice = iota
	AdviceRandom
	AdviceSequential
)

// Mapping is a read-only memory mapping of a whole file.
type Mapping struct {
	path string

	mu       sync.Mutex
	released bool
	data     []byte
}

// Open maps path read-only. The caller must Release the mapping.
func Open(path string, advice Advice) (*Mapping, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED) //nolint:gosec // G115: fd fits int
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	if err := unix.Madvise(data, advice.flag()); err != nil {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("madvise %s: %w", path, err)
	}
	return &Mapping{path: path, data: data}, nil
}

func (a Advice) flag() int {
	switch a {
	case AdviceRandom:
		return unix.MADV_RANDOM
	case AdviceSequential:
		return unix.MADV_SEQUENTIAL
	default:
		return unix.MADV_NORMAL
	}
}

// Bytes returns the mapped region. The slice is invalid after Release.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Len returns the size of the mapped file.
func (m *Mapping) Len() int {
	return len(m.data)
}

// Path returns the mapped file's path.
func (m *Mapping) Path() string {
	return m.path
}

// Release unmaps the file. A second call returns ErrReleased.
func (m *Mapping) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return ErrReleased
	}
	m.released = true
	data := m.data
	m.data = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap %s: %w", m.path, err)
	}
	return nil
}
