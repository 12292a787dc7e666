// Package generation manages the on-disk index generations and hands out
// leases on the one currently being served.
//
// Layout:
//
//	<root>/
//	  CURRENT                 (id of the served generation, one line)
//	  generations/
//	    <uuid-v7>/            (lexicon.dat, docs.dat, values.dat, positions.dat)
//
// A build writes into a fresh directory from NewBuildDir and calls
// Publish, which swaps CURRENT atomically. Readers hold a Lease for the
// length of a query; a retired generation is closed, and its mappings
// dropped, only after its last lease is released.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"kestrel/internal/callgroup"
	"kestrel/internal/logging"
	"kestrel/internal/metrics"
	"kestrel/internal/reverse"
)

const (
	currentFile    = "CURRENT"
	generationsDir = "generations"
)

var (
	ErrNoGeneration = errors.New("no generation published")
	ErrNotManaged   = errors.New("directory is not a generation of this root")
	ErrClosed       = errors.New("generation manager closed")
)

// Options configures a Manager.
type Options struct {
	// Index is passed to reverse.Open for every generation. Its Logger and
	// Metrics default to the manager's.
	Index   reverse.Options
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Manager owns a generation root.
type Manager struct {
	root    string
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
	reloads callgroup.Group[string, string]

	mu      sync.Mutex
	active  *generation
	retired []*generation
	swapped chan struct{} // closed and replaced on every swap
	closed  bool
}

type generation struct {
	id      string
	idx     *reverse.Index
	refs    int
	retired bool
}

// NewManager prepares root. It does not open anything; call Reload (or
// Current, which reloads lazily) to load the published generation.
func NewManager(root string, opts Options) (*Manager, error) {
	if err := os.MkdirAll(filepath.Join(root, generationsDir), 0o750); err != nil {
		return nil, fmt.Errorf("create generation root %s: %w", root, err)
	}
	m := &Manager{
		root:    root,
		opts:    opts,
		logger:  logging.Default(opts.Logger).With("component", "generation"),
		metrics: metrics.Default(opts.Metrics),
		swapped: make(chan struct{}),
	}
	if m.opts.Index.Logger == nil {
		m.opts.Index.Logger = opts.Logger
	}
	if m.opts.Index.Metrics == nil {
		m.opts.Index.Metrics = m.metrics
	}
	return m, nil
}

// Root returns the generation root directory.
func (m *Manager) Root() string { return m.root }

// Dir returns the directory of generation id.
func (m *Manager) Dir(id string) string {
	return filepath.Join(m.root, generationsDir, id)
}

// NewBuildDir creates an empty directory for a new generation. Ids are
// UUIDv7, so directory names sort by creation time.
func (m *Manager) NewBuildDir() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	dir := m.Dir(id.String())
	if err := os.Mkdir(dir, 0o750); err != nil {
		return "", fmt.Errorf("create build dir: %w", err)
	}
	return dir, nil
}

// Publish points CURRENT at dir, which must be a generation directory
// under this root holding a complete index. The index is opened before
// the pointer moves so a broken build is never published. Publish also
// reloads, so the caller's next Current sees the new generation.
func (m *Manager) Publish(ctx context.Context, dir string) error {
	id, err := m.idOf(dir)
	if err != nil {
		return err
	}
	idx, err := reverse.Open(dir, m.opts.Index)
	if err != nil {
		return fmt.Errorf("verify generation %s: %w", id, err)
	}
	if err := idx.Close(); err != nil {
		return err
	}
	if err := m.writeCurrent(id); err != nil {
		return err
	}
	m.logger.Info("generation published", "id", id)
	// A reload already in flight may have read the old pointer.
	for range 2 {
		served, err := m.Reload(ctx)
		if err != nil || served == id {
			return err
		}
	}
	return nil
}

func (m *Manager) idOf(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	parent, err := filepath.Abs(filepath.Join(m.root, generationsDir))
	if err != nil {
		return "", err
	}
	if filepath.Dir(abs) != parent {
		return "", fmt.Errorf("%w: %s", ErrNotManaged, dir)
	}
	id := filepath.Base(abs)
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotManaged, dir)
	}
	return id, nil
}

// writeCurrent replaces CURRENT via temp file and rename, then syncs the
// directory so the swap survives a crash.
func (m *Manager) writeCurrent(id string) error {
	tmp, err := os.CreateTemp(m.root, ".current-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(id + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(m.root, currentFile)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("swap CURRENT: %w", err)
	}
	d, err := os.Open(m.root)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}

// CurrentID returns the id CURRENT points at.
func (m *Manager) CurrentID() (string, error) {
	data, err := os.ReadFile(filepath.Join(m.root, currentFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoGeneration
	}
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", ErrNoGeneration
	}
	return id, nil
}

// Reload opens the generation CURRENT points at, if it is not the one
// already being served, and retires the previous one. Concurrent calls
// share a single reload. It returns the id now served.
func (m *Manager) Reload(ctx context.Context) (string, error) {
	return m.reloads.Do(ctx, "reload", m.reload)
}

func (m *Manager) reload() (string, error) {
	id, err := m.CurrentID()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	if m.active != nil && m.active.id == id {
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()

	idx, err := reverse.Open(m.Dir(id), m.opts.Index)
	if err != nil {
		return "", fmt.Errorf("open generation %s: %w", id, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = idx.Close()
		return "", ErrClosed
	}
	prev := m.active
	m.active = &generation{id: id, idx: idx}
	close(m.swapped)
	m.swapped = make(chan struct{})
	m.mu.Unlock()

	m.metrics.GenerationSwaps.Inc()
	m.logger.Info("generation loaded", "id", id)
	if prev != nil {
		m.retire(prev)
	}
	return id, nil
}

// retire marks g as no longer served and closes it once unleased.
func (m *Manager) retire(g *generation) {
	m.mu.Lock()
	g.retired = true
	idle := g.refs == 0
	if !idle {
		m.retired = append(m.retired, g)
	}
	m.mu.Unlock()
	if idle {
		m.closeGeneration(g)
	}
}

func (m *Manager) closeGeneration(g *generation) {
	if err := g.idx.Close(); err != nil {
		m.logger.Warn("close generation", "id", g.id, "error", err)
		return
	}
	m.logger.Debug("generation closed", "id", g.id)
}

// Swapped returns a channel that is closed at the next generation swap.
// Call it again after each wakeup.
func (m *Manager) Swapped() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.swapped
}

// Lease pins a generation open. Release it when the query is done.
type Lease struct {
	m    *Manager
	gen  *generation
	once sync.Once
}

// Current leases the served generation, loading it first if needed.
func (m *Manager) Current(ctx context.Context) (*Lease, error) {
	m.mu.Lock()
	loaded := m.active != nil
	m.mu.Unlock()
	if !loaded {
		if _, err := m.Reload(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.active == nil {
		return nil, ErrNoGeneration
	}
	m.active.refs++
	m.metrics.ActiveLeases.Inc()
	return &Lease{m: m, gen: m.active}, nil
}

// ID returns the leased generation's id.
func (l *Lease) ID() string { return l.gen.id }

// Index returns the leased generation's index. It stays valid until Release.
func (l *Lease) Index() *reverse.Index { return l.gen.idx }

// Release drops the lease. Extra calls are no-ops.
func (l *Lease) Release() {
	l.once.Do(func() {
		m := l.m
		m.mu.Lock()
		l.gen.refs--
		m.metrics.ActiveLeases.Dec()
		closeNow := l.gen.retired && l.gen.refs == 0
		if closeNow {
			m.retired = slices.DeleteFunc(m.retired, func(g *generation) bool { return g == l.gen })
		}
		m.mu.Unlock()
		if closeNow {
			m.closeGeneration(l.gen)
		}
	})
}

// Generations lists the generation ids on disk, oldest first. Builds in
// progress are included.
func (m *Manager) Generations() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(m.root, generationsDir))
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if _, err := uuid.Parse(e.Name()); e.IsDir() && err == nil {
			ids = append(ids, e.Name())
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Prune deletes generation directories beyond the newest keep, never
// touching the served generation or one still under lease. It returns
// the ids removed. The newest directory is always kept, since it may be
// a build still being written.
func (m *Manager) Prune(keep int) ([]string, error) {
	keep = max(keep, 1)
	ids, err := m.Generations()
	if err != nil {
		return nil, err
	}

	current, err := m.CurrentID()
	if err != nil && !errors.Is(err, ErrNoGeneration) {
		return nil, err
	}

	m.mu.Lock()
	pinned := map[string]bool{current: true}
	if m.active != nil {
		pinned[m.active.id] = true
	}
	for _, g := range m.retired {
		pinned[g.id] = true
	}
	m.mu.Unlock()

	var removed []string
	var errs []error
	for i, id := range ids {
		if pinned[id] || i >= len(ids)-keep {
			continue
		}
		if err := os.RemoveAll(m.Dir(id)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		m.logger.Info("generations pruned", "removed", len(removed), "kept", len(ids)-len(removed))
	}
	return removed, errors.Join(errs...)
}

// Close retires the served generation. Outstanding leases stay usable
// until released.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	prev := m.active
	m.active = nil
	m.mu.Unlock()
	if prev != nil {
		m.retire(prev)
	}
	return nil
}
