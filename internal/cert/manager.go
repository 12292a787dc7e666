// Package cert serves the HTTP listener's TLS key pair and reloads it when
// the files on disk change, so certificates can be rotated without a
// restart.
package cert

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"kestrel/internal/logging"
)

var errNoCertificate = errors.New("no certificate loaded")

// Manager holds one certificate/key pair loaded from files.
// Safe for concurrent use.
type Manager struct {
	certFile, keyFile string
	logger            *slog.Logger
	cert              atomic.Pointer[tls.Certificate]
}

// Load reads the key pair. It fails if either file is missing or the pair
// does not parse.
func Load(certFile, keyFile string, logger *slog.Logger) (*Manager, error) {
	m := &Manager{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logging.Default(logger).With("component", "cert"),
	}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload re-reads the key pair. On failure the previous certificate stays
// in use.
func (m *Manager) Reload() error {
	cert, err := tls.LoadX509KeyPair(m.certFile, m.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair %s: %w", m.certFile, err)
	}
	m.cert.Store(&cert)
	m.logger.Info("certificate loaded", "file", m.certFile)
	return nil
}

// Certificate returns the current certificate.
func (m *Manager) Certificate() *tls.Certificate { return m.cert.Load() }

// GetCertificate is a tls.Config.GetCertificate callback.
func (m *Manager) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	c := m.cert.Load()
	if c == nil {
		return nil, errNoCertificate
	}
	return c, nil
}

// TLSConfig returns a tls.Config that uses this manager for GetCertificate.
// Caller may set additional fields (MinVersion, CipherSuites, etc.).
func (m *Manager) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

// Watch reloads the pair whenever either file is written or replaced,
// until ctx is done. Directories are watched rather than files so that
// rename-based rotation is seen.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	watched := map[string]bool{}
	for _, f := range []string{m.certFile, m.keyFile} {
		dir := filepath.Dir(f)
		if watched[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return err
		}
		watched[dir] = true
	}
	certName, keyName := filepath.Clean(m.certFile), filepath.Clean(m.keyFile)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("watcher error", "error", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if name := filepath.Clean(ev.Name); name != certName && name != keyName {
				continue
			}
			if err := m.Reload(); err != nil {
				// A rotation writes two files; the first event may see a
				// mismatched pair.
				m.logger.Debug("reload cert", "error", err)
			}
		}
	}
}
