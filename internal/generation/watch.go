package generation

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads whenever CURRENT changes, until ctx is done. It watches
// the root directory rather than the file, since Publish replaces the
// file by rename.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(m.root); err != nil {
		return err
	}
	m.logger.Debug("watching for published generations", "root", m.root)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != currentFile {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if _, err := m.Reload(ctx); err != nil && !errors.Is(err, ErrNoGeneration) {
				m.logger.Warn("reload after CURRENT changed", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("fsnotify error", "error", err)
		}
	}
}
