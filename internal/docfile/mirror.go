// Package docfile mirrors the day's document to a plain file so any editor can act as the
// editing surface.
package docfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler receives the file content after an external write.
type ChangeHandler func(ctx context.Context, content string) error

// Mirror keeps a file in step with the document. Writes made through Write are not
// reported back as changes.
type Mirror struct {
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	last string
}

// NewMirror prepares a mirror for path. The parent directory must exist.
func NewMirror(path string, logger *zap.Logger) (*Mirror, error) {
	if path == "" {
		return nil, fmt.Errorf("docfile: path is required")
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("docfile: resolve %s: %w", path, err)
	}
	info, err := os.Stat(filepath.Dir(absolute))
	if err != nil {
		return nil, fmt.Errorf("docfile: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("docfile: %s is not a directory", filepath.Dir(absolute))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{path: absolute, logger: logger}, nil
}

// Path returns the absolute path of the mirrored file.
func (m *Mirror) Path() string {
	return m.path
}

// Write replaces the file with content through a rename so readers never see a partial file.
func (m *Mirror) Write(content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	temp, err := os.CreateTemp(filepath.Dir(m.path), "."+filepath.Base(m.path)+".*")
	if err != nil {
		return fmt.Errorf("docfile: create temp file: %w", err)
	}
	tempName := temp.Name()
	if _, err := temp.WriteString(content); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempName)
		return fmt.Errorf("docfile: write temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempName)
		return fmt.Errorf("docfile: close temp file: %w", err)
	}
	m.last = content
	if err := os.Rename(tempName, m.path); err != nil {
		_ = os.Remove(tempName)
		return fmt.Errorf("docfile: replace %s: %w", m.path, err)
	}
	return nil
}

// Watch reports external writes to the file until ctx is done. The parent directory is
// watched so editors that save by rename are seen too.
func (m *Mirror) Watch(ctx context.Context, onChange ChangeHandler) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("docfile: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("docfile: watch %s: %w", filepath.Dir(m.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != m.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			content, changed, err := m.read()
			if err != nil {
				m.logger.Warn("failed to read document file", zap.String("path", m.path), zap.Error(err))
				continue
			}
			if !changed {
				continue
			}
			if err := onChange(ctx, content); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.logger.Error("failed to apply document change", zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("document watcher error", zap.Error(err))
		}
	}
}

func (m *Mirror) read() (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	content := string(raw)
	if content == m.last {
		return "", false, nil
	}
	m.last = content
	return content, true, nil
}
