package credentials

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Logger is the logging surface used by Watcher.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Watcher calls onChange whenever a key file is written or recreated.
//
// The parent directory is watched rather than the file itself so that editors
// and tools that replace the file by rename are still observed.
type Watcher struct {
	fw       *fsnotify.Watcher
	path     string
	onChange func()
	logger   Logger
}

// NewWatcher starts watching path. onChange runs on the Run goroutine and
// should only hand the notification off (for example, post it to a loop).
func NewWatcher(path string, onChange func()) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: resolving %s: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("credentials: creating watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("credentials: watching %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		fw:       fw,
		path:     abs,
		onChange: onChange,
		logger:   noopLogger{},
	}, nil
}

// SetLogger sets the logger.
func (w *Watcher) SetLogger(l Logger) {
	if l != nil {
		w.logger = l
	}
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Run delivers change notifications until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.logger.Debug("key file changed", "path", w.path, "op", ev.Op.String())
			w.onChange()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("key file watcher error", "path", w.path, "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if err := w.fw.Close(); err != nil {
		return fmt.Errorf("credentials: closing watcher: %w", err)
	}
	return nil
}
