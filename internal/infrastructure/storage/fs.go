package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FS is a Store backed by the local filesystem.
//
// Each resource class maps to a directory; relative names resolve against it
// and absolute names are used as given. Classes without a mapping resolve
// against the process working directory.
type FS struct {
	dirs map[ResourceClass]string

	mu      sync.Mutex
	nextID  Handle
	handles map[Handle]*os.File
}

// NewFS creates a filesystem store with the given class directories.
func NewFS(dirs map[ResourceClass]string) *FS {
	copied := make(map[ResourceClass]string, len(dirs))
	for k, v := range dirs {
		copied[k] = v
	}
	return &FS{
		dirs:    copied,
		handles: make(map[Handle]*os.File),
	}
}

// Path returns the filesystem path a resource resolves to.
func (s *FS) Path(class ResourceClass, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	dir := s.dirs[class]
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, name)
}

// Open implements Store.
func (s *FS) Open(_ context.Context, class ResourceClass, name string, mode OpenMode) (Handle, error) {
	if mode != ModeRead {
		return 0, ErrUnsupportedMode
	}

	f, err := os.Open(s.Path(class, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return 0, fmt.Errorf("storage: opening %s: %w", name, err)
	}

	s.mu.Lock()
	s.nextID++
	h := s.nextID
	s.handles[h] = f
	s.mu.Unlock()

	return h, nil
}

// Stat implements Store.
func (s *FS) Stat(_ context.Context, class ResourceClass, name string) (int64, error) {
	info, err := os.Stat(s.Path(class, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return 0, fmt.Errorf("storage: stat %s: %w", name, err)
	}
	return info.Size(), nil
}

// Read implements Store.
func (s *FS) Read(_ context.Context, h Handle, offset int64, maxLen int) ([]byte, error) {
	s.mu.Lock()
	f, ok := s.handles[h]
	s.mu.Unlock()
	if !ok {
		return nil, ErrInvalidHandle
	}

	buf := make([]byte, maxLen)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("storage: reading %s: %w", f.Name(), err)
	}
	return buf[:n], nil
}

// Close implements Store.
func (s *FS) Close(h Handle) error {
	s.mu.Lock()
	f, ok := s.handles[h]
	delete(s.handles, h)
	s.mu.Unlock()

	if !ok {
		return ErrInvalidHandle
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("storage: closing %s: %w", f.Name(), err)
	}
	return nil
}

// OpenHandles returns the number of handles not yet closed.
func (s *FS) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
