package credentials

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/storage"
)

// readChunk bounds a single storage read.
const readChunk = 512

// Load copies the named resource into dst and returns the number of bytes
// written.
//
// The resource is staged before dst is touched, so any failure leaves dst
// unmodified. The storage handle is closed on every return path.
func Load(ctx context.Context, store storage.Store, class storage.ResourceClass, name string, dst *Buffer) (int, error) {
	size, err := store.Stat(ctx, class, name)
	if err != nil {
		return 0, mapStorageErr(name, err)
	}
	if size > int64(dst.Cap()) {
		return 0, fmt.Errorf("%w: %s is %d bytes, capacity %d", ErrBufferTooSmall, name, size, dst.Cap())
	}

	h, err := store.Open(ctx, class, name, storage.ModeRead)
	if err != nil {
		return 0, mapStorageErr(name, err)
	}
	defer store.Close(h) //nolint:errcheck // Read-only handle, nothing to flush

	staged := make([]byte, 0, size)
	for int64(len(staged)) < size {
		want := int(size) - len(staged)
		if want > readChunk {
			want = readChunk
		}
		chunk, err := store.Read(ctx, h, int64(len(staged)), want)
		if err != nil {
			return 0, fmt.Errorf("credentials: reading %s: %w", name, err)
		}
		if len(chunk) == 0 {
			return 0, fmt.Errorf("credentials: reading %s: short read at %d of %d bytes", name, len(staged), size)
		}
		staged = append(staged, chunk...)
	}

	// A resource that grew after Stat would otherwise load truncated.
	tail, err := store.Read(ctx, h, size, 1)
	if err != nil {
		return 0, fmt.Errorf("credentials: reading %s: %w", name, err)
	}
	if len(tail) != 0 {
		return 0, fmt.Errorf("credentials: %s changed while loading: larger than %d bytes", name, size)
	}

	if err := dst.Fill(staged); err != nil {
		return 0, err
	}
	return len(staged), nil
}

func mapStorageErr(name string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrResourceNotFound, name)
	}
	return fmt.Errorf("credentials: loading %s: %w", name, err)
}

// Guidance returns the message shown when the private key cannot be found.
// path is where the key was expected.
func Guidance(path string) string {
	expected := path
	if !filepath.IsAbs(path) {
		expected = "./" + filepath.ToSlash(filepath.Clean(path)) + " (relative to the working directory)"
	}
	return fmt.Sprintf(
		"private key not found at %s. "+
			"Place the key there, or point to it with -f/--private_key_filename "+
			"or credentials.private_key_file in the config file.",
		expected,
	)
}
