package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/database"
)

// backend pairs a Store with its handle counter and a way to seed resources.
type backend struct {
	store   Store
	handles func() int
	put     func(t *testing.T, name string, data []byte)
}

func fsBackend(t *testing.T) backend {
	t.Helper()
	dir := t.TempDir()
	s := NewFS(map[ResourceClass]string{ClassCertificate: dir})
	return backend{
		store:   s,
		handles: s.OpenHandles,
		put: func(t *testing.T, name string, data []byte) {
			t.Helper()
			if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
				t.Fatalf("writing %s: %v", name, err)
			}
		},
	}
}

func sqliteBackend(t *testing.T) backend {
	t.Helper()
	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	s := NewSQLite(db)
	return backend{
		store:   s,
		handles: s.OpenHandles,
		put: func(t *testing.T, name string, data []byte) {
			t.Helper()
			if err := s.Put(context.Background(), ClassCertificate, name, data); err != nil {
				t.Fatalf("Put(%s) error = %v", name, err)
			}
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b backend)) {
	t.Run("fs", func(t *testing.T) { fn(t, fsBackend(t)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, sqliteBackend(t)) })
}

func TestStore_OpenStatReadClose(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		data := bytes.Repeat([]byte("k"), 120)
		b.put(t, "ec_private.pem", data)

		size, err := b.store.Stat(ctx, ClassCertificate, "ec_private.pem")
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if size != 120 {
			t.Errorf("Stat() = %d, want 120", size)
		}

		h, err := b.store.Open(ctx, ClassCertificate, "ec_private.pem", ModeRead)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if b.handles() != 1 {
			t.Errorf("OpenHandles() = %d, want 1", b.handles())
		}

		got, err := b.store.Read(ctx, h, 0, 200)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("Read() returned %d bytes, want %d", len(got), len(data))
		}

		part, err := b.store.Read(ctx, h, 100, 10)
		if err != nil {
			t.Fatalf("Read() at offset error = %v", err)
		}
		if len(part) != 10 {
			t.Errorf("Read() at offset returned %d bytes, want 10", len(part))
		}

		if err := b.store.Close(h); err != nil {
			t.Errorf("Close() error = %v", err)
		}
		if b.handles() != 0 {
			t.Errorf("OpenHandles() after Close = %d, want 0", b.handles())
		}
		if err := b.store.Close(h); !errors.Is(err, ErrInvalidHandle) {
			t.Errorf("second Close() error = %v, want ErrInvalidHandle", err)
		}
		if _, err := b.store.Read(ctx, h, 0, 1); !errors.Is(err, ErrInvalidHandle) {
			t.Errorf("Read() after Close error = %v, want ErrInvalidHandle", err)
		}
	})
}

func TestStore_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()

		if _, err := b.store.Open(ctx, ClassCertificate, "missing.pem", ModeRead); !errors.Is(err, ErrNotFound) {
			t.Errorf("Open() error = %v, want ErrNotFound", err)
		}
		if _, err := b.store.Stat(ctx, ClassCertificate, "missing.pem"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Stat() error = %v, want ErrNotFound", err)
		}
		if b.handles() != 0 {
			t.Errorf("OpenHandles() = %d, want 0", b.handles())
		}
	})
}

func TestStore_UnsupportedMode(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		b.put(t, "key.pem", []byte("x"))
		if _, err := b.store.Open(context.Background(), ClassCertificate, "key.pem", OpenMode(99)); !errors.Is(err, ErrUnsupportedMode) {
			t.Errorf("Open() error = %v, want ErrUnsupportedMode", err)
		}
	})
}

func TestFS_Path(t *testing.T) {
	s := NewFS(map[ResourceClass]string{ClassCertificate: "/etc/devicelink"})

	if got := s.Path(ClassCertificate, "ec_private.pem"); got != filepath.Join("/etc/devicelink", "ec_private.pem") {
		t.Errorf("Path() = %q", got)
	}
	if got := s.Path(ClassCertificate, "/keys/k.pem"); got != "/keys/k.pem" {
		t.Errorf("Path() absolute = %q, want /keys/k.pem", got)
	}
	if got := s.Path(ResourceClass("other"), "k.pem"); got != "k.pem" {
		t.Errorf("Path() unmapped class = %q, want k.pem", got)
	}
}

func TestSQLite_PutReplaces(t *testing.T) {
	b := sqliteBackend(t)
	ctx := context.Background()

	b.put(t, "key.pem", []byte("first"))
	b.put(t, "key.pem", []byte("second-version"))

	size, err := b.store.Stat(ctx, ClassCertificate, "key.pem")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if size != int64(len("second-version")) {
		t.Errorf("Stat() = %d, want %d", size, len("second-version"))
	}
}
