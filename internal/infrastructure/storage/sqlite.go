package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/database"
)

// resourceRef is what an SQLite handle points at.
type resourceRef struct {
	class ResourceClass
	name  string
}

// SQLite is a Store backed by the credential_resources table.
type SQLite struct {
	db *database.DB

	mu      sync.Mutex
	nextID  Handle
	handles map[Handle]resourceRef
}

// NewSQLite creates a store on db. The schema must already exist
// (database.DB.EnsureSchema).
func NewSQLite(db *database.DB) *SQLite {
	return &SQLite{
		db:      db,
		handles: make(map[Handle]resourceRef),
	}
}

// Put inserts or replaces a resource. It is used to provision key material.
func (s *SQLite) Put(ctx context.Context, class ResourceClass, name string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credential_resources (class, name, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (class, name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(class), name, data, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("storage: storing %s: %w", name, err)
	}
	return nil
}

// Open implements Store.
func (s *SQLite) Open(ctx context.Context, class ResourceClass, name string, mode OpenMode) (Handle, error) {
	if mode != ModeRead {
		return 0, ErrUnsupportedMode
	}
	if _, err := s.Stat(ctx, class, name); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.nextID++
	h := s.nextID
	s.handles[h] = resourceRef{class: class, name: name}
	s.mu.Unlock()

	return h, nil
}

// Stat implements Store.
func (s *SQLite) Stat(ctx context.Context, class ResourceClass, name string) (int64, error) {
	var size int64
	err := s.db.QueryRowContext(ctx,
		"SELECT length(data) FROM credential_resources WHERE class = ? AND name = ?",
		string(class), name,
	).Scan(&size)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return 0, fmt.Errorf("storage: stat %s: %w", name, err)
	}
	return size, nil
}

// Read implements Store.
func (s *SQLite) Read(ctx context.Context, h Handle, offset int64, maxLen int) ([]byte, error) {
	s.mu.Lock()
	ref, ok := s.handles[h]
	s.mu.Unlock()
	if !ok {
		return nil, ErrInvalidHandle
	}

	var data []byte
	// SQLite substr is 1-based; a blob argument yields a blob.
	err := s.db.QueryRowContext(ctx,
		"SELECT substr(data, ?, ?) FROM credential_resources WHERE class = ? AND name = ?",
		offset+1, maxLen, string(ref.class), ref.name,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.name)
		}
		return nil, fmt.Errorf("storage: reading %s: %w", ref.name, err)
	}
	return data, nil
}

// Close implements Store.
func (s *SQLite) Close(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[h]; !ok {
		return ErrInvalidHandle
	}
	delete(s.handles, h)
	return nil
}

// OpenHandles returns the number of handles not yet closed.
func (s *SQLite) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
