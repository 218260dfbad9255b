package storage

import (
	"context"
	"errors"
)

// Domain-specific errors for storage operations.
var (
	// ErrNotFound is returned when the named resource does not exist.
	ErrNotFound = errors.New("storage: resource not found")

	// ErrInvalidHandle is returned for unknown or already closed handles.
	ErrInvalidHandle = errors.New("storage: invalid handle")

	// ErrUnsupportedMode is returned when a backend cannot open a resource in the requested mode.
	ErrUnsupportedMode = errors.New("storage: unsupported open mode")
)

// ResourceClass is a logical category of stored artifact.
type ResourceClass string

// ClassCertificate holds key and certificate material.
const ClassCertificate ResourceClass = "certificate"

// OpenMode selects how a resource is opened.
type OpenMode int

// ModeRead opens a resource read-only.
const ModeRead OpenMode = iota + 1

// Handle refers to an open resource. The zero value is never a valid handle.
type Handle uint64

// Store is the storage primitive.
type Store interface {
	// Open opens the named resource. It returns an error wrapping ErrNotFound
	// when the resource does not exist.
	Open(ctx context.Context, class ResourceClass, name string, mode OpenMode) (Handle, error)

	// Stat returns the resource size in bytes.
	Stat(ctx context.Context, class ResourceClass, name string) (int64, error)

	// Read returns up to maxLen bytes starting at offset.
	Read(ctx context.Context, h Handle, offset int64, maxLen int) ([]byte, error)

	// Close releases the handle.
	Close(h Handle) error
}
