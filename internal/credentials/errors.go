package credentials

import "errors"

// Domain-specific errors for credential loading.
var (
	// ErrResourceNotFound is returned when the key resource does not exist.
	ErrResourceNotFound = errors.New("credentials: resource not found")

	// ErrBufferTooSmall is returned when the resource is larger than the buffer capacity.
	ErrBufferTooSmall = errors.New("credentials: resource exceeds buffer capacity")
)
