package token

import "errors"

// Domain-specific errors for token minting.
var (
	// ErrSigning is returned when the signer rejects the key material.
	// Retrying with the same key cannot succeed.
	ErrSigning = errors.New("token: signing failed")

	// ErrInvalidValidity is returned for a validity outside (0, MaxValidity].
	ErrInvalidValidity = errors.New("token: invalid validity")

	// ErrMissingProjectID is returned when no project id is given.
	ErrMissingProjectID = errors.New("token: project id is required")

	// ErrNoCredentials is returned when the credential buffer is nil or empty.
	ErrNoCredentials = errors.New("token: no key material loaded")
)
