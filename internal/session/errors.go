package session

import "errors"

var (
	// ErrUnexpectedClosure wraps the transport error of a closure the device did not ask for.
	ErrUnexpectedClosure = errors.New("session: unexpected closure")

	// ErrLoopStopped is returned when the event loop no longer accepts work.
	ErrLoopStopped = errors.New("session: event loop stopped")

	// ErrInvalidSettings is returned by NewManager for unusable settings.
	ErrInvalidSettings = errors.New("session: invalid settings")
)
