package router

import "errors"

var (
	// ErrNoSession is returned by PublishOnce when no session is attached.
	ErrNoSession = errors.New("router: no session attached")

	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("router: invalid configuration")
)
