// Package events provides the single cooperative event loop that every
// device agent callback runs on.
//
// Session engine notifications, timer firings and credential refresh
// notifications arrive from other goroutines and are posted to the loop. The
// loop runs each posted function to completion before starting the next, so
// the state they touch needs no further locking.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// defaultQueueSize is the number of posted functions buffered before Post blocks.
const defaultQueueSize = 64

// ErrStopped is returned by Run when called on a loop that has already stopped.
var ErrStopped = errors.New("events: loop stopped")

// Logger is the logging interface used to report recovered panics.
type Logger interface {
	Error(msg string, args ...any)
}

// Loop serialises callbacks onto one goroutine.
//
// Thread Safety:
//   - Post and Stop are safe for concurrent use.
//   - Run must be called once.
type Loop struct {
	queue    chan func()
	stopped  chan struct{}
	stopOnce sync.Once
	logger   Logger
}

// New creates a loop with the given queue size (0 selects the default).
func New(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Loop{
		queue:   make(chan func(), queueSize),
		stopped: make(chan struct{}),
	}
}

// SetLogger sets the logger used to report panics raised by posted functions.
func (l *Loop) SetLogger(logger Logger) {
	l.logger = logger
}

// Post queues fn to run on the loop. It blocks while the queue is full and
// returns false once the loop has stopped, in which case fn never runs.
//
// Post must not be called from the loop goroutine while the queue may be full.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}

	select {
	case l.queue <- fn:
		return true
	case <-l.stopped:
		return false
	}
}

// Run processes posted functions until Stop is called or ctx is cancelled.
// It returns nil after Stop and ctx.Err() after cancellation. Functions still
// queued when the loop stops are discarded.
func (l *Loop) Run(ctx context.Context) error {
	select {
	case <-l.stopped:
		return ErrStopped
	default:
	}

	for {
		select {
		case <-l.stopped:
			return nil
		case <-ctx.Done():
			l.Stop()
			return fmt.Errorf("event loop: %w", ctx.Err())
		case fn := <-l.queue:
			// select picks randomly among ready cases; Stop wins over queued work.
			select {
			case <-l.stopped:
				return nil
			default:
			}
			l.invoke(fn)
		}
	}
}

// invoke runs fn, recovering a panic so one bad callback cannot kill the loop.
func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil && l.logger != nil {
			l.logger.Error("event loop callback panic recovered", "panic", r)
		}
	}()
	fn()
}

// Stop ends event processing. It is idempotent and may be called from a
// posted function, in which case Run returns once that function completes.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopped)
	})
}

// Done is closed when the loop stops.
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}
