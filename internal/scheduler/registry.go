package scheduler

import (
	"sync"
	"time"
)

// Purpose names the role of a periodic task and keys the one-per-purpose rule.
type Purpose string

// PurposePublish is the periodic telemetry publish.
const PurposePublish Purpose = "periodic-publish"

// Handle identifies a scheduled task. The zero value is InvalidHandle.
type Handle struct {
	id uint64
}

// InvalidHandle is the sentinel for "no task".
var InvalidHandle = Handle{}

// Valid reports whether h was returned by Schedule. A valid handle may still
// refer to a task that has since been cancelled.
func (h Handle) Valid() bool {
	return h.id != 0
}

// Task is invoked on the event loop for each firing with its own handle.
type Task func(h Handle)

// Poster queues work onto the event loop.
type Poster interface {
	Post(fn func()) bool
}

// Timer is the subset of *time.Timer the registry needs.
type Timer interface {
	Stop() bool
}

// AfterFunc arms a one-shot timer. time.AfterFunc satisfies it via StdAfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

// StdAfterFunc arms a real timer.
func StdAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// entry is one live task.
type entry struct {
	handle   Handle
	purpose  Purpose
	task     Task
	interval time.Duration
	timer    Timer
}

// Registry tracks the live periodic tasks.
//
// Thread Safety:
//   - All methods are safe for concurrent use; timer goroutines touch the
//     registry only to re-arm and to post firings.
type Registry struct {
	poster    Poster
	afterFunc AfterFunc

	mu        sync.Mutex
	nextID    uint64
	tasks     map[uint64]*entry
	byPurpose map[Purpose]Handle
	closed    bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithAfterFunc replaces the timer source (tests use a manual clock).
func WithAfterFunc(fn AfterFunc) Option {
	return func(r *Registry) {
		r.afterFunc = fn
	}
}

// New creates a Registry that posts firings to poster.
func New(poster Poster, opts ...Option) *Registry {
	r := &Registry{
		poster:    poster,
		afterFunc: StdAfterFunc,
		tasks:     make(map[uint64]*entry),
		byPurpose: make(map[Purpose]Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Schedule registers task to fire first after initialDelay and then every
// interval. Any task already active for purpose is cancelled first.
// It returns InvalidHandle if interval is not positive or the registry is closed.
func (r *Registry) Schedule(purpose Purpose, task Task, interval, initialDelay time.Duration) Handle {
	if interval <= 0 || task == nil {
		return InvalidHandle
	}
	if initialDelay < 0 {
		initialDelay = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return InvalidHandle
	}

	if old, ok := r.byPurpose[purpose]; ok {
		r.cancelLocked(old)
	}

	r.nextID++
	h := Handle{id: r.nextID}
	e := &entry{
		handle:   h,
		purpose:  purpose,
		task:     task,
		interval: interval,
	}
	r.tasks[h.id] = e
	r.byPurpose[purpose] = h
	e.timer = r.afterFunc(initialDelay, func() { r.fire(h) })

	return h
}

// Cancel stops the task behind h. Invalid, unknown and already cancelled
// handles are ignored.
func (r *Registry) Cancel(h Handle) {
	if !h.Valid() {
		return
	}
	r.mu.Lock()
	r.cancelLocked(h)
	r.mu.Unlock()
}

func (r *Registry) cancelLocked(h Handle) {
	e, ok := r.tasks[h.id]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(r.tasks, h.id)
	if r.byPurpose[e.purpose] == h {
		delete(r.byPurpose, e.purpose)
	}
}

// fire runs on the timer goroutine: it posts the task and re-arms the timer.
func (r *Registry) fire(h Handle) {
	r.mu.Lock()
	e, ok := r.tasks[h.id]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.timer = r.afterFunc(e.interval, func() { r.fire(h) })
	task := e.task
	r.mu.Unlock()

	r.poster.Post(func() {
		// Cancellation between posting and running drops the firing.
		if !r.Active(h) {
			return
		}
		task(h)
	})
}

// Active reports whether h refers to a live task.
func (r *Registry) Active(h Handle) bool {
	if !h.Valid() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[h.id]
	return ok
}

// Current returns the live handle for purpose, or InvalidHandle.
func (r *Registry) Current(purpose Purpose) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byPurpose[purpose]
}

// Len returns the number of live tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Close cancels every task and refuses further scheduling.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.tasks {
		r.cancelLocked(Handle{id: id})
	}
	r.closed = true
}
