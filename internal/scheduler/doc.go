// Package scheduler keeps the periodic tasks of a device session.
//
// A Registry holds at most one active task per Purpose. Scheduling a purpose
// that is already active cancels the old task first, so two timers for the
// same purpose never run at once. Cancelling an invalid or already cancelled
// handle is a no-op, which lets shutdown code cancel unconditionally.
//
// Timer firings do not run the task directly: they post it to a Poster (the
// event loop). A firing still queued when its handle is cancelled is dropped;
// a firing that has started runs to completion.
//
// Usage:
//
//	reg := scheduler.New(loop)
//	h := reg.Schedule(scheduler.PurposePublish, publish, 5*time.Second, 15*time.Second)
//	// ...
//	reg.Cancel(h)
package scheduler
