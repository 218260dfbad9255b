// Package router moves application messages in and out of the current
// session.
//
// Outbound, PublishOnce sends the configured message; PeriodicTask wraps it
// for the scheduler. Inbound, Dispatch accepts every subscription callback,
// acts only on delivered messages and copies each payload into a fixed local
// buffer with BoundedCopy before handing it to the handler whose pattern
// matches the topic.
//
// All methods except Stats are meant to run on the event loop.
package router
