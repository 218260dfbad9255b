// Package api serves the local status API of the device agent.
//
// Endpoints:
//
//	GET /api/v1/health  liveness plus optional dependency checks
//	GET /api/v1/status  connection phase, counters, token expiry,
//	                    subscriptions and message statistics
//
// The server only reads snapshots; it never posts to the event loop, so a slow
// client cannot delay the connection lifecycle.
package api
