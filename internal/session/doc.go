// Package session is the connection state machine of the device agent.
//
// Transition is a pure function from (State, Event) to the next State and a
// list of Effects. Manager is the driver: it feeds events from the session
// engine, the scheduler and the operator into Transition and executes the
// returned effects (mint a token, open a session, publish, schedule, cancel,
// disconnect, stop the loop). Keeping the decisions in Transition lets every
// path be tested without a network.
//
// # Phases
//
//	Idle ──Start──▶ Connecting ──Opened──▶ Connected ──Closed(nil)──▶ ClosedIntentional
//	                    │                      │
//	               OpenFailed             Closed(err)
//	                    ▼                      ▼
//	                 Halted ◀──OpenFailed── ClosedUnexpected (one fresh-token reconnect)
//
// A device-requested closure never reconnects. An unexpected closure
// reconnects once with a freshly minted token; if that open fails the device
// halts unless a RetryPolicy allows more attempts with exponential backoff.
package session
