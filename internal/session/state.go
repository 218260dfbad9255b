package session

import (
	"fmt"
	"time"
)

// Phase is the lifecycle phase of the connection.
type Phase int

// Connection phases.
const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseDisconnecting
	PhaseClosedIntentional
	PhaseClosedUnexpected
	PhaseHalted
)

var phaseNames = map[Phase]string{
	PhaseIdle:              "idle",
	PhaseConnecting:        "connecting",
	PhaseConnected:         "connected",
	PhaseDisconnecting:     "disconnecting",
	PhaseClosedIntentional: "closed_intentional",
	PhaseClosedUnexpected:  "closed_unexpected",
	PhaseHalted:            "halted",
}

// String returns the phase name.
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// State is the state machine's complete state.
type State struct {
	Phase Phase

	// Attempts counts failed opens since the last successful one.
	Attempts int

	// Stalled is set in ClosedUnexpected when minting failed and no connect is
	// in flight; only a credential refresh leaves it.
	Stalled bool
}

// EventKind identifies an input to the state machine.
type EventKind int

// State machine inputs.
const (
	EventStart EventKind = iota + 1
	EventOpened
	EventOpenFailed
	EventClosed
	EventShutdown
	EventMintFailed
	EventCredentialsRefreshed
)

var eventNames = map[EventKind]string{
	EventStart:                "start",
	EventOpened:               "opened",
	EventOpenFailed:           "open_failed",
	EventClosed:               "closed",
	EventShutdown:             "shutdown",
	EventMintFailed:           "mint_failed",
	EventCredentialsRefreshed: "credentials_refreshed",
}

// String returns the event name.
func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one input. For EventClosed a nil Err means the device asked for
// the disconnect.
type Event struct {
	Kind EventKind
	Err  error
}

// EffectKind identifies an action the driver performs.
type EffectKind int

// Driver actions.
const (
	EffectMintToken EffectKind = iota + 1
	EffectConnect
	EffectConnectAfter
	EffectPublishNow
	EffectSchedulePublish
	EffectSubscribe
	EffectCancelPublish
	EffectDisconnect
	EffectStopLoop
)

var effectNames = map[EffectKind]string{
	EffectMintToken:       "mint_token",
	EffectConnect:         "connect",
	EffectConnectAfter:    "connect_after",
	EffectPublishNow:      "publish_now",
	EffectSchedulePublish: "schedule_publish",
	EffectSubscribe:       "subscribe",
	EffectCancelPublish:   "cancel_publish",
	EffectDisconnect:      "disconnect",
	EffectStopLoop:        "stop_loop",
}

// String returns the effect name.
func (k EffectKind) String() string {
	if name, ok := effectNames[k]; ok {
		return name
	}
	return fmt.Sprintf("effect(%d)", int(k))
}

// Effect is one action. Delay is only used by EffectConnectAfter.
type Effect struct {
	Kind  EffectKind
	Delay time.Duration
}

// RetryPolicy bounds reconnection after failed opens. The zero value halts on
// the first failed open.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Backoff returns the delay before retry number attempt (1-based): the
// initial delay doubled per attempt and capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.InitialDelay <= 0 {
		return 0
	}
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
