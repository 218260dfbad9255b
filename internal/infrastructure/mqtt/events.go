package mqtt

// ConnState is the kind of connection event.
type ConnState int

// Connection event kinds.
const (
	// StateOpened reports that CONNACK accepted the connection.
	StateOpened ConnState = iota + 1

	// StateOpenFailed reports that the connection attempt failed.
	StateOpenFailed

	// StateClosed reports that an open session ended.
	StateClosed
)

// String returns the event kind name.
func (s ConnState) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateOpenFailed:
		return "open_failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionEvent is delivered to the Open callback on the event loop.
type ConnectionEvent struct {
	// SessionID identifies the session the event belongs to.
	SessionID uint64

	State ConnState

	// Err is nil for StateOpened and for a closure the device requested.
	Err error

	// Reason is the protocol reason text for a failed open (the CONNACK
	// return code description) or the transport error text.
	Reason string

	Host string
	Port int
}

// Requested reports whether a closure was asked for by the device.
func (e ConnectionEvent) Requested() bool {
	return e.State == StateClosed && e.Err == nil
}

// CallType distinguishes the invocations a subscription callback receives.
type CallType int

// Subscription callback types.
const (
	// CallMessageDelivered carries an inbound message.
	CallMessageDelivered CallType = iota + 1

	// CallSubscriptionAck reports the broker accepted the subscription.
	CallSubscriptionAck

	// CallSubscriptionFailed reports the broker refused the subscription.
	CallSubscriptionFailed
)

// String returns the call type name.
func (c CallType) String() string {
	switch c {
	case CallMessageDelivered:
		return "message_delivered"
	case CallSubscriptionAck:
		return "subscription_ack"
	case CallSubscriptionFailed:
		return "subscription_failed"
	default:
		return "unknown"
	}
}

// SubscriptionCall is one invocation of a subscription callback.
//
// Payload aliases the transport's buffer and its length is untrusted; copy it
// with a bound before keeping it.
type SubscriptionCall struct {
	Type CallType

	// Pattern is the subscribed filter.
	Pattern string

	// Topic is the concrete topic of a delivered message.
	Topic string

	Payload   []byte
	QoS       byte
	Duplicate bool
	Retained  bool

	// Err is set for CallSubscriptionFailed.
	Err error
}
