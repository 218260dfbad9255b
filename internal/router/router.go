package router

import (
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-devicelink/internal/scheduler"
)

// OverflowPolicy decides what happens to a payload larger than the local buffer.
type OverflowPolicy string

const (
	// PolicyTruncate delivers the prefix that fits and flags it as truncated.
	PolicyTruncate OverflowPolicy = "truncate"

	// PolicyReject drops the message.
	PolicyReject OverflowPolicy = "reject"
)

// Publisher is the slice of a session the router needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, onDone func(error)) error
}

// Recorder receives message telemetry. Implementations must not block.
type Recorder interface {
	RecordPublish(topic string, size int, err error)
	RecordInbound(topic string, size int, truncated, rejected bool)
}

// Logger is the logging surface used by the router.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

type noopRecorder struct{}

func (noopRecorder) RecordPublish(string, int, error)      {}
func (noopRecorder) RecordInbound(string, int, bool, bool) {}

// Message is an inbound message after the bounded copy.
//
// Payload aliases the router's buffer and is only valid during the handler
// call; copy it to keep it.
type Message struct {
	Topic   string
	Pattern string
	Payload []byte
	QoS     byte

	// Truncated is set when the transport delivered more than fits the buffer.
	Truncated bool

	// Size is the payload length the transport reported.
	Size int
}

// Handler processes one inbound message.
type Handler func(Message)

// Config configures outbound publication and inbound bounds.
type Config struct {
	Topic   string
	Message []byte
	QoS     byte

	MaxPayload int
	Overflow   OverflowPolicy
}

// Stats counts router activity since start.
type Stats struct {
	Published     uint64 `json:"published"`
	PublishFailed uint64 `json:"publish_failed"`
	Delivered     uint64 `json:"delivered"`
	Truncated     uint64 `json:"truncated"`
	Rejected      uint64 `json:"rejected"`
	Ignored       uint64 `json:"ignored"`
}

type route struct {
	pattern string
	handler Handler
}

// Router dispatches inbound messages and publishes the configured message.
type Router struct {
	cfg      Config
	buf      []byte
	pub      Publisher
	routes   []route
	fallback Handler
	logger   Logger
	recorder Recorder

	statsMu sync.Mutex
	stats   Stats
}

// New creates a router.
func New(cfg Config) (*Router, error) {
	if err := mqtt.ValidateTopicName(cfg.Topic); err != nil {
		return nil, fmt.Errorf("%w: publish topic: %w", ErrInvalidConfig, err)
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("%w: qos %d", ErrInvalidConfig, cfg.QoS)
	}
	if cfg.MaxPayload <= 0 {
		return nil, fmt.Errorf("%w: max payload must be positive", ErrInvalidConfig)
	}
	switch cfg.Overflow {
	case "":
		cfg.Overflow = PolicyTruncate
	case PolicyTruncate, PolicyReject:
	default:
		return nil, fmt.Errorf("%w: overflow policy %q", ErrInvalidConfig, cfg.Overflow)
	}

	r := &Router{
		cfg:      cfg,
		buf:      make([]byte, cfg.MaxPayload),
		logger:   noopLogger{},
		recorder: noopRecorder{},
	}
	r.fallback = r.logMessage
	return r, nil
}

// SetLogger sets the logger.
func (r *Router) SetLogger(l Logger) {
	if l != nil {
		r.logger = l
	}
}

// SetRecorder sets the telemetry recorder.
func (r *Router) SetRecorder(rec Recorder) {
	if rec != nil {
		r.recorder = rec
	}
}

// Attach makes p the target of outbound publishes.
func (r *Router) Attach(p Publisher) {
	r.pub = p
}

// Detach forgets the current session. Later publishes return ErrNoSession.
func (r *Router) Detach() {
	r.pub = nil
}

// Attached reports whether a session is attached.
func (r *Router) Attached() bool {
	return r.pub != nil
}

// PublishOnce publishes the configured message to the configured topic.
func (r *Router) PublishOnce() error {
	if r.pub == nil {
		return ErrNoSession
	}

	topic := r.cfg.Topic
	size := len(r.cfg.Message)
	err := r.pub.Publish(topic, r.cfg.Message, r.cfg.QoS, func(err error) {
		r.publishDone(topic, size, err)
	})
	if err != nil {
		r.publishDone(topic, size, err)
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

func (r *Router) publishDone(topic string, size int, err error) {
	r.statsMu.Lock()
	if err != nil {
		r.stats.PublishFailed++
	} else {
		r.stats.Published++
	}
	r.statsMu.Unlock()

	r.recorder.RecordPublish(topic, size, err)
	if err != nil {
		r.logger.Warn("publish failed", "topic", topic, "error", err)
		return
	}
	r.logger.Debug("published", "topic", topic, "bytes", size)
}

// PeriodicTask returns the scheduler task that publishes on every firing.
func (r *Router) PeriodicTask() scheduler.Task {
	return func(scheduler.Handle) {
		if err := r.PublishOnce(); err != nil {
			r.logger.Debug("periodic publish skipped", "error", err)
		}
	}
}

// Handle registers fn for messages whose topic matches pattern. Patterns are
// tried in registration order.
func (r *Router) Handle(pattern string, fn Handler) error {
	if err := mqtt.ValidateTopicFilter(pattern); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrInvalidConfig, pattern)
	}
	r.routes = append(r.routes, route{pattern: pattern, handler: fn})
	return nil
}

// SetDefault replaces the handler for messages no pattern matches. The
// initial default logs the topic and payload.
func (r *Router) SetDefault(fn Handler) {
	if fn != nil {
		r.fallback = fn
	}
}

// Dispatch handles one subscription callback. Only delivered messages are
// acted on; acknowledgements and failures are logged and ignored.
func (r *Router) Dispatch(call mqtt.SubscriptionCall) {
	switch call.Type {
	case mqtt.CallMessageDelivered:
	case mqtt.CallSubscriptionFailed:
		r.logger.Warn("subscription refused", "pattern", call.Pattern, "error", call.Err)
		r.countIgnored()
		return
	default:
		r.logger.Debug("subscription callback ignored", "type", call.Type.String(), "pattern", call.Pattern)
		r.countIgnored()
		return
	}

	size := len(call.Payload)
	n, truncated := BoundedCopy(r.buf, call.Payload)

	if truncated && r.cfg.Overflow == PolicyReject {
		r.statsMu.Lock()
		r.stats.Rejected++
		r.statsMu.Unlock()
		r.recorder.RecordInbound(call.Topic, size, false, true)
		r.logger.Warn("inbound message rejected",
			"topic", call.Topic, "bytes", size, "max_payload", len(r.buf))
		return
	}

	r.statsMu.Lock()
	r.stats.Delivered++
	if truncated {
		r.stats.Truncated++
	}
	r.statsMu.Unlock()
	r.recorder.RecordInbound(call.Topic, size, truncated, false)
	if truncated {
		r.logger.Warn("inbound message truncated",
			"topic", call.Topic, "bytes", size, "max_payload", len(r.buf))
	}

	msg := Message{
		Topic:     call.Topic,
		Pattern:   call.Pattern,
		Payload:   r.buf[:n],
		QoS:       call.QoS,
		Truncated: truncated,
		Size:      size,
	}
	r.handlerFor(call.Topic)(msg)
}

func (r *Router) handlerFor(topic string) Handler {
	for _, rt := range r.routes {
		if mqtt.MatchTopic(rt.pattern, topic) {
			return rt.handler
		}
	}
	return r.fallback
}

func (r *Router) countIgnored() {
	r.statsMu.Lock()
	r.stats.Ignored++
	r.statsMu.Unlock()
}

func (r *Router) logMessage(msg Message) {
	r.logger.Info("message received",
		"topic", msg.Topic,
		"payload", string(msg.Payload),
		"truncated", msg.Truncated,
	)
}

// Stats returns a copy of the counters. Safe to call from any goroutine.
func (r *Router) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}
