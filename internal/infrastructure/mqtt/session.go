package mqtt

import (
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subscriptionFailure is the SUBACK return code for a refused filter.
const subscriptionFailure = 0x80

// Session is one logical connection. It is never reopened; the caller opens a
// new Session to reconnect.
type Session struct {
	id      uint64
	params  ConnectParams
	engine  *Engine
	client  pahomqtt.Client
	onState func(ConnectionEvent)

	// outcomeMu orders the Opened report against a concurrent closure so an
	// unopened session never reports StateClosed.
	outcomeMu sync.Mutex
	opened    atomic.Bool
	closing   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// ID returns the session identifier carried in its ConnectionEvents.
func (s *Session) ID() uint64 {
	return s.id
}

// Params returns the connection parameters with the password removed.
func (s *Session) Params() ConnectParams {
	p := s.params
	p.Password = ""
	return p
}

// IsOpen reports whether the session opened and has not closed.
func (s *Session) IsOpen() bool {
	return s.opened.Load() && !s.closed.Load()
}

func (s *Session) event(state ConnState, err error, reason string) ConnectionEvent {
	return ConnectionEvent{
		SessionID: s.id,
		State:     state,
		Err:       err,
		Reason:    reason,
		Host:      s.params.Host,
		Port:      s.params.Port,
	}
}

func (s *Session) deliver(ev ConnectionEvent) {
	s.engine.post(func() { s.onState(ev) })
}

func (s *Session) awaitOpen(tok pahomqtt.Token) {
	// paho enforces the connect timeout itself; the extra margin only guards
	// against a token that never completes.
	err := awaitToken(tok, 2*s.params.effectiveConnectTimeout())
	if err != nil {
		reason := connackReason(tok, err)
		s.closeOnce.Do(func() {
			s.outcomeMu.Lock()
			defer s.outcomeMu.Unlock()
			s.closed.Store(true)
			// A connect that completes after the timeout must not leave a
			// client behind.
			s.client.Disconnect(0)
			s.engine.release(s)
			s.deliver(s.event(StateOpenFailed, fmt.Errorf("%w: %s", ErrConnectionFailed, reason), reason))
		})
		return
	}

	s.outcomeMu.Lock()
	defer s.outcomeMu.Unlock()
	if s.closed.Load() {
		return
	}
	s.opened.Store(true)
	s.deliver(s.event(StateOpened, nil, ""))
}

// finish reports the one closure of a session. A nil err marks a
// device-requested disconnect. A session that never reported Opened reports
// StateOpenFailed instead, so every open attempt has exactly one outcome.
func (s *Session) finish(err error) {
	s.closeOnce.Do(func() {
		s.outcomeMu.Lock()
		defer s.outcomeMu.Unlock()
		s.closed.Store(true)
		s.engine.release(s)

		reason := ""
		if err != nil {
			reason = err.Error()
		}
		if !s.opened.Load() {
			if reason == "" {
				reason = "disconnected before open"
			}
			s.deliver(s.event(StateOpenFailed, fmt.Errorf("%w: %s", ErrConnectionFailed, reason), reason))
			return
		}
		s.deliver(s.event(StateClosed, err, reason))
	})
}

// Publish sends payload to topic. onDone, if set, runs on the loop once the
// broker acknowledges (QoS 1/2) or the message is written (QoS 0).
func (s *Session) Publish(topic string, payload []byte, qos byte, onDone func(error)) error {
	if err := ValidateTopicName(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !s.IsOpen() || s.closing.Load() {
		return ErrNotConnected
	}

	tok := s.client.Publish(topic, qos, false, payload)
	if onDone == nil {
		return nil
	}
	go func() {
		err := awaitToken(tok, defaultPublishTimeout)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
		s.engine.post(func() { onDone(err) })
	}()
	return nil
}

// Subscribe establishes a subscription for this session only. onCall runs on
// the loop for the SUBACK outcome and for every delivered message.
func (s *Session) Subscribe(pattern string, qos byte, onCall func(SubscriptionCall)) error {
	if err := ValidateTopicFilter(pattern); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if onCall == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !s.IsOpen() || s.closing.Load() {
		return ErrNotConnected
	}

	handler := func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if s.closed.Load() {
			return
		}
		call := SubscriptionCall{
			Type:      CallMessageDelivered,
			Pattern:   pattern,
			Topic:     msg.Topic(),
			Payload:   msg.Payload(),
			QoS:       msg.Qos(),
			Duplicate: msg.Duplicate(),
			Retained:  msg.Retained(),
		}
		s.engine.post(func() { onCall(call) })
	}

	tok := s.client.Subscribe(pattern, qos, handler)
	go func() {
		call := SubscriptionCall{Type: CallSubscriptionAck, Pattern: pattern, QoS: qos}
		err := awaitToken(tok, defaultPublishTimeout)
		if err == nil {
			if st, ok := tok.(*pahomqtt.SubscribeToken); ok {
				if granted, ok := st.Result()[pattern]; ok {
					call.QoS = granted
					if granted == subscriptionFailure {
						err = fmt.Errorf("broker refused %s", pattern)
					}
				}
			}
		}
		if err != nil {
			call.Type = CallSubscriptionFailed
			call.Err = fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
		}
		s.engine.post(func() { onCall(call) })
	}()
	return nil
}

// Disconnect asks the broker to close the session. The resulting StateClosed
// event has a nil Err. Calling Disconnect on a closing or closed session is a
// no-op.
func (s *Session) Disconnect() error {
	if s.closed.Load() || !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	go func() {
		s.client.Disconnect(s.engine.quiesce)
		s.finish(nil)
	}()
	return nil
}
