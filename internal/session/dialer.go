package session

import (
	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/mqtt"
)

// Conn is one open (or opening) broker session.
type Conn interface {
	ID() uint64
	Publish(topic string, payload []byte, qos byte, onDone func(error)) error
	Subscribe(pattern string, qos byte, onCall func(mqtt.SubscriptionCall)) error
	Disconnect() error
}

// Dialer opens sessions. onState runs on the event loop.
type Dialer interface {
	Dial(p mqtt.ConnectParams, onState func(mqtt.ConnectionEvent)) (Conn, error)
}

// EngineDialer adapts an mqtt.Engine to Dialer.
func EngineDialer(e *mqtt.Engine) Dialer {
	return engineDialer{engine: e}
}

type engineDialer struct {
	engine *mqtt.Engine
}

func (d engineDialer) Dial(p mqtt.ConnectParams, onState func(mqtt.ConnectionEvent)) (Conn, error) {
	sess, err := d.engine.Open(p, onState)
	if err != nil {
		return nil, err
	}
	return sess, nil
}
