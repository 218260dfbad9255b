package mqtt

import (
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// chanPoster queues posted functions so tests can run them one at a time.
type chanPoster struct {
	ch      chan func()
	stopped bool
}

func newChanPoster() *chanPoster {
	return &chanPoster{ch: make(chan func(), 64)}
}

func (p *chanPoster) Post(fn func()) bool {
	if p.stopped {
		return false
	}
	p.ch <- fn
	return true
}

// runNext runs the next posted function, failing if none arrives.
func (p *chanPoster) runNext(t *testing.T) {
	t.Helper()
	select {
	case fn := <-p.ch:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("no callback posted")
	}
}

// expectIdle fails if a function is posted within a short window.
func (p *chanPoster) expectIdle(t *testing.T) {
	t.Helper()
	select {
	case <-p.ch:
		t.Fatal("unexpected callback posted")
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken() *fakeToken { return &fakeToken{done: make(chan struct{})} }

func doneToken(err error) *fakeToken {
	t := newToken()
	t.complete(err)
	return t
}

func (t *fakeToken) complete(err error) {
	t.err = err
	close(t.done)
}

func (t *fakeToken) Wait() bool { <-t.done; return true }

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }

func (t *fakeToken) Error() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
	qos     byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return m.qos }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient implements pahomqtt.Client without a network.
type fakeClient struct {
	opts       *pahomqtt.ClientOptions
	connectTok *fakeToken

	mu           sync.Mutex
	published    []published
	handlers     map[string]pahomqtt.MessageHandler
	disconnected int
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() pahomqtt.Token {
	return c.connectTok
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected++
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return doneToken(nil)
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = cb
	return doneToken(nil)
}

func (c *fakeClient) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return doneToken(nil)
}

func (c *fakeClient) Unsubscribe(...string) pahomqtt.Token { return doneToken(nil) }

func (c *fakeClient) AddRoute(string, pahomqtt.MessageHandler) {}

func (c *fakeClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

func (c *fakeClient) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (c *fakeClient) deliver(pattern string, msg fakeMessage) {
	c.mu.Lock()
	h := c.handlers[pattern]
	c.mu.Unlock()
	h(c, msg)
}

// fakeFactory records every client it creates.
type fakeFactory struct {
	connectErr error
	// pending leaves each connect token incomplete for the test to finish.
	pending bool
	clients []*fakeClient
}

func (f *fakeFactory) newClient(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	tok := newToken()
	if !f.pending {
		tok.complete(f.connectErr)
	}
	c := &fakeClient{
		opts:       opts,
		connectTok: tok,
		handlers:   make(map[string]pahomqtt.MessageHandler),
	}
	f.clients = append(f.clients, c)
	return c
}

func testParams() ConnectParams {
	return ConnectParams{
		Host:           "broker.test",
		Port:           8883,
		TLS:            true,
		Username:       "unused",
		Password:       "jwt-token",
		ClientID:       "projects/p/locations/l/registries/r/devices/dev-1",
		ConnectTimeout: 10 * time.Second,
		KeepAlive:      20 * time.Second,
	}
}
