package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-devicelink/internal/credentials"
	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-devicelink/internal/router"
	"github.com/nerrad567/gray-logic-devicelink/internal/scheduler"
	"github.com/nerrad567/gray-logic-devicelink/internal/token"
)

// fakeLoop queues posted work; drain runs it on the test goroutine.
type fakeLoop struct {
	queue   []func()
	stopped bool
	stops   int
}

func (l *fakeLoop) Post(fn func()) bool {
	if l.stopped {
		return false
	}
	l.queue = append(l.queue, fn)
	return true
}

func (l *fakeLoop) Stop() {
	l.stopped = true
	l.stops++
}

func (l *fakeLoop) drain() {
	for len(l.queue) > 0 {
		fn := l.queue[0]
		l.queue = l.queue[1:]
		fn()
	}
}

type fakeConn struct {
	id          uint64
	params      mqtt.ConnectParams
	onState     func(mqtt.ConnectionEvent)
	published   []string
	subscribed  []string
	disconnects int
}

func (c *fakeConn) ID() uint64 { return c.id }

func (c *fakeConn) Publish(topic string, _ []byte, _ byte, onDone func(error)) error {
	c.published = append(c.published, topic)
	if onDone != nil {
		onDone(nil)
	}
	return nil
}

func (c *fakeConn) Subscribe(pattern string, _ byte, _ func(mqtt.SubscriptionCall)) error {
	c.subscribed = append(c.subscribed, pattern)
	return nil
}

func (c *fakeConn) Disconnect() error {
	c.disconnects++
	return nil
}

// fakeDialer hands out fakeConns and lets tests emit their events.
type fakeDialer struct {
	loop    *fakeLoop
	conns   []*fakeConn
	dialErr error
	live    int
	maxLive int
}

func (d *fakeDialer) Dial(p mqtt.ConnectParams, onState func(mqtt.ConnectionEvent)) (Conn, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	c := &fakeConn{id: uint64(len(d.conns) + 1), params: p, onState: onState}
	d.conns = append(d.conns, c)
	d.live++
	if d.live > d.maxLive {
		d.maxLive = d.live
	}
	return c, nil
}

func (d *fakeDialer) last() *fakeConn {
	return d.conns[len(d.conns)-1]
}

// emit delivers a connection event for the latest session through the loop.
func (d *fakeDialer) emit(state mqtt.ConnState, err error) {
	c := d.last()
	if state != mqtt.StateOpened {
		d.live--
	}
	ev := mqtt.ConnectionEvent{SessionID: c.id, State: state, Err: err, Host: c.params.Host, Port: c.params.Port}
	if err != nil {
		ev.Reason = err.Error()
	}
	d.loop.Post(func() { c.onState(ev) })
	d.loop.drain()
}

type fakeMinter struct {
	now      time.Time
	calls    int
	err      error
	keysSeen []string
}

func (m *fakeMinter) Mint(projectID string, creds *credentials.Buffer, validity time.Duration) (token.Token, error) {
	m.calls++
	m.keysSeen = append(m.keysSeen, string(creds.Bytes()))
	if m.err != nil {
		return token.Token{}, fmt.Errorf("%w: %w", token.ErrSigning, m.err)
	}
	issued := m.now.Add(time.Duration(m.calls) * time.Second)
	return token.Token{
		Value:     fmt.Sprintf("%s-token-%d", projectID, m.calls),
		IssuedAt:  issued,
		ExpiresAt: issued.Add(validity),
	}, nil
}

type nopTimer struct{ stopped *bool }

func (t nopTimer) Stop() bool {
	if t.stopped != nil {
		*t.stopped = true
	}
	return true
}

// pendingTimer captures an AfterFunc call so tests can fire it.
type pendingTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

type harness struct {
	t        *testing.T
	loop     *fakeLoop
	dialer   *fakeDialer
	minter   *fakeMinter
	registry *scheduler.Registry
	creds    *credentials.Buffer
	mgr      *Manager
	timers   []*pendingTimer
	reload   func(*credentials.Buffer) (int, error)
}

func testSettings() Settings {
	return Settings{
		ProjectID:     "my-project",
		TokenValidity: time.Hour,
		Params: mqtt.ConnectParams{
			Host:           "mqtt.googleapis.com",
			Port:           8883,
			TLS:            true,
			Username:       "unused",
			ClientID:       "projects/my-project/locations/us-central1/registries/reg/devices/dev-1",
			ConnectTimeout: 10 * time.Second,
			KeepAlive:      20 * time.Second,
		},
		Subscriptions:       []Subscription{{Pattern: "/devices/dev-1/commands/#", QoS: 1}},
		PublishInterval:     5 * time.Second,
		PublishInitialDelay: 15 * time.Second,
	}
}

func newHarness(t *testing.T, settings Settings) *harness {
	t.Helper()
	h := &harness{t: t, loop: &fakeLoop{}}
	h.dialer = &fakeDialer{loop: h.loop}
	h.minter = &fakeMinter{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	h.registry = scheduler.New(h.loop, scheduler.WithAfterFunc(func(time.Duration, func()) scheduler.Timer {
		return nopTimer{}
	}))
	h.creds = credentials.NewBuffer(256)
	if err := h.creds.Fill([]byte("key-v1")); err != nil {
		t.Fatal(err)
	}

	r, err := router.New(router.Config{
		Topic:      "/devices/dev-1/state",
		Message:    []byte("hello"),
		QoS:        1,
		MaxPayload: 128,
	})
	if err != nil {
		t.Fatalf("router.New() error = %v", err)
	}

	mgr, err := NewManager(settings, Deps{
		Loop:        h.loop,
		Dialer:      h.dialer,
		Minter:      h.minter,
		Scheduler:   h.registry,
		Router:      r,
		Credentials: h.creds,
		Reload: func(dst *credentials.Buffer) (int, error) {
			if h.reload == nil {
				return 0, errors.New("no reload configured")
			}
			return h.reload(dst)
		},
		AfterFunc: func(d time.Duration, fn func()) scheduler.Timer {
			pt := &pendingTimer{delay: d, fn: fn}
			h.timers = append(h.timers, pt)
			return nopTimer{stopped: &pt.stopped}
		},
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	h.mgr = mgr
	return h
}

func (h *harness) start() {
	h.t.Helper()
	if err := h.mgr.Start(); err != nil {
		h.t.Fatalf("Start() error = %v", err)
	}
	h.loop.drain()
}

// connected drives the manager to Connected.
func (h *harness) connected() {
	h.t.Helper()
	h.start()
	h.dialer.emit(mqtt.StateOpened, nil)
	if got := h.mgr.state.Phase; got != PhaseConnected {
		h.t.Fatalf("phase = %v, want connected", got)
	}
}
