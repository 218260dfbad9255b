package router

import (
	"bytes"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-devicelink/internal/scheduler"
)

type fakePublisher struct {
	calls  []string
	qos    []byte
	err    error
	result error
}

func (p *fakePublisher) Publish(topic string, payload []byte, qos byte, onDone func(error)) error {
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, topic+"="+string(payload))
	p.qos = append(p.qos, qos)
	if onDone != nil {
		onDone(p.result)
	}
	return nil
}

type recordedInbound struct {
	topic     string
	size      int
	truncated bool
	rejected  bool
}

type fakeRecorder struct {
	publishes int
	inbound   []recordedInbound
}

func (r *fakeRecorder) RecordPublish(string, int, error) { r.publishes++ }

func (r *fakeRecorder) RecordInbound(topic string, size int, truncated, rejected bool) {
	r.inbound = append(r.inbound, recordedInbound{topic, size, truncated, rejected})
}

func newRouter(t *testing.T, maxPayload int, policy OverflowPolicy) *Router {
	t.Helper()
	r, err := New(Config{
		Topic:      "/devices/dev-1/state",
		Message:    []byte("Hello From Your IoTC client!"),
		QoS:        1,
		MaxPayload: maxPayload,
		Overflow:   policy,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func delivered(topic string, payload []byte) mqtt.SubscriptionCall {
	return mqtt.SubscriptionCall{
		Type:    mqtt.CallMessageDelivered,
		Pattern: "/devices/dev-1/commands/#",
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	}
}

func TestBoundedCopy(t *testing.T) {
	tests := []struct {
		name          string
		dst, src      int
		wantN         int
		wantTruncated bool
	}{
		{name: "fits", dst: 8, src: 5, wantN: 5},
		{name: "exact", dst: 8, src: 8, wantN: 8},
		{name: "overflow", dst: 8, src: 20, wantN: 8, wantTruncated: true},
		{name: "empty source", dst: 8, src: 0, wantN: 0},
		{name: "zero destination", dst: 0, src: 3, wantN: 0, wantTruncated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Guard bytes after dst detect writes past its end.
			backing := bytes.Repeat([]byte{0xEE}, tt.dst+4)
			dst := backing[:tt.dst]
			src := bytes.Repeat([]byte{0x11}, tt.src)

			n, truncated := BoundedCopy(dst, src)
			if n != tt.wantN || truncated != tt.wantTruncated {
				t.Errorf("BoundedCopy() = (%d, %v), want (%d, %v)", n, truncated, tt.wantN, tt.wantTruncated)
			}
			if !bytes.Equal(backing[tt.dst:], []byte{0xEE, 0xEE, 0xEE, 0xEE}) {
				t.Error("BoundedCopy wrote past the destination")
			}
		})
	}
}

func TestDispatch_OverflowTruncate(t *testing.T) {
	r := newRouter(t, 128, PolicyTruncate)
	rec := &fakeRecorder{}
	r.SetRecorder(rec)

	var got []Message
	r.SetDefault(func(m Message) { got = append(got, m) })

	payload := bytes.Repeat([]byte("x"), 300)
	r.Dispatch(delivered("/devices/dev-1/commands/reboot", payload))

	if len(got) != 1 {
		t.Fatalf("handler called %d times, want 1", len(got))
	}
	if len(got[0].Payload) != 128 || !got[0].Truncated || got[0].Size != 300 {
		t.Errorf("message = len %d truncated %v size %d", len(got[0].Payload), got[0].Truncated, got[0].Size)
	}
	if s := r.Stats(); s.Delivered != 1 || s.Truncated != 1 {
		t.Errorf("Stats() = %+v", s)
	}
	if len(rec.inbound) != 1 || !rec.inbound[0].truncated {
		t.Errorf("recorded = %+v", rec.inbound)
	}
}

func TestDispatch_OverflowReject(t *testing.T) {
	r := newRouter(t, 128, PolicyReject)
	called := false
	r.SetDefault(func(Message) { called = true })

	r.Dispatch(delivered("/devices/dev-1/commands/reboot", make([]byte, 129)))
	if called {
		t.Error("handler called for rejected message")
	}
	if s := r.Stats(); s.Rejected != 1 || s.Delivered != 0 {
		t.Errorf("Stats() = %+v", s)
	}

	r.Dispatch(delivered("/devices/dev-1/commands/reboot", make([]byte, 128)))
	if !called {
		t.Error("handler not called for message at the bound")
	}
}

func TestDispatch_IgnoresNonDeliveryCalls(t *testing.T) {
	r := newRouter(t, 128, PolicyTruncate)
	rec := &fakeRecorder{}
	r.SetRecorder(rec)
	called := false
	r.SetDefault(func(Message) { called = true })

	r.Dispatch(mqtt.SubscriptionCall{Type: mqtt.CallSubscriptionAck, Pattern: "/devices/dev-1/commands/#", QoS: 1})
	r.Dispatch(mqtt.SubscriptionCall{Type: mqtt.CallSubscriptionFailed, Pattern: "/x", Err: errors.New("refused")})
	r.Dispatch(mqtt.SubscriptionCall{Type: mqtt.CallType(99)})

	if called {
		t.Error("handler called for non-delivery callback")
	}
	if s := r.Stats(); s.Ignored != 3 || s.Delivered != 0 {
		t.Errorf("Stats() = %+v", s)
	}
	if len(rec.inbound) != 0 {
		t.Errorf("recorded inbound for ignored calls: %+v", rec.inbound)
	}
}

func TestDispatch_PatternRouting(t *testing.T) {
	r := newRouter(t, 64, PolicyTruncate)

	var seen []string
	mustHandle := func(pattern, name string) {
		t.Helper()
		if err := r.Handle(pattern, func(m Message) { seen = append(seen, name+":"+string(m.Payload)) }); err != nil {
			t.Fatalf("Handle(%q) error = %v", pattern, err)
		}
	}
	mustHandle("/devices/dev-1/commands/reboot", "reboot")
	mustHandle("/devices/+/commands/#", "commands")
	r.SetDefault(func(m Message) { seen = append(seen, "default:"+m.Topic) })

	r.Dispatch(delivered("/devices/dev-1/commands/reboot", []byte("a")))
	r.Dispatch(delivered("/devices/dev-1/commands/led", []byte("b")))
	r.Dispatch(delivered("/devices/dev-1/config", []byte("c")))

	want := []string{"reboot:a", "commands:b", "default:/devices/dev-1/config"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], want[i])
		}
	}

	if err := r.Handle("a/#/b", func(Message) {}); !errors.Is(err, mqtt.ErrInvalidTopic) {
		t.Errorf("Handle() bad pattern error = %v, want ErrInvalidTopic", err)
	}
	if err := r.Handle("a/b", nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Handle() nil handler error = %v, want ErrInvalidConfig", err)
	}
}

func TestPublishOnce(t *testing.T) {
	r := newRouter(t, 128, PolicyTruncate)
	rec := &fakeRecorder{}
	r.SetRecorder(rec)

	if err := r.PublishOnce(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("PublishOnce() without session error = %v, want ErrNoSession", err)
	}

	pub := &fakePublisher{}
	r.Attach(pub)
	if err := r.PublishOnce(); err != nil {
		t.Fatalf("PublishOnce() error = %v", err)
	}
	if len(pub.calls) != 1 || pub.calls[0] != "/devices/dev-1/state=Hello From Your IoTC client!" || pub.qos[0] != 1 {
		t.Errorf("published = %v qos %v", pub.calls, pub.qos)
	}
	if s := r.Stats(); s.Published != 1 {
		t.Errorf("Stats().Published = %d, want 1", s.Published)
	}

	pub.err = mqtt.ErrNotConnected
	if err := r.PublishOnce(); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("PublishOnce() error = %v, want ErrNotConnected", err)
	}
	if s := r.Stats(); s.PublishFailed != 1 {
		t.Errorf("Stats().PublishFailed = %d, want 1", s.PublishFailed)
	}
	if rec.publishes != 2 {
		t.Errorf("recorded %d publishes, want 2", rec.publishes)
	}

	r.Detach()
	if r.Attached() {
		t.Error("Attached() = true after Detach")
	}
	if err := r.PublishOnce(); !errors.Is(err, ErrNoSession) {
		t.Errorf("PublishOnce() after Detach error = %v, want ErrNoSession", err)
	}
}

func TestPeriodicTask_NoSessionIsHarmless(t *testing.T) {
	r := newRouter(t, 128, PolicyTruncate)
	task := r.PeriodicTask()
	task(scheduler.InvalidHandle)

	pub := &fakePublisher{}
	r.Attach(pub)
	task(scheduler.InvalidHandle)
	if len(pub.calls) != 1 {
		t.Errorf("published %d times, want 1", len(pub.calls))
	}
}

func TestNew_Validation(t *testing.T) {
	base := Config{Topic: "/t", MaxPayload: 8}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty topic", mutate: func(c *Config) { c.Topic = "" }},
		{name: "wildcard topic", mutate: func(c *Config) { c.Topic = "/t/#" }},
		{name: "bad qos", mutate: func(c *Config) { c.QoS = 3 }},
		{name: "zero payload bound", mutate: func(c *Config) { c.MaxPayload = 0 }},
		{name: "unknown policy", mutate: func(c *Config) { c.Overflow = "drop-oldest" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	r, err := New(base)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if r.cfg.Overflow != PolicyTruncate {
		t.Errorf("default policy = %q, want truncate", r.cfg.Overflow)
	}
}
