package influxdb

import (
	"time"

	"github.com/google/uuid"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementLifecycle = "devicelink_lifecycle"
	MeasurementPublish   = "devicelink_publish"
	MeasurementInbound   = "devicelink_inbound"
)

// PointWriter accepts points without blocking. *Client satisfies it.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Recorder converts device events into points. It satisfies the recorder
// interfaces of the session manager and the message router.
type Recorder struct {
	w        PointWriter
	deviceID string
	instance string
	now      func() time.Time
}

// NewRecorder creates a Recorder tagging every point with deviceID and
// instance. An empty instance gets a fresh random id.
func NewRecorder(w PointWriter, deviceID, instance string) *Recorder {
	if instance == "" {
		instance = uuid.NewString()
	}
	return &Recorder{
		w:        w,
		deviceID: deviceID,
		instance: instance,
		now:      time.Now,
	}
}

// Instance returns the per-process instance tag.
func (r *Recorder) Instance() string {
	return r.instance
}

func (r *Recorder) tags(extra map[string]string) map[string]string {
	extra["device_id"] = r.deviceID
	extra["instance"] = r.instance
	return extra
}

// RecordTransition records one state machine step.
func (r *Recorder) RecordTransition(from, to, event string) {
	r.w.WritePoint(write.NewPoint(
		MeasurementLifecycle,
		r.tags(map[string]string{"from": from, "to": to, "event": event}),
		map[string]interface{}{"changed": from != to},
		r.now(),
	))
}

// RecordPublish records the outcome of one publish.
func (r *Recorder) RecordPublish(topic string, size int, err error) {
	outcome := "ok"
	fields := map[string]interface{}{"bytes": size}
	if err != nil {
		outcome = "failed"
		fields["error"] = err.Error()
	}
	r.w.WritePoint(write.NewPoint(
		MeasurementPublish,
		r.tags(map[string]string{"topic": topic, "outcome": outcome}),
		fields,
		r.now(),
	))
}

// RecordInbound records one delivered message.
func (r *Recorder) RecordInbound(topic string, size int, truncated, rejected bool) {
	outcome := "delivered"
	switch {
	case rejected:
		outcome = "rejected"
	case truncated:
		outcome = "truncated"
	}
	r.w.WritePoint(write.NewPoint(
		MeasurementInbound,
		r.tags(map[string]string{"topic": topic, "outcome": outcome}),
		map[string]interface{}{"bytes": size},
		r.now(),
	))
}
