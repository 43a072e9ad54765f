package history

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/dokzlo13/petwalkd/internal/coordinator"
	"github.com/dokzlo13/petwalkd/internal/entity"
	"github.com/dokzlo13/petwalkd/internal/eventbus"
	"github.com/dokzlo13/petwalkd/internal/petwalk"
)

// Measurement names.
const (
	MeasurementState   = "petwalk_state"
	MeasurementRefresh = "petwalk_refresh"
	MeasurementCommand = "petwalk_command"
)

// PointWriter accepts points for asynchronous delivery. api.WriteAPI implements it.
type PointWriter interface {
	WritePoint(point *write.Point)
}

// Subscriber is the part of the event bus the recorder listens on.
type Subscriber interface {
	Subscribe(eventType eventbus.EventType, handler eventbus.Handler)
}

// Recorder turns bus events into InfluxDB points tagged with the device name.
type Recorder struct {
	w      PointWriter
	device string
	now    func() time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(w PointWriter, device string) *Recorder {
	return &Recorder{w: w, device: device, now: time.Now}
}

// Attach subscribes to state, refresh-failure and command events.
func (r *Recorder) Attach(bus Subscriber) {
	bus.Subscribe(eventbus.EventTypeStateUpdated, func(e eventbus.Event) {
		if s, ok := e.Data["state"].(*coordinator.State); ok && s != nil {
			r.RecordState(s)
		}
	})
	bus.Subscribe(eventbus.EventTypeRefreshFailed, func(e eventbus.Event) {
		err, _ := e.Data["error"].(error)
		r.RecordRefreshFailure(err)
	})
	bus.Subscribe(eventbus.EventTypeCommandCompleted, func(e eventbus.Event) {
		r.recordCommand(e, true)
	})
	bus.Subscribe(eventbus.EventTypeCommandFailed, func(e eventbus.Event) {
		r.recordCommand(e, false)
	})
}

// RecordState writes one point with every scalar value of the canonical state.
// Text values are kept as string fields; non-scalar values are skipped.
func (r *Recorder) RecordState(s *coordinator.State) {
	fields := make(map[string]interface{}, len(s.API)+1)
	for k, v := range s.API {
		switch v.Kind() {
		case petwalk.KindBool:
			b, _ := v.AsBool()
			fields[k] = b
		case petwalk.KindInt:
			i, _ := v.AsInt()
			fields[k] = i
		case petwalk.KindText:
			t, _ := v.AsText()
			fields[k] = t
		}
	}
	fields["door_closed"] = entity.DoorClosed(s)

	r.w.WritePoint(write.NewPoint(MeasurementState, r.tags(), fields, r.now()))
}

// RecordRefreshFailure writes a failed-refresh marker.
func (r *Recorder) RecordRefreshFailure(err error) {
	fields := map[string]interface{}{"success": false}
	if err != nil {
		fields["error"] = err.Error()
	}
	r.w.WritePoint(write.NewPoint(MeasurementRefresh, r.tags(), fields, r.now()))
}

func (r *Recorder) recordCommand(e eventbus.Event, ok bool) {
	tags := r.tags()
	if key, _ := e.Data["key"].(string); key != "" {
		tags["key"] = key
	}
	if kind, _ := e.Data["kind"].(string); kind != "" {
		tags["kind"] = kind
	}
	fields := map[string]interface{}{"success": ok}
	if v, isBool := e.Data["value"].(bool); isBool {
		fields["value"] = v
	}
	r.w.WritePoint(write.NewPoint(MeasurementCommand, tags, fields, r.now()))
}

func (r *Recorder) tags() map[string]string {
	return map[string]string{"device": r.device}
}
