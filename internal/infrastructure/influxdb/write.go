package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementSession is the measurement session samples are written to.
const MeasurementSession = "toy_session"

// SessionSample is one snapshot of a toy session's counters. Counters are
// cumulative since the toy was created.
type SessionSample struct {
	Toy   string
	Kind  string
	State string

	Connects   uint64
	LinkLosses uint64
	FramesRx   uint64
	Malformed  uint64

	Sent         uint64
	Responses    uint64
	DeviceErrors uint64
	Timeouts     uint64
	Late         uint64
	WriteErrors  uint64
	Pending      int

	EventsDispatched uint64
	EventsDelivered  uint64
	EventsDropped    uint64
	EventsUnknown    uint64
}

// NewSessionPoint converts a sample to a point tagged by toy, kind and state.
func NewSessionPoint(s SessionSample, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementSession,
		map[string]string{
			"toy":   s.Toy,
			"kind":  s.Kind,
			"state": s.State,
		},
		map[string]any{
			"connects":          s.Connects,
			"link_losses":       s.LinkLosses,
			"frames_rx":         s.FramesRx,
			"malformed":         s.Malformed,
			"sent":              s.Sent,
			"responses":         s.Responses,
			"device_errors":     s.DeviceErrors,
			"timeouts":          s.Timeouts,
			"late":              s.Late,
			"write_errors":      s.WriteErrors,
			"pending":           s.Pending,
			"events_dispatched": s.EventsDispatched,
			"events_delivered":  s.EventsDelivered,
			"events_dropped":    s.EventsDropped,
			"events_unknown":    s.EventsUnknown,
		},
		at,
	)
}
