package fleet

import (
	"context"
	"time"

	"github.com/nerrad567/spherolink/internal/infrastructure/influxdb"
	"github.com/nerrad567/spherolink/internal/toy"
)

// SampleWriter accepts session samples. *influxdb.Client implements it.
type SampleWriter interface {
	WriteSessionSample(influxdb.SessionSample)
}

// SampleOf snapshots t's counters.
func SampleOf(t *toy.Toy) influxdb.SessionSample {
	st := t.Stats()
	return influxdb.SessionSample{
		Toy:   t.Name(),
		Kind:  t.Kind().String(),
		State: st.State.String(),

		Connects:   st.Connects,
		LinkLosses: st.LinkLosses,
		FramesRx:   st.FramesRx,
		Malformed:  st.Malformed,

		Sent:         st.Correlator.Sent,
		Responses:    st.Correlator.Responses,
		DeviceErrors: st.Correlator.DeviceErrors,
		Timeouts:     st.Correlator.Timeouts,
		Late:         st.Correlator.Late,
		WriteErrors:  st.Correlator.WriteErrors,
		Pending:      st.Correlator.Pending,

		EventsDispatched: st.Notifications.Dispatched,
		EventsDelivered:  st.Notifications.Delivered,
		EventsDropped:    st.Notifications.Dropped,
		EventsUnknown:    st.Notifications.Unknown,
	}
}

// Samples snapshots every member, sorted by name.
func (f *Fleet) Samples() []influxdb.SessionSample {
	toys := f.List()
	out := make([]influxdb.SessionSample, len(toys))
	for i, t := range toys {
		out[i] = SampleOf(t)
	}
	return out
}

// RecordStats writes a sample of every member to w each interval until ctx
// is done.
func (f *Fleet) RecordStats(ctx context.Context, w SampleWriter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range f.Samples() {
				w.WriteSessionSample(s)
			}
		}
	}
}
