// Package influxdb exports toy session statistics to InfluxDB v2.
//
// Each sample becomes a point in the toy_session measurement, tagged by toy
// name, kind and connection state, with one field per counter (frames
// received, malformed frames, timeouts, late responses, dropped events and
// so on). These are operational metrics; sensor streams are not recorded.
//
// Writes go through the client library's batching write API, so
// WriteSessionSample never blocks. Failures are reported asynchronously via
// SetOnError.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics export is off
//	}
//	client.WriteSessionSample(sample)
package influxdb
