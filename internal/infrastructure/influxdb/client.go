package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/spherolink/internal/infrastructure/config"
)

const (
	pingTimeout = 5 * time.Second

	// Fallbacks for a config that leaves batching at zero.
	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 * time.Second
)

// Client is the session statistics sink. The fleet's stats loop hands it one
// SessionSample per toy per tick; samples are queued on the library's batching
// write API and never block the caller.
type Client struct {
	influx influxdb2.Client
	points api.WriteAPI
	bucket string

	open atomic.Bool

	queued  atomic.Uint64
	dropped atomic.Uint64

	reportErr atomic.Pointer[func(error)]
}

// Connect opens the statistics sink described by cfg and checks that the
// server answers a ping before returning.
//
// Returns:
//   - error: ErrDisabled when statistics export is switched off,
//     ErrConnectionFailed when the server is unreachable or unhealthy
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(batchSize(cfg)).
		SetFlushInterval(uint(flushInterval(cfg).Milliseconds())) //nolint:gosec // positive by construction
	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*pingTimeout)
	defer cancel()
	if err := ping(ctx, influx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: session stats sink %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		influx: influx,
		points: influx.WriteAPI(cfg.Org, cfg.Bucket),
		bucket: cfg.Bucket,
	}
	c.open.Store(true)
	go c.forwardWriteErrors()
	return c, nil
}

func batchSize(cfg config.InfluxDBConfig) uint {
	if cfg.BatchSize > 0 {
		return uint(cfg.BatchSize)
	}
	return fallbackBatchSize
}

func flushInterval(cfg config.InfluxDBConfig) time.Duration {
	if cfg.FlushInterval > 0 {
		return time.Duration(cfg.FlushInterval) * time.Second
	}
	return fallbackFlushInterval
}

func ping(ctx context.Context, influx influxdb2.Client) error {
	healthy, err := influx.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return fmt.Errorf("server reports unhealthy")
	}
	return nil
}

// forwardWriteErrors drains the write API error channel until the client is
// closed. Each batch that fails to land is reported as ErrWriteFailed.
func (c *Client) forwardWriteErrors() {
	for err := range c.points.Errors() {
		if report := c.reportErr.Load(); report != nil {
			(*report)(fmt.Errorf("%w: session samples for bucket %s: %w", ErrWriteFailed, c.bucket, err))
		}
	}
}

// WriteSessionSample queues one toy session sample. Samples arriving after
// Close are counted as dropped.
func (c *Client) WriteSessionSample(s SessionSample) {
	if !c.open.Load() {
		c.dropped.Add(1)
		return
	}
	c.points.WritePoint(NewSessionPoint(s, time.Now()))
	c.queued.Add(1)
}

// Queued returns how many samples were handed to the write API.
func (c *Client) Queued() uint64 { return c.queued.Load() }

// Dropped returns how many samples were discarded because the sink was closed.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// SetOnError installs the callback for batches the server rejected.
func (c *Client) SetOnError(fn func(err error)) {
	if fn == nil {
		c.reportErr.Store(nil)
		return
	}
	c.reportErr.Store(&fn)
}

// Flush pushes queued samples to the server and waits for the batch.
func (c *Client) Flush() {
	if c.open.Load() {
		c.points.Flush()
	}
}

// HealthCheck pings the statistics server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.open.Load() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.influx); err != nil {
		return fmt.Errorf("session stats sink health: %w", err)
	}
	return nil
}

// IsConnected reports whether the sink still accepts samples.
func (c *Client) IsConnected() bool {
	return c.open.Load()
}

// Close flushes whatever the stats loop queued and releases the client.
// Safe to call more than once.
func (c *Client) Close() error {
	if c == nil || !c.open.CompareAndSwap(true, false) {
		return nil
	}
	c.points.Flush()
	c.influx.Close()
	return nil
}
