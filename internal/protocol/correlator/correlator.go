// Package correlator matches responses to the commands that asked for them.
//
// Each outbound command gets a sequence number from a wrapping 0-255 counter
// that skips numbers still awaiting a reply. A Call is resolved exactly once:
// by its response, by a device error, by its timeout or by the connection
// closing. Whichever path removes the call from the pending table under the
// lock is the only one allowed to resolve it.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/spherolink/internal/protocol/packet"
)

// ErrNoFreeSequence is returned when all 256 sequence numbers are pending.
var ErrNoFreeSequence = errors.New("correlator: no free sequence number")

// DefaultTimeout applies when a Request sets none.
const DefaultTimeout = 10 * time.Second

// WriteFunc hands one encoded frame to the transport.
type WriteFunc func(ctx context.Context, frame []byte) error

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Request is one command to send.
type Request struct {
	DeviceID  byte
	CommandID byte
	Payload   []byte

	// Target addresses a specific processor when HasTarget is set.
	Target    byte
	HasTarget bool

	ExpectResponse bool
	Timeout        time.Duration
}

// Stats holds correlator counters.
type Stats struct {
	Sent         uint64 `json:"sent"`
	Responses    uint64 `json:"responses"`
	DeviceErrors uint64 `json:"device_errors"`
	Timeouts     uint64 `json:"timeouts"`
	Late         uint64 `json:"late"` // responses with no matching pending request
	WriteErrors  uint64 `json:"write_errors"`
	Pending      int    `json:"pending"`
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(c *Correlator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDefaultTimeout sets the timeout for requests that carry none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// Correlator owns the pending-request table of one connection.
type Correlator struct {
	codec          packet.Codec
	write          WriteFunc
	logger         Logger
	defaultTimeout time.Duration

	mu      sync.Mutex
	next    byte
	pending map[byte]*Call
	closed  bool

	sent         atomic.Uint64
	responses    atomic.Uint64
	deviceErrors atomic.Uint64
	timeouts     atomic.Uint64
	late         atomic.Uint64
	writeErrors  atomic.Uint64
}

// New creates a Correlator that frames with codec and writes with write.
func New(codec packet.Codec, write WriteFunc, opts ...Option) *Correlator {
	c := &Correlator{
		codec:          codec,
		write:          write,
		logger:         noopLogger{},
		defaultTimeout: DefaultTimeout,
		pending:        make(map[byte]*Call),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send frames and writes req.
//
// When req.ExpectResponse is false the returned Call is already resolved.
// Otherwise it resolves with the response, a *packet.DeviceError,
// packet.ErrTimeout or packet.ErrConnectionClosed.
//
// The pending table lock is held only for bookkeeping; the write itself runs
// without it.
//
// Returns:
//   - *Call: handle to wait on
//   - error: packet.ErrConnectionClosed, ErrNoFreeSequence, an encoding
//     error or the transport's write error. No Call exists in these cases.
func (c *Correlator) Send(ctx context.Context, req Request) (*Call, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	flags := packet.FlagResetsInactivityTimeout
	if req.ExpectResponse {
		flags |= packet.FlagRequestsResponse
	}
	if req.HasTarget {
		flags |= packet.FlagHasTargetID
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, packet.ErrConnectionClosed
	}
	seq, ok := c.allocate()
	if !ok {
		c.mu.Unlock()
		return nil, ErrNoFreeSequence
	}
	frame, err := c.codec.Encode(packet.Packet{
		Flags:     flags,
		TargetID:  req.Target,
		DeviceID:  req.DeviceID,
		CommandID: req.CommandID,
		Sequence:  seq,
		Payload:   req.Payload,
	})
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	call := newCall(seq, req.DeviceID, req.CommandID)
	if req.ExpectResponse {
		c.pending[seq] = call
		call.timer = time.AfterFunc(timeout, func() { c.expire(call, timeout) })
	}
	c.mu.Unlock()

	if err := c.write(ctx, frame); err != nil {
		c.writeErrors.Add(1)
		c.remove(call)
		return nil, err
	}
	c.sent.Add(1)

	if !req.ExpectResponse {
		call.complete(packet.Packet{}, nil)
	}
	return call, nil
}

// Do sends req and waits for its outcome.
func (c *Correlator) Do(ctx context.Context, req Request) (packet.Packet, error) {
	call, err := c.Send(ctx, req)
	if err != nil {
		return packet.Packet{}, err
	}
	return call.Wait(ctx)
}

// allocate returns the next sequence number not currently pending.
// Caller must hold c.mu.
func (c *Correlator) allocate() (byte, bool) {
	for range 256 {
		seq := c.next
		c.next++
		if _, busy := c.pending[seq]; !busy {
			return seq, true
		}
	}
	return 0, false
}

// remove deletes call from the pending table if it is still there and
// reports whether this caller now owns its resolution.
func (c *Correlator) remove(call *Call) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[call.Sequence] != call {
		return false
	}
	delete(c.pending, call.Sequence)
	call.stopTimer()
	return true
}

func (c *Correlator) expire(call *Call, timeout time.Duration) {
	if !c.remove(call) {
		return
	}
	c.timeouts.Add(1)
	c.logger.Debug("command timed out",
		"device_id", call.DeviceID, "command_id", call.CommandID, "seq", call.Sequence, "timeout", timeout)
	call.complete(packet.Packet{}, fmt.Errorf("%w after %s (command %02x:%02x seq %d)",
		packet.ErrTimeout, timeout, call.DeviceID, call.CommandID, call.Sequence))
}

// HandleFrame resolves the pending request p answers.
//
// It reports whether p was a response. Responses with no matching pending
// request (usually replies that arrived after their timeout) are logged and
// dropped. Non-responses return false so the caller can hand them to the
// notification dispatcher.
func (c *Correlator) HandleFrame(p packet.Packet) bool {
	if !p.IsResponse() {
		return false
	}

	c.mu.Lock()
	call, ok := c.pending[p.Sequence]
	// V2 responses echo the command; V1 responses carry only the sequence.
	if ok && c.codec.Framing() == packet.FramingV2 &&
		(call.DeviceID != p.DeviceID || call.CommandID != p.CommandID) {
		ok = false
	}
	if ok {
		delete(c.pending, p.Sequence)
		call.stopTimer()
	}
	c.mu.Unlock()

	if !ok {
		c.late.Add(1)
		c.logger.Debug("response without pending request dropped", "packet", p.String())
		return true
	}

	c.responses.Add(1)
	p.DeviceID, p.CommandID = call.DeviceID, call.CommandID
	if p.ErrorCode != packet.CodeSuccess {
		c.deviceErrors.Add(1)
		call.complete(p, &packet.DeviceError{
			Code:      p.ErrorCode,
			Framing:   c.codec.Framing(),
			DeviceID:  call.DeviceID,
			CommandID: call.CommandID,
		})
		return true
	}
	call.complete(p, nil)
	return true
}

// Close resolves every pending request with packet.ErrConnectionClosed and
// rejects later sends. Safe to call more than once.
func (c *Correlator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	flushed := c.pending
	c.pending = make(map[byte]*Call)
	c.mu.Unlock()

	for _, call := range flushed {
		call.stopTimer()
		call.complete(packet.Packet{}, packet.ErrConnectionClosed)
	}
	if len(flushed) > 0 {
		c.logger.Debug("flushed pending commands", "count", len(flushed))
	}
}

// Pending returns the number of requests awaiting a response.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stats returns a snapshot of the counters.
func (c *Correlator) Stats() Stats {
	return Stats{
		Sent:         c.sent.Load(),
		Responses:    c.responses.Load(),
		DeviceErrors: c.deviceErrors.Load(),
		Timeouts:     c.timeouts.Load(),
		Late:         c.late.Load(),
		WriteErrors:  c.writeErrors.Load(),
		Pending:      c.Pending(),
	}
}
