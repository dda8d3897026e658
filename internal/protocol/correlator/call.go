package correlator

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/spherolink/internal/protocol/packet"
)

// Call is one outstanding command.
type Call struct {
	Sequence  byte
	DeviceID  byte
	CommandID byte
	Created   time.Time

	timer *time.Timer

	once sync.Once
	done chan struct{}
	resp packet.Packet
	err  error
}

func newCall(seq, did, cid byte) *Call {
	return &Call{
		Sequence:  seq,
		DeviceID:  did,
		CommandID: cid,
		Created:   time.Now(),
		done:      make(chan struct{}),
	}
}

// complete stores the outcome. Only the first call has any effect.
func (c *Call) complete(resp packet.Packet, err error) {
	c.once.Do(func() {
		c.resp = resp
		c.err = err
		close(c.done)
	})
}

func (c *Call) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
	}
}

// Done is closed once the call is resolved.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result blocks until the call is resolved and returns its outcome.
func (c *Call) Result() (packet.Packet, error) {
	<-c.done
	return c.resp, c.err
}

// Wait is Result bounded by ctx. Giving up on the wait does not withdraw the
// command: it stays pending until its response or timeout.
func (c *Call) Wait(ctx context.Context) (packet.Packet, error) {
	select {
	case <-c.done:
		return c.resp, c.err
	case <-ctx.Done():
		return packet.Packet{}, ctx.Err()
	}
}
