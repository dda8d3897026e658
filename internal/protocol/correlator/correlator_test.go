package correlator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/spherolink/internal/protocol/packet"
)

// wire records frames written by a Correlator and decodes them back.
type wire struct {
	codec packet.Codec

	mu     sync.Mutex
	frames []packet.Packet
	err    error
}

func (w *wire) write(_ context.Context, frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	p, _, err := w.codec.Decode(frame)
	if err != nil {
		return err
	}
	w.frames = append(w.frames, p)
	return nil
}

func (w *wire) last(t *testing.T) packet.Packet {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.frames) == 0 {
		t.Fatal("no frame written")
	}
	return w.frames[len(w.frames)-1]
}

func newV2(t *testing.T, opts ...Option) (*Correlator, *wire) {
	t.Helper()
	w := &wire{codec: packet.V2{}}
	c := New(packet.V2{}, w.write, opts...)
	t.Cleanup(c.Close)
	return c, w
}

func respond(req packet.Packet, code packet.ErrorCode, payload ...byte) packet.Packet {
	return packet.Packet{
		Flags:     packet.FlagIsResponse,
		DeviceID:  req.DeviceID,
		CommandID: req.CommandID,
		Sequence:  req.Sequence,
		ErrorCode: code,
		Payload:   payload,
	}
}

func TestSendFramesRequest(t *testing.T) {
	c, w := newV2(t)

	if _, err := c.Send(context.Background(), Request{
		DeviceID: 0x16, CommandID: 0x07, Payload: []byte{1, 2},
		Target: 0x02, HasTarget: true, ExpectResponse: true,
	}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	got := w.last(t)
	want := packet.FlagRequestsResponse | packet.FlagResetsInactivityTimeout | packet.FlagHasTargetID
	if got.Flags != want {
		t.Errorf("flags = %v, want %v", got.Flags, want)
	}
	if got.TargetID != 0x02 || got.DeviceID != 0x16 || got.CommandID != 0x07 {
		t.Errorf("addressing = %02x %02x:%02x", got.TargetID, got.DeviceID, got.CommandID)
	}
	if c.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", c.Pending())
	}
}

func TestResponsesResolveOwnCallerInAnyOrder(t *testing.T) {
	c, w := newV2(t)
	ctx := context.Background()

	const n = 8
	calls := make([]*Call, n)
	for i := range n {
		call, err := c.Send(ctx, Request{DeviceID: 0x13, CommandID: byte(i), ExpectResponse: true})
		if err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
		calls[i] = call
	}

	seen := make(map[byte]bool)
	for _, call := range calls {
		if seen[call.Sequence] {
			t.Fatalf("sequence %d allocated twice", call.Sequence)
		}
		seen[call.Sequence] = true
	}

	// Answer newest first, echoing the command id as payload.
	w.mu.Lock()
	frames := append([]packet.Packet(nil), w.frames...)
	w.mu.Unlock()
	for i := len(frames) - 1; i >= 0; i-- {
		if !c.HandleFrame(respond(frames[i], packet.CodeSuccess, frames[i].CommandID)) {
			t.Fatal("HandleFrame() = false for a response")
		}
	}

	for i, call := range calls {
		resp, err := call.Wait(ctx)
		if err != nil {
			t.Fatalf("call %d error = %v", i, err)
		}
		if len(resp.Payload) != 1 || resp.Payload[0] != byte(i) {
			t.Errorf("call %d payload = %v, want [%d]", i, resp.Payload, i)
		}
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestConcurrentSenders(t *testing.T) {
	var c *Correlator
	// Answer every request as soon as it is written.
	c = New(packet.V2{}, func(_ context.Context, frame []byte) error {
		req, _, err := packet.V2{}.Decode(frame)
		if err != nil {
			return err
		}
		go c.HandleFrame(respond(req, packet.CodeSuccess, req.Payload...))
		return nil
	})
	t.Cleanup(c.Close)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := c.Do(context.Background(), Request{
				DeviceID: 0x1A, CommandID: 0x01, Payload: []byte{byte(i)},
				ExpectResponse: true, Timeout: 5 * time.Second,
			})
			if err != nil {
				errs <- err
				return
			}
			if resp.Payload[0] != byte(i) {
				errs <- errors.New("response delivered to wrong caller")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestTimeout(t *testing.T) {
	c, _ := newV2(t)
	const timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := c.Do(context.Background(), Request{DeviceID: 0x13, CommandID: 0x01, ExpectResponse: true, Timeout: timeout})
	elapsed := time.Since(start)

	if !errors.Is(err, packet.ErrTimeout) {
		t.Fatalf("Do() error = %v, want ErrTimeout", err)
	}
	if elapsed < timeout {
		t.Errorf("resolved after %s, before the %s timeout", elapsed, timeout)
	}
	if elapsed > timeout+time.Second {
		t.Errorf("resolved after %s, too long after the %s timeout", elapsed, timeout)
	}
	if st := c.Stats(); st.Timeouts != 1 || st.Pending != 0 {
		t.Errorf("Stats() = %+v, want 1 timeout and nothing pending", st)
	}
}

func TestLateResponseDropped(t *testing.T) {
	c, w := newV2(t)

	call, err := c.Send(context.Background(), Request{DeviceID: 0x13, CommandID: 0x01, ExpectResponse: true, Timeout: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := call.Result(); !errors.Is(err, packet.ErrTimeout) {
		t.Fatalf("Result() error = %v, want ErrTimeout", err)
	}

	if !c.HandleFrame(respond(w.last(t), packet.CodeSuccess, 0x01)) {
		t.Error("HandleFrame() = false for a late response")
	}
	if _, err := call.Result(); !errors.Is(err, packet.ErrTimeout) {
		t.Errorf("late response changed outcome to %v", err)
	}
	if got := c.Stats().Late; got != 1 {
		t.Errorf("Stats().Late = %d, want 1", got)
	}
}

func TestMismatchedResponseDropped(t *testing.T) {
	c, w := newV2(t)

	call, err := c.Send(context.Background(), Request{DeviceID: 0x13, CommandID: 0x01, ExpectResponse: true})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	resp := respond(w.last(t), packet.CodeSuccess)
	resp.CommandID = 0x02
	c.HandleFrame(resp)

	select {
	case <-call.Done():
		t.Fatal("response for another command resolved the call")
	default:
	}
	if c.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", c.Pending())
	}
}

func TestDeviceError(t *testing.T) {
	c, w := newV2(t)

	call, err := c.Send(context.Background(), Request{DeviceID: 0x16, CommandID: 0x07, ExpectResponse: true})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	c.HandleFrame(respond(w.last(t), packet.CodeCommandFailed))

	_, err = call.Result()
	var de *packet.DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("Result() error = %v, want *DeviceError", err)
	}
	if de.Code != packet.CodeCommandFailed || de.DeviceID != 0x16 || de.CommandID != 0x07 {
		t.Errorf("DeviceError = %+v", de)
	}
	if !errors.Is(err, packet.ErrDevice) {
		t.Error("errors.Is(err, ErrDevice) = false")
	}
}

func TestCloseFlushesPending(t *testing.T) {
	c, _ := newV2(t)

	const n = 5
	calls := make([]*Call, 0, n)
	for i := range n {
		call, err := c.Send(context.Background(), Request{DeviceID: 0x13, CommandID: byte(i), ExpectResponse: true})
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		calls = append(calls, call)
	}

	c.Close()

	for i, call := range calls {
		if _, err := call.Result(); !errors.Is(err, packet.ErrConnectionClosed) {
			t.Errorf("call %d error = %v, want ErrConnectionClosed", i, err)
		}
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
	if _, err := c.Send(context.Background(), Request{DeviceID: 0x13, CommandID: 0x01}); !errors.Is(err, packet.ErrConnectionClosed) {
		t.Errorf("Send() after Close error = %v, want ErrConnectionClosed", err)
	}
	c.Close()
}

func TestFireAndForget(t *testing.T) {
	c, w := newV2(t)

	call, err := c.Send(context.Background(), Request{DeviceID: 0x1A, CommandID: 0x1A, Payload: []byte{0xFF}})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case <-call.Done():
	default:
		t.Fatal("call without response not resolved after write")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
	if w.last(t).Flags.Has(packet.FlagRequestsResponse) {
		t.Error("frame requests a response")
	}
}

func TestSequenceSkipsPending(t *testing.T) {
	c, _ := newV2(t)
	ctx := context.Background()

	held, err := c.Send(ctx, Request{DeviceID: 0x13, CommandID: 0x01, ExpectResponse: true})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	for range 255 {
		if _, err := c.Send(ctx, Request{DeviceID: 0x13, CommandID: 0x01}); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	next, err := c.Send(ctx, Request{DeviceID: 0x13, CommandID: 0x01, ExpectResponse: true})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if next.Sequence == held.Sequence {
		t.Errorf("sequence %d reused while pending", held.Sequence)
	}
}

func TestSequenceExhausted(t *testing.T) {
	c, _ := newV2(t)
	ctx := context.Background()

	for i := range 256 {
		if _, err := c.Send(ctx, Request{DeviceID: 0x13, CommandID: 0x01, ExpectResponse: true}); err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
	}
	if _, err := c.Send(ctx, Request{DeviceID: 0x13, CommandID: 0x01, ExpectResponse: true}); !errors.Is(err, ErrNoFreeSequence) {
		t.Errorf("Send() error = %v, want ErrNoFreeSequence", err)
	}
}

func TestWriteErrorRemovesPending(t *testing.T) {
	c, w := newV2(t)
	errLink := errors.New("link down")
	w.err = errLink

	call, err := c.Send(context.Background(), Request{DeviceID: 0x13, CommandID: 0x01, ExpectResponse: true})
	if !errors.Is(err, errLink) {
		t.Fatalf("Send() error = %v, want %v", err, errLink)
	}
	if call != nil {
		t.Error("Send() returned a call alongside an error")
	}
	if st := c.Stats(); st.Pending != 0 || st.WriteErrors != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestNotificationNotConsumed(t *testing.T) {
	c, _ := newV2(t)
	if c.HandleFrame(packet.Packet{DeviceID: 0x18, CommandID: 0x12}) {
		t.Error("HandleFrame() = true for a notification")
	}
}

func TestWaitContextLeavesPending(t *testing.T) {
	c, w := newV2(t)

	call, err := c.Send(context.Background(), Request{DeviceID: 0x13, CommandID: 0x01, ExpectResponse: true})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := call.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
	if c.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", c.Pending())
	}

	c.HandleFrame(respond(w.last(t), packet.CodeSuccess))
	if _, err := call.Result(); err != nil {
		t.Errorf("Result() error = %v", err)
	}
}

func TestV1ResponseMatchedBySequence(t *testing.T) {
	w := &wire{codec: packet.V1Device{}}
	c := New(packet.V1{}, w.write)
	t.Cleanup(c.Close)

	call, err := c.Send(context.Background(), Request{DeviceID: 0x00, CommandID: 0x02, ExpectResponse: true})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	req := w.last(t)

	c.HandleFrame(packet.Packet{Flags: packet.FlagIsResponse, Sequence: req.Sequence, Payload: []byte{0x02}})

	resp, err := call.Result()
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if resp.DeviceID != 0x00 || resp.CommandID != 0x02 {
		t.Errorf("response addressed %02x:%02x, want 00:02", resp.DeviceID, resp.CommandID)
	}
}
