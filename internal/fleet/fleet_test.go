package fleet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/spherolink/internal/infrastructure/influxdb"
	"github.com/nerrad567/spherolink/internal/protocol/command"
	"github.com/nerrad567/spherolink/internal/protocol/correlator"
	"github.com/nerrad567/spherolink/internal/protocol/notify"
	"github.com/nerrad567/spherolink/internal/protocol/packet"
	"github.com/nerrad567/spherolink/internal/toy"
	"github.com/nerrad567/spherolink/internal/transport"
	"github.com/nerrad567/spherolink/internal/transport/sim"
)

// dropAdapter remembers connections so tests can cut them.
type dropAdapter struct {
	*transport.PipeAdapter

	mu    sync.Mutex
	conns map[string]transport.Conn
}

func newDropAdapter() *dropAdapter {
	return &dropAdapter{PipeAdapter: transport.NewPipeAdapter(), conns: make(map[string]transport.Conn)}
}

func (a *dropAdapter) Connect(ctx context.Context, address string) (transport.Conn, error) {
	c, err := a.PipeAdapter.Connect(ctx, address)
	if err == nil {
		a.mu.Lock()
		a.conns[address] = c
		a.mu.Unlock()
	}
	return c, err
}

func (a *dropAdapter) drop(address string) {
	a.mu.Lock()
	c := a.conns[address]
	a.mu.Unlock()
	c.(transport.Dropper).Drop(errors.New("out of range"))
}

func addSim(t *testing.T, a *dropAdapter, kind command.Kind, name, address string) {
	t.Helper()
	s, err := sim.New(kind, name, address)
	if err != nil {
		t.Fatalf("sim.New() error = %v", err)
	}
	a.Add(s)
}

func newTestFleet(t *testing.T, a transport.Adapter) *Fleet {
	t.Helper()
	f := New(a,
		WithBackoff(5*time.Millisecond, 20*time.Millisecond),
		WithToyOptions(toy.WithCommandInterval(0)),
	)
	t.Cleanup(func() { f.Close() })
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type stateLog struct {
	mu      sync.Mutex
	changes []StateChange
}

func (l *stateLog) observe(sc StateChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, sc)
}

func (l *stateLog) count(state toy.State) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, sc := range l.changes {
		if sc.State == state {
			n++
		}
	}
	return n
}

func TestAutoConnectRetriesUntilReachable(t *testing.T) {
	a := newDropAdapter()
	f := newTestFleet(t, a)
	log := &stateLog{}
	f.Observe(log.observe)

	tt, err := f.Add(Entry{Name: "SB-0001", Kind: command.KindBOLT, Address: "bolt-1", AutoConnect: true})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// Nothing answers yet, so attempts fail and back off.
	time.Sleep(30 * time.Millisecond)
	if tt.State() == toy.StateConnected {
		t.Fatal("connected before the toy was reachable")
	}

	addSim(t, a, command.KindBOLT, "SB-0001", "bolt-1")
	waitFor(t, "connect", func() bool { return tt.State() == toy.StateConnected })
	waitFor(t, "connected observed", func() bool { return log.count(toy.StateConnected) == 1 })

	log.mu.Lock()
	first := log.changes[0]
	log.mu.Unlock()
	if first.Toy != "SB-0001" || first.Kind != command.KindBOLT || first.State != toy.StateConnecting {
		t.Errorf("first change = %+v, want SB-0001 bolt connecting", first)
	}
}

func TestReconnectAfterLinkLoss(t *testing.T) {
	a := newDropAdapter()
	addSim(t, a, command.KindMini, "SM-0001", "mini-1")
	f := newTestFleet(t, a)

	tt, err := f.Add(Entry{Name: "SM-0001", Kind: command.KindMini, Address: "mini-1", AutoConnect: true})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	waitFor(t, "first connect", func() bool { return tt.State() == toy.StateConnected })

	a.drop("mini-1")
	waitFor(t, "reconnect", func() bool { return tt.Stats().Connects == 2 && tt.State() == toy.StateConnected })

	if got := tt.Stats().LinkLosses; got != 1 {
		t.Errorf("LinkLosses = %d, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := tt.Call(ctx, "get_battery_voltage"); err != nil {
		t.Errorf("Call() after reconnect error = %v", err)
	}
}

func TestManualDisconnectStaysOffline(t *testing.T) {
	a := newDropAdapter()
	addSim(t, a, command.KindR2D2, "D2-0001", "r2-1")
	f := newTestFleet(t, a)

	tt, err := f.Add(Entry{Name: "D2-0001", Kind: command.KindR2D2, Address: "r2-1"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if tt.State() != toy.StateDisconnected {
		t.Fatalf("State() = %v, want disconnected without auto_connect", tt.State())
	}

	if err := f.Connect(context.Background(), "D2-0001"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := f.Disconnect("D2-0001"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if tt.State() != toy.StateDisconnected {
		t.Errorf("State() = %v, want disconnected after Disconnect", tt.State())
	}
	if got := tt.Stats().Connects; got != 1 {
		t.Errorf("Connects = %d, want 1", got)
	}
}

func TestMembership(t *testing.T) {
	a := newDropAdapter()
	f := newTestFleet(t, a)

	for _, e := range []Entry{
		{Name: "SB-2", Kind: command.KindBOLT, Address: "b"},
		{Name: "RV-1", Kind: command.KindRVR, Address: "r"},
	} {
		if _, err := f.Add(e); err != nil {
			t.Fatalf("Add(%s) error = %v", e.Name, err)
		}
	}

	if _, err := f.Add(Entry{Name: "SB-2", Kind: command.KindBOLT, Address: "x"}); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate Add() error = %v, want ErrExists", err)
	}
	if _, err := f.Add(Entry{Name: "bad", Kind: command.KindUnknown, Address: "x"}); !errors.Is(err, command.ErrUnknownKind) {
		t.Errorf("Add() unknown kind error = %v, want ErrUnknownKind", err)
	}

	list := f.List()
	if len(list) != 2 || list[0].Name() != "RV-1" || list[1].Name() != "SB-2" {
		t.Errorf("List() = %v, want RV-1, SB-2", list)
	}
	if e, err := f.Entry("RV-1"); err != nil || e.Kind != command.KindRVR {
		t.Errorf("Entry(RV-1) = %+v, %v", e, err)
	}

	if err := f.Remove("SB-2"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	for _, call := range []func() error{
		func() error { _, err := f.Get("SB-2"); return err },
		func() error { return f.Remove("SB-2") },
		func() error { return f.Connect(context.Background(), "SB-2") },
		func() error { return f.Disconnect("SB-2") },
	} {
		if err := call(); !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := f.Add(Entry{Name: "late", Kind: command.KindMini, Address: "m"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Add() after Close error = %v, want ErrClosed", err)
	}
}

func TestConnectAll(t *testing.T) {
	a := newDropAdapter()
	addSim(t, a, command.KindBOLT, "SB-1", "b1")
	addSim(t, a, command.KindBB9E, "GB-1", "g1")
	f := New(a, WithBackoff(time.Hour, time.Hour), WithToyOptions(toy.WithCommandInterval(0)))
	t.Cleanup(func() { f.Close() })

	entries := []Entry{
		{Name: "SB-1", Kind: command.KindBOLT, Address: "b1", AutoConnect: true},
		{Name: "GB-1", Kind: command.KindBB9E, Address: "g1", AutoConnect: true},
		{Name: "SM-9", Kind: command.KindMini, Address: "missing", AutoConnect: true},
		{Name: "Q5-1", Kind: command.KindR2Q5, Address: "q1"},
	}
	for _, e := range entries {
		if _, err := f.Add(e); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	err := f.ConnectAll(context.Background())
	if !errors.Is(err, transport.ErrConnection) {
		t.Errorf("ConnectAll() error = %v, want the missing toy's ErrConnection", err)
	}
	for _, name := range []string{"SB-1", "GB-1"} {
		tt, _ := f.Get(name)
		waitFor(t, name+" connected", func() bool { return tt.State() == toy.StateConnected })
	}
	q5, _ := f.Get("Q5-1")
	if q5.State() != toy.StateDisconnected {
		t.Errorf("Q5-1 State() = %v, want disconnected", q5.State())
	}
}

type sampleSink struct {
	mu      sync.Mutex
	samples []influxdb.SessionSample
}

func (s *sampleSink) WriteSessionSample(sample influxdb.SessionSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
}

func (s *sampleSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func TestRecordStats(t *testing.T) {
	a := newDropAdapter()
	addSim(t, a, command.KindBOLT, "SB-1", "b1")
	f := newTestFleet(t, a)
	tt, err := f.Add(Entry{Name: "SB-1", Kind: command.KindBOLT, Address: "b1", AutoConnect: true})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	waitFor(t, "connect", func() bool { return tt.State() == toy.StateConnected })
	if _, err := tt.Call(context.Background(), "get_battery_percentage"); err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	sink := &sampleSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.RecordStats(ctx, sink, 5*time.Millisecond)
		close(done)
	}()
	waitFor(t, "samples", func() bool { return sink.len() >= 2 })
	cancel()
	<-done

	sink.mu.Lock()
	s := sink.samples[0]
	sink.mu.Unlock()
	if s.Toy != "SB-1" || s.Kind != "bolt" || s.State != "connected" {
		t.Errorf("sample = %+v", s)
	}
	if s.Sent != 1 || s.Responses != 1 || s.Connects != 1 {
		t.Errorf("sample counters sent=%d responses=%d connects=%d, want 1/1/1", s.Sent, s.Responses, s.Connects)
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		cur, max, want time.Duration
	}{
		{2 * time.Second, time.Minute, 3 * time.Second},
		{3 * time.Second, time.Minute, 4500 * time.Millisecond},
		{50 * time.Second, time.Minute, time.Minute},
		{time.Minute, time.Minute, time.Minute},
	}
	for _, tt := range tests {
		if got := nextBackoff(tt.cur, tt.max); got != tt.want {
			t.Errorf("nextBackoff(%v, %v) = %v, want %v", tt.cur, tt.max, got, tt.want)
		}
	}
}

func TestInvoke(t *testing.T) {
	a := newDropAdapter()
	addSim(t, a, command.KindBOLT, "SB-0002", "bolt-2")
	f := newTestFleet(t, a)
	if _, err := f.Add(Entry{Name: "bolt", Kind: command.KindBOLT, Address: "bolt-2"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	ctx := context.Background()
	if err := f.Connect(ctx, "bolt"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	tests := []struct {
		name    string
		inv     Invocation
		want    any
		wantErr error
	}{
		{"query", Invocation{Toy: "bolt", Command: "get_battery_voltage"}, 4.2, nil},
		{"json positional", Invocation{Toy: "bolt", Command: "drive_with_heading", Args: []any{float64(80), float64(270), float64(0)}}, nil, nil},
		{"named", Invocation{Toy: "bolt", Command: "drive_with_heading", Named: map[string]any{"speed": 0, "heading": 0, "drive_flags": 0}}, nil, nil},
		{"out of range", Invocation{Toy: "bolt", Command: "drive_with_heading", Args: []any{300, 0, 0}}, nil, packet.ErrEncoding},
		{"unknown command", Invocation{Toy: "bolt", Command: "fly"}, nil, command.ErrUnknownCommand},
		{"unknown toy", Invocation{Toy: "ghost", Command: "wake"}, nil, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Invoke(ctx, tt.inv)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Invoke() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Invoke() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Invoke() = %v, want %v", got, tt.want)
			}
		})
	}

	d, _ := command.For(command.KindBOLT).Command("get_battery_percentage")
	resp, err := f.ExecuteRaw(ctx, "bolt", correlator.Request{
		DeviceID:       d.DeviceID(),
		CommandID:      d.CommandID,
		ExpectResponse: true,
	})
	if err != nil {
		t.Fatalf("ExecuteRaw() error = %v", err)
	}
	if len(resp.Payload) != 1 || resp.Payload[0] != 87 {
		t.Errorf("ExecuteRaw() payload = % x, want 57", resp.Payload)
	}

	if _, err := f.ExecuteRaw(ctx, "bolt", correlator.Request{DeviceID: 0x13, CommandID: 0xEE, ExpectResponse: true}); !errors.Is(err, packet.ErrDevice) {
		t.Errorf("ExecuteRaw(unknown id) error = %v, want device error", err)
	}
}

func TestListenReceivesMemberEvents(t *testing.T) {
	a := newDropAdapter()
	s, err := sim.New(command.KindBOLT, "SB-0003", "bolt-3")
	if err != nil {
		t.Fatalf("sim.New() error = %v", err)
	}
	a.Add(s)
	f := newTestFleet(t, a)

	type got struct {
		toy  string
		name string
	}
	events := make(chan got, 4)
	cancel := f.Listen(func(name string, ev notify.Event) {
		events <- got{name, ev.Name}
	})
	f.Listen(func(string, notify.Event) { panic("listener bug") })

	// Members added after Listen are covered too.
	if _, err := f.Add(Entry{Name: "bolt", Kind: command.KindBOLT, Address: "bolt-3"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := f.Connect(context.Background(), "bolt"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := s.Push("will_sleep", nil); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	select {
	case g := <-events:
		if g.toy != "bolt" || g.name != "will_sleep" {
			t.Errorf("event = %+v", g)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	if err := s.Push("did_sleep", nil); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	select {
	case g := <-events:
		t.Errorf("event after cancel: %+v", g)
	case <-time.After(50 * time.Millisecond):
	}
}
