package toy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/spherolink/internal/protocol/command"
	"github.com/nerrad567/spherolink/internal/protocol/correlator"
	"github.com/nerrad567/spherolink/internal/protocol/notify"
	"github.com/nerrad567/spherolink/internal/protocol/packet"
	"github.com/nerrad567/spherolink/internal/transport"
)

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

// Option configures a Toy.
type Option func(*Toy)

// WithLogger sets the logger shared by the session, correlator and
// dispatcher.
func WithLogger(l Logger) Option {
	return func(t *Toy) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithDefaultTimeout sets the timeout for Execute requests that carry none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(t *Toy) {
		if d > 0 {
			t.defaultTimeout = d
		}
	}
}

// WithQueueSize sets the notification delivery queue size.
func WithQueueSize(n int) Option {
	return func(t *Toy) {
		if n > 0 {
			t.queueSize = n
		}
	}
}

// WithCommandInterval overrides the kind's minimum gap between commands.
// Zero disables pacing.
func WithCommandInterval(d time.Duration) Option {
	return func(t *Toy) {
		if d >= 0 {
			t.interval = d
		}
	}
}

// WithStateFunc registers fn for state changes. fn runs synchronously and
// must not call back into the Toy.
func WithStateFunc(fn StateFunc) Option {
	return func(t *Toy) { t.onState = fn }
}

// Stats holds session counters.
type Stats struct {
	State          State            `json:"state"`
	Connects       uint64           `json:"connects"`
	LinkLosses     uint64           `json:"link_losses"`
	FramesRx       uint64           `json:"frames_rx"`
	Malformed      uint64           `json:"malformed"`
	ConnectedSince time.Time        `json:"connected_since,omitzero"`
	Correlator     correlator.Stats `json:"correlator"`
	Notifications  notify.Stats     `json:"notifications"`
}

// link is everything that exists only while connected.
type link struct {
	conn    transport.Conn
	corr    *correlator.Correlator
	decoder *packet.Decoder
	since   time.Time
}

// Toy is one protocol session.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Listeners run on the dispatcher's delivery worker, never on the reader.
type Toy struct {
	name    string
	address string
	model   Model
	table   *command.Table
	adapter transport.Adapter
	logger  Logger

	defaultTimeout time.Duration
	queueSize      int
	interval       time.Duration
	onState        StateFunc

	dispatcher *notify.Dispatcher

	mu     sync.Mutex
	state  State
	link   *link
	closed bool

	// paceMu orders commands for the minimum command interval.
	paceMu   sync.Mutex
	lastSend time.Time

	// lastCorr keeps counters readable after disconnect.
	lastCorr atomic.Pointer[correlator.Correlator]

	connects   atomic.Uint64
	linkLosses atomic.Uint64
	framesRx   atomic.Uint64
	malformed  atomic.Uint64

	wg sync.WaitGroup
}

// New creates a disconnected session for the toy at address.
func New(kind command.Kind, name, address string, adapter transport.Adapter, opts ...Option) (*Toy, error) {
	model, ok := ModelOf(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", command.ErrUnknownKind, kind)
	}
	t := &Toy{
		name:           name,
		address:        address,
		model:          model,
		table:          command.For(kind),
		adapter:        adapter,
		logger:         noopLogger{},
		defaultTimeout: command.DefaultTimeout,
		queueSize:      notify.DefaultQueueSize,
		interval:       model.CommandInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.dispatcher = notify.New(t.table, notify.WithQueueSize(t.queueSize), notify.WithLogger(t.logger))
	return t, nil
}

// Name returns the toy's advertised name.
func (t *Toy) Name() string { return t.name }

// Address returns the transport address.
func (t *Toy) Address() string { return t.address }

// Kind returns the toy kind.
func (t *Toy) Kind() command.Kind { return t.model.Kind }

// Model returns the kind's link description.
func (t *Toy) Model() Model { return t.model }

// Table returns the kind's command table.
func (t *Toy) Table() *command.Table { return t.table }

// State returns the current connection state.
func (t *Toy) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Toy) setState(s State, cause error) {
	t.state = s
	if t.onState != nil {
		t.onState(t.name, s, cause)
	}
}

// Connect links to the toy, subscribes the reader path and performs the
// kind's handshake.
//
// Returns:
//   - error: ErrAlreadyConnected, ErrClosed, a transport.ErrConnection
//     wrapped error, or ErrHandshake.
func (t *Toy) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.state != StateDisconnected {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.setState(StateConnecting, nil)
	t.mu.Unlock()

	l, err := t.open(ctx)
	if err != nil {
		t.mu.Lock()
		t.setState(StateDisconnected, err)
		t.mu.Unlock()
		t.logger.Warn("toy connect failed", "toy", t.name, "error", err)
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		l.corr.Close()
		_ = l.conn.Disconnect()
		return ErrClosed
	}
	t.link = l
	t.lastCorr.Store(l.corr)
	t.dispatcher.Arm()
	t.setState(StateConnected, nil)
	t.mu.Unlock()

	t.connects.Add(1)
	t.logger.Info("toy connected", "toy", t.name, "kind", t.model.Kind.String(), "address", t.address)

	t.wg.Add(1)
	go t.watch(l)
	return nil
}

func (t *Toy) open(ctx context.Context) (*link, error) {
	conn, err := t.adapter.Connect(ctx, t.address)
	if err != nil {
		return nil, fmt.Errorf("toy %s: %w", t.name, err)
	}

	codec := t.model.Kind.Framing().HostCodec()
	l := &link{
		conn:    conn,
		decoder: packet.NewDecoder(codec),
		since:   time.Now(),
	}
	l.corr = correlator.New(codec,
		func(ctx context.Context, frame []byte) error {
			return conn.Write(ctx, t.model.SendChar, frame)
		},
		correlator.WithLogger(t.logger),
		correlator.WithDefaultTimeout(t.defaultTimeout),
	)

	if err := conn.Subscribe(ctx, t.model.ResponseChar, func(chunk []byte) { t.feed(l, chunk) }); err != nil {
		_ = conn.Disconnect()
		return nil, fmt.Errorf("toy %s: %w: subscribe: %w", t.name, transport.ErrConnection, err)
	}
	for _, w := range t.model.Handshake {
		if err := conn.Write(ctx, w.Characteristic, w.Data); err != nil {
			_ = conn.Disconnect()
			return nil, fmt.Errorf("toy %s: %w: %w", t.name, ErrHandshake, err)
		}
	}
	return l, nil
}

// feed is the reader path: it runs on the transport's delivery goroutine,
// one chunk at a time, so frames are handled strictly in arrival order.
func (t *Toy) feed(l *link, chunk []byte) {
	packets, errs := l.decoder.Feed(chunk)
	for _, err := range errs {
		t.malformed.Add(1)
		t.logger.Debug("discarded malformed frame", "toy", t.name, "error", err)
	}
	for _, p := range packets {
		t.framesRx.Add(1)
		if l.corr.HandleFrame(p) {
			continue
		}
		t.dispatcher.Dispatch(p)
	}
}

// watch tears the session down when the link drops on its own.
func (t *Toy) watch(l *link) {
	defer t.wg.Done()
	<-l.conn.Done()
	cause := l.conn.Err()
	if t.teardown(l, cause) && cause != nil {
		t.linkLosses.Add(1)
		t.logger.Warn("toy link lost", "toy", t.name, "error", cause)
	}
}

// teardown moves to Disconnected if l is still the current link. It reports
// whether it did.
func (t *Toy) teardown(l *link, cause error) bool {
	t.mu.Lock()
	if t.link != l {
		t.mu.Unlock()
		return false
	}
	t.link = nil
	t.dispatcher.Disarm()
	t.setState(StateDisconnected, cause)
	t.mu.Unlock()

	l.corr.Close()
	if err := l.conn.Disconnect(); err != nil {
		t.logger.Debug("transport disconnect error", "toy", t.name, "error", err)
	}
	return true
}

// Disconnect closes the link. Pending commands resolve with
// packet.ErrConnectionClosed. Safe to call in any state.
func (t *Toy) Disconnect() error {
	t.mu.Lock()
	l := t.link
	t.mu.Unlock()
	if l == nil {
		return nil
	}
	if t.teardown(l, nil) {
		t.logger.Info("toy disconnected", "toy", t.name)
	}
	return nil
}

// Close disconnects, stops the dispatcher and waits for background work.
// The Toy cannot be reconnected afterwards.
func (t *Toy) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	err := t.Disconnect()
	t.wg.Wait()
	t.dispatcher.Close()
	return err
}

// Done returns a channel closed when the current link goes down, or nil
// when disconnected.
func (t *Toy) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.link == nil {
		return nil
	}
	return t.link.conn.Done()
}

func (t *Toy) current() (*link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.link == nil {
		return nil, packet.ErrConnectionClosed
	}
	return t.link, nil
}

// pace waits out the minimum command interval.
func (t *Toy) pace(ctx context.Context) error {
	t.paceMu.Lock()
	defer t.paceMu.Unlock()
	if t.interval > 0 {
		if wait := time.Until(t.lastSend.Add(t.interval)); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	t.lastSend = time.Now()
	return nil
}

// DefaultTimeout is the timeout applied to commands that set none.
func (t *Toy) DefaultTimeout() time.Duration { return t.defaultTimeout }

// Execute sends one raw command and waits for its outcome. Requests to a
// subsystem the kind routes to a specific processor are addressed
// automatically unless req already carries a target.
//
// Returns:
//   - packet.Packet: the response (zero when no response was requested)
//   - error: packet.ErrConnectionClosed, packet.ErrTimeout, *packet.DeviceError,
//     an encoding error, a transport write error or ctx.Err()
func (t *Toy) Execute(ctx context.Context, req correlator.Request) (packet.Packet, error) {
	l, err := t.current()
	if err != nil {
		return packet.Packet{}, err
	}
	if !req.HasTarget {
		if target, ok := t.table.Target(req.DeviceID); ok {
			req.Target, req.HasTarget = target, true
		}
	}
	if req.Timeout <= 0 {
		req.Timeout = t.defaultTimeout
	}
	if err := t.pace(ctx); err != nil {
		return packet.Packet{}, err
	}
	call, err := l.corr.Send(ctx, req)
	if err != nil {
		return packet.Packet{}, err
	}
	return call.Wait(ctx)
}

// Call sends the named command with positional arguments and returns its
// decoded result, or nil for commands without one.
func (t *Toy) Call(ctx context.Context, name string, args ...any) (any, error) {
	d, err := t.command(name)
	if err != nil {
		return nil, err
	}
	payload, err := d.Encode(args...)
	if err != nil {
		return nil, err
	}
	return t.call(ctx, d, payload)
}

// CallNamed is Call with arguments given by parameter name.
func (t *Toy) CallNamed(ctx context.Context, name string, args map[string]any) (any, error) {
	d, err := t.command(name)
	if err != nil {
		return nil, err
	}
	payload, err := d.EncodeNamed(args)
	if err != nil {
		return nil, err
	}
	return t.call(ctx, d, payload)
}

func (t *Toy) command(name string) (*command.Descriptor, error) {
	d, ok := t.table.Command(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no command %q", command.ErrUnknownCommand, t.model.Kind, name)
	}
	return d, nil
}

func (t *Toy) call(ctx context.Context, d *command.Descriptor, payload []byte) (any, error) {
	resp, err := t.Execute(ctx, correlator.Request{
		DeviceID:       d.DeviceID(),
		CommandID:      d.CommandID,
		Payload:        payload,
		ExpectResponse: true,
		Timeout:        d.TimeoutOr(t.defaultTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name, err)
	}
	return d.DecodeResult(resp.Payload)
}

// AddListener registers fn for the named notification. Registrations
// persist across reconnects. fn must not call Close synchronously; see
// notify.Listener.
func (t *Toy) AddListener(name string, fn notify.Listener) (notify.ListenerID, error) {
	return t.dispatcher.Register(name, fn)
}

// RemoveListener removes a registration made by AddListener.
func (t *Toy) RemoveListener(name string, id notify.ListenerID) bool {
	return t.dispatcher.Unregister(name, id)
}

// ListenAll registers fn for every notification the kind defines and
// returns a function removing those registrations.
func (t *Toy) ListenAll(fn notify.Listener) (func(), error) {
	type reg struct {
		name string
		id   notify.ListenerID
	}
	var regs []reg
	cancel := func() {
		for _, r := range regs {
			t.dispatcher.Unregister(r.name, r.id)
		}
	}
	for _, n := range t.table.Notifications() {
		id, err := t.dispatcher.Register(n.Name, fn)
		if err != nil {
			cancel()
			return nil, err
		}
		regs = append(regs, reg{n.Name, id})
	}
	return cancel, nil
}

// Wake nudges a sleeping classic Sphero.
func (t *Toy) Wake(ctx context.Context) error {
	if t.model.Kind.Framing() != packet.FramingV1 {
		return ErrNotSupported
	}
	l, err := t.current()
	if err != nil {
		return err
	}
	return l.conn.Write(ctx, transport.CharV1Wake, transport.WakeV1)
}

// Stats returns a snapshot of the session counters.
func (t *Toy) Stats() Stats {
	t.mu.Lock()
	st := Stats{State: t.state}
	if t.link != nil {
		st.ConnectedSince = t.link.since
	}
	t.mu.Unlock()

	st.Connects = t.connects.Load()
	st.LinkLosses = t.linkLosses.Load()
	st.FramesRx = t.framesRx.Load()
	st.Malformed = t.malformed.Load()
	if c := t.lastCorr.Load(); c != nil {
		st.Correlator = c.Stats()
	}
	st.Notifications = t.dispatcher.Stats()
	return st
}
