package notify

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/spherolink/internal/protocol/command"
	"github.com/nerrad567/spherolink/internal/protocol/packet"
)

// DefaultQueueSize is the number of decoded events that may wait for
// delivery before new ones are dropped.
const DefaultQueueSize = 100

// ErrNilListener is returned by Register when fn is nil.
var ErrNilListener = errors.New("notify: nil listener")

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

// Event is one decoded notification.
type Event struct {
	Kind      command.Kind
	Name      string
	DeviceID  byte
	CommandID byte
	SourceID  byte

	// Args holds exactly as many values as the notification's arity.
	Args     []any
	Received time.Time
}

// Value returns the first argument, or nil for notifications without
// arguments.
func (e Event) Value() any {
	if len(e.Args) == 0 {
		return nil
	}
	return e.Args[0]
}

// Listener receives events. It runs on the dispatcher's delivery worker and
// must not block for long.
//
// A listener must not call Close on its Dispatcher, or on the toy that owns
// it: Close waits for the worker, and the worker is waiting for the listener.
// Start a goroutine to close from a listener.
type Listener func(Event)

// ListenerID identifies one registration so it can be removed.
type ListenerID uint64

type registration struct {
	id      ListenerID
	fn      Listener
	removed atomic.Bool
}

type delivery struct {
	event   Event
	targets []*registration
}

// Stats holds dispatcher counters.
type Stats struct {
	Dispatched   uint64 `json:"dispatched"` // events queued for delivery
	Delivered    uint64 `json:"delivered"`  // listener invocations completed
	Unknown      uint64 `json:"unknown"`    // no descriptor, or sent by the wrong processor
	Inert        uint64 `json:"inert"`      // notifications received while disarmed
	DecodeErrors uint64 `json:"decode_errors"`
	Dropped      uint64 `json:"dropped"` // events dropped because the queue was full
	Panics       uint64 `json:"panics"`
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueSize sets the delivery queue capacity.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// Dispatcher routes notifications for one toy session.
//
// Registrations are kept across disconnects. While disarmed (the session is
// not connected) inbound notifications are counted and discarded.
type Dispatcher struct {
	table     *command.Table
	queueSize int
	logger    Logger

	mu        sync.RWMutex
	listeners map[string][]*registration
	nextID    ListenerID

	armed atomic.Bool

	queue     chan delivery
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dispatched   atomic.Uint64
	delivered    atomic.Uint64
	unknown      atomic.Uint64
	inert        atomic.Uint64
	decodeErrors atomic.Uint64
	dropped      atomic.Uint64
	panics       atomic.Uint64
}

// New creates a Dispatcher for the notifications in table and starts its
// delivery worker. Call Close to stop it.
func New(table *command.Table, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		table:     table,
		queueSize: DefaultQueueSize,
		logger:    noopLogger{},
		listeners: make(map[string][]*registration),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan delivery, d.queueSize)

	d.wg.Add(1)
	go d.deliveryWorker()
	return d
}

// Register adds fn as a listener for the named notification.
//
// Returns:
//   - ListenerID: handle for Unregister
//   - error: command.ErrUnknownNotification if the toy kind has no such
//     notification, ErrNilListener if fn is nil
func (d *Dispatcher) Register(name string, fn Listener) (ListenerID, error) {
	if fn == nil {
		return 0, ErrNilListener
	}
	if _, ok := d.table.Notification(name); !ok {
		return 0, fmt.Errorf("%w: %s has no %q", command.ErrUnknownNotification, d.table.Kind(), name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	reg := &registration{id: d.nextID, fn: fn}
	d.listeners[name] = append(d.listeners[name], reg)
	return reg.id, nil
}

// Unregister removes a listener. Events already queued for it are skipped.
// It reports whether the listener was registered.
func (d *Dispatcher) Unregister(name string, id ListenerID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	regs := d.listeners[name]
	for i, reg := range regs {
		if reg.id != id {
			continue
		}
		reg.removed.Store(true)
		kept := make([]*registration, 0, len(regs)-1)
		kept = append(kept, regs[:i]...)
		kept = append(kept, regs[i+1:]...)
		if len(kept) == 0 {
			delete(d.listeners, name)
		} else {
			d.listeners[name] = kept
		}
		return true
	}
	return false
}

// Listeners returns how many listeners are registered for name.
func (d *Dispatcher) Listeners(name string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[name])
}

// Arm makes registrations live. The session calls it on entering Connected.
func (d *Dispatcher) Arm() { d.armed.Store(true) }

// Disarm makes registrations inert without removing them.
func (d *Dispatcher) Disarm() { d.armed.Store(false) }

// Armed reports whether notifications are being delivered.
func (d *Dispatcher) Armed() bool { return d.armed.Load() }

// Dispatch decodes p and queues it for every listener of its notification.
// It never blocks. Unknown notifications are logged and dropped.
//
// Returns true if the event was queued for delivery.
func (d *Dispatcher) Dispatch(p packet.Packet) bool {
	desc, ok := d.table.NotificationByID(p.DeviceID, p.CommandID)
	if !ok {
		d.unknown.Add(1)
		d.logger.Debug("unknown notification dropped",
			"kind", d.table.Kind().String(), "device_id", p.DeviceID, "command_id", p.CommandID, "payload_len", len(p.Payload))
		return false
	}
	if !fromTarget(desc, p) {
		d.unknown.Add(1)
		d.logger.Debug("notification from unexpected processor dropped",
			"notification", desc.Name, "source_id", p.SourceID, "want", desc.Target)
		return false
	}
	if !d.armed.Load() {
		d.inert.Add(1)
		return false
	}

	d.mu.RLock()
	targets := append([]*registration(nil), d.listeners[desc.Name]...)
	d.mu.RUnlock()
	if len(targets) == 0 {
		return false
	}

	args, err := desc.DecodeArgs(p.Payload)
	if err != nil {
		d.decodeErrors.Add(1)
		d.logger.Warn("notification decode failed", "notification", desc.Name, "error", err)
		return false
	}

	ev := Event{
		Kind:      d.table.Kind(),
		Name:      desc.Name,
		DeviceID:  p.DeviceID,
		CommandID: p.CommandID,
		SourceID:  p.SourceID,
		Args:      args,
		Received:  time.Now(),
	}

	select {
	case <-d.done:
		return false
	default:
	}

	select {
	case d.queue <- delivery{event: ev, targets: targets}:
		d.dispatched.Add(1)
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification queue full, dropping event", "notification", desc.Name)
		return false
	}
}

// fromTarget reports whether p came from the processor desc belongs to.
// Packets without a source id are accepted.
func fromTarget(desc *command.Notification, p packet.Packet) bool {
	if desc.Target == command.AnyTarget || !p.Flags.Has(packet.FlagHasSourceID) {
		return true
	}
	return p.SourceID == desc.Target
}

// deliveryWorker invokes listeners for queued events, one event at a time.
func (d *Dispatcher) deliveryWorker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			d.drainQueue()
			return
		case del := <-d.queue:
			for _, reg := range del.targets {
				if reg.removed.Load() {
					continue
				}
				d.invoke(reg, del.event)
			}
		}
	}
}

func (d *Dispatcher) invoke(reg *registration, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("notification listener panic", "notification", ev.Name, "listener", reg.id, "panic", fmt.Sprint(r))
		}
	}()
	reg.fn(ev)
	d.delivered.Add(1)
}

// drainQueue discards events still waiting at shutdown.
func (d *Dispatcher) drainQueue() {
	for {
		select {
		case <-d.queue:
		default:
			return
		}
	}
}

// Close stops the delivery worker and waits for the listener in progress to
// return. Safe to call more than once.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.Disarm()
		close(d.done)
	})
	d.wg.Wait()
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched:   d.dispatched.Load(),
		Delivered:    d.delivered.Load(),
		Unknown:      d.unknown.Load(),
		Inert:        d.inert.Load(),
		DecodeErrors: d.decodeErrors.Load(),
		Dropped:      d.dropped.Load(),
		Panics:       d.panics.Load(),
	}
}
