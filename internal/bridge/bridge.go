package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/spherolink/internal/audit"
	"github.com/nerrad567/spherolink/internal/automation"
	"github.com/nerrad567/spherolink/internal/fleet"
	"github.com/nerrad567/spherolink/internal/infrastructure/mqtt"
	"github.com/nerrad567/spherolink/internal/protocol/notify"
	"github.com/nerrad567/spherolink/internal/protocol/packet"
)

// DefaultCommandTimeout bounds a command when neither the bridge nor the
// message sets one.
const DefaultCommandTimeout = 10 * time.Second

// outboxSize bounds events and state changes waiting to be published.
const outboxSize = 256

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("bridge: already started")

	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("bridge: stopped")
)

// Bus is the MQTT surface the bridge needs. *mqtt.Client implements it.
type Bus interface {
	Topics() mqtt.Topics
	QoS() byte
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishJSON(topic string, v any, retained bool) error
}

// Fleet is the toy fleet surface the bridge needs. *fleet.Fleet implements it.
type Fleet interface {
	Invoke(ctx context.Context, inv fleet.Invocation) (any, error)
	Observe(fn fleet.Observer)
	Listen(fn fleet.EventFunc) (cancel func())
}

// Auditor records executed commands. *audit.Recorder implements it.
type Auditor interface {
	Record(ctx context.Context, source, operator, toy, command string, args any, started time.Time, err error)
}

// Runner runs stored routines. *automation.Engine implements it.
type Runner interface {
	Run(ctx context.Context, name, operator, source string) (*automation.Run, error)
}

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

type noopAuditor struct{}

func (noopAuditor) Record(context.Context, string, string, string, string, any, time.Time, error) {}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithAuditor records every executed command.
func WithAuditor(a Auditor) Option {
	return func(b *Bridge) {
		if a != nil {
			b.audit = a
		}
	}
}

// WithRoutines accepts run requests on the routine topics.
func WithRoutines(r Runner) Option {
	return func(b *Bridge) {
		b.routines = r
	}
}

// WithCommandTimeout sets the default per-command timeout.
func WithCommandTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// Bridge relays commands from MQTT to the fleet and toy activity back.
//
// Thread Safety: safe for concurrent use. Command handlers run on the MQTT
// client's goroutines.
type Bridge struct {
	bus     Bus
	fleet   Fleet
	topics  mqtt.Topics
	audit    Auditor
	routines Runner
	logger   Logger
	timeout  time.Duration

	mu         sync.Mutex
	started    bool
	stopEvents func()
	running    atomic.Bool

	outbox chan outgoing

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	commands    atomic.Uint64
	failures    atomic.Uint64
	routineRuns atomic.Uint64
	events      atomic.Uint64
	dropped     atomic.Uint64
	pubErrs     atomic.Uint64
}

type outgoing struct {
	topic    string
	v        any
	retained bool
}

// New creates a bridge. Call Start to begin relaying.
func New(bus Bus, f Fleet, opts ...Option) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		bus:     bus,
		fleet:   f,
		topics:  bus.Topics(),
		audit:   noopAuditor{},
		logger:  noopLogger{},
		timeout: DefaultCommandTimeout,
		outbox:  make(chan outgoing, outboxSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start subscribes to command topics and begins publishing state changes and
// events.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrAlreadyStarted
	}
	if b.ctx.Err() != nil {
		return ErrStopped
	}

	if err := b.bus.Subscribe(b.topics.AllCommands(), b.bus.QoS(), b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	if b.routines != nil {
		if err := b.bus.Subscribe(b.topics.AllRoutineRuns(), b.bus.QoS(), b.handleRoutine); err != nil {
			_ = b.bus.Unsubscribe(b.topics.AllCommands()) //nolint:errcheck // already failing
			return fmt.Errorf("subscribing to routine runs: %w", err)
		}
	}
	b.running.Store(true)
	b.wg.Add(1)
	go b.publishLoop()
	b.fleet.Observe(b.publishState)
	b.stopEvents = b.fleet.Listen(b.publishEvent)
	b.started = true

	b.logger.Info("mqtt bridge started", "commands", b.topics.AllCommands())
	return nil
}

// Stop unsubscribes, stops publishing and waits for commands in flight.
// A stopped bridge cannot be started again.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	b.running.Store(false)
	stopEvents := b.stopEvents
	b.mu.Unlock()

	stopEvents()
	if err := b.bus.Unsubscribe(b.topics.AllCommands()); err != nil {
		b.logger.Warn("unsubscribing from commands", "error", err)
	}
	if b.routines != nil {
		if err := b.bus.Unsubscribe(b.topics.AllRoutineRuns()); err != nil {
			b.logger.Warn("unsubscribing from routine runs", "error", err)
		}
	}
	b.cancel()
	b.wg.Wait()
	b.logger.Info("mqtt bridge stopped")
}

// Stats holds bridge counters.
type Stats struct {
	Commands      uint64 `json:"commands"`
	Failures      uint64 `json:"failures"`
	Routines      uint64 `json:"routines"`
	Events        uint64 `json:"events"`
	Dropped       uint64 `json:"dropped"` // events and states dropped because the outbox was full
	PublishErrors uint64 `json:"publish_errors"`
}

// Stats returns a snapshot of the counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Commands:      b.commands.Load(),
		Failures:      b.failures.Load(),
		Routines:      b.routineRuns.Load(),
		Events:        b.events.Load(),
		Dropped:       b.dropped.Load(),
		PublishErrors: b.pubErrs.Load(),
	}
}

// handleCommand executes one command message and publishes its ack.
// Malformed messages are acked with bad_request when the toy can be named.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.wg.Add(1)
	b.mu.Unlock()
	defer b.wg.Done()

	toyName, ok := b.topics.ToyFromCommand(topic)
	if !ok {
		b.logger.Warn("command on unexpected topic", "topic", topic)
		return nil
	}

	msg, err := decodeCommand(payload)
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err != nil {
		b.failures.Add(1)
		b.publishAck(Ack{
			ID:    msg.ID,
			Toy:   toyName,
			Error: &AckError{Code: CodeBadRequest, Message: err.Error()},
			At:    time.Now().UTC(),
		})
		return nil
	}
	b.commands.Add(1)

	timeout := b.timeout
	if msg.TimeoutMS > 0 {
		timeout = time.Duration(msg.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(b.ctx, timeout)
	defer cancel()

	inv := fleet.Invocation{Toy: toyName, Command: msg.Command, Args: msg.Args, Named: msg.Named}
	started := time.Now()
	result, err := b.fleet.Invoke(ctx, inv)
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %v: %w", packet.ErrTimeout, timeout, err)
	}
	b.audit.Record(ctx, audit.SourceMQTT, msg.Operator, toyName, msg.Command, inv.Arguments(), started, err)

	ack := Ack{
		ID:         msg.ID,
		Toy:        toyName,
		Command:    msg.Command,
		OK:         err == nil,
		Result:     result,
		DurationMS: time.Since(started).Milliseconds(),
		At:         time.Now().UTC(),
	}
	if err != nil {
		b.failures.Add(1)
		ack.Error = ackError(err)
		b.logger.Debug("mqtt command failed", "toy", toyName, "command", msg.Command, "error", err)
	}
	b.publishAck(ack)
	return nil
}

// handleRoutine starts a routine run and publishes its result when done.
// Runs may outlast the handler; Stop cancels and waits for them.
func (b *Bridge) handleRoutine(topic string, payload []byte) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.wg.Add(1)
	b.mu.Unlock()

	name, ok := b.topics.RoutineFromRun(topic)
	if !ok {
		b.wg.Done()
		b.logger.Warn("routine run on unexpected topic", "topic", topic)
		return nil
	}

	msg, err := decodeRoutineRun(payload)
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err != nil {
		b.wg.Done()
		b.publish(b.topics.RoutineResult(name), RoutineResult{
			ID:      msg.ID,
			Routine: name,
			Error:   &AckError{Code: CodeBadRequest, Message: err.Error()},
			At:      time.Now().UTC(),
		}, false)
		return nil
	}
	b.routineRuns.Add(1)

	go func() {
		defer b.wg.Done()
		run, err := b.routines.Run(b.ctx, name, msg.Operator, audit.SourceMQTT)
		res := RoutineResult{ID: msg.ID, Routine: name, Run: run, At: time.Now().UTC()}
		switch {
		case err != nil:
			res.Error = routineError(err)
			b.logger.Debug("mqtt routine rejected", "routine", name, "error", err)
		case run.Status == automation.StatusCompleted:
			res.OK = true
		}
		b.publish(b.topics.RoutineResult(name), res, false)
	}()
	return nil
}

func decodeRoutineRun(payload []byte) (RoutineRunMessage, error) {
	var msg RoutineRunMessage
	if len(bytes.TrimSpace(payload)) == 0 {
		return msg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return msg, fmt.Errorf("decoding routine run: %w", err)
	}
	return msg, nil
}

func decodeCommand(payload []byte) (CommandMessage, error) {
	var msg CommandMessage
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return msg, fmt.Errorf("decoding command: %w", err)
	}
	if msg.Command == "" {
		return msg, errors.New("command is required")
	}
	if msg.Named != nil && len(msg.Args) > 0 {
		return msg, errors.New("args and named are mutually exclusive")
	}
	return msg, nil
}

func (b *Bridge) publishAck(ack Ack) {
	b.publish(b.topics.Ack(ack.Toy), ack, false)
}

func (b *Bridge) publishState(sc fleet.StateChange) {
	b.enqueue(outgoing{topic: b.topics.State(sc.Toy), v: stateMessage(sc), retained: true})
}

func (b *Bridge) publishEvent(toy string, ev notify.Event) {
	b.events.Add(1)
	b.enqueue(outgoing{topic: b.topics.Event(toy, ev.Name), v: eventMessage(toy, ev)})
}

// enqueue never blocks: state observers and event listeners run on shared
// delivery goroutines.
func (b *Bridge) enqueue(o outgoing) {
	if !b.running.Load() {
		return
	}
	select {
	case b.outbox <- o:
	default:
		b.dropped.Add(1)
		b.logger.Warn("mqtt outbox full, dropping message", "topic", o.topic)
	}
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case o := <-b.outbox:
			b.publish(o.topic, o.v, o.retained)
		}
	}
}

func (b *Bridge) publish(topic string, v any, retained bool) {
	if err := b.bus.PublishJSON(topic, v, retained); err != nil {
		b.pubErrs.Add(1)
		b.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}
