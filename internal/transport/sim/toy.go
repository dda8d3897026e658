package sim

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/spherolink/internal/protocol/command"
	"github.com/nerrad567/spherolink/internal/protocol/packet"
	"github.com/nerrad567/spherolink/internal/transport"
)

// DefaultChunkSize matches a typical BLE notification MTU.
const DefaultChunkSize = 20

var (
	// ErrNotAttached is returned when pushing to a toy with no host.
	ErrNotAttached = errors.New("sim: no host attached")

	// ErrBusy is returned when a second host attaches.
	ErrBusy = errors.New("sim: toy already attached")
)

// Handler answers one command. A non-zero code makes the response an error.
type Handler func(req packet.Packet) (payload []byte, code packet.ErrorCode)

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

// WithChunkSize splits outbound frames into chunks of n bytes.
func WithChunkSize(n int) Option {
	return func(t *Toy) {
		if n > 0 {
			t.chunkSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(t *Toy) {
		if l != nil {
			t.logger = l
		}
	}
}

type cmdKey struct{ did, cid byte }

// Toy is a simulated toy. It implements transport.Peripheral.
type Toy struct {
	name      string
	address   string
	table     *command.Table
	codec     packet.Codec
	cmdChar   string
	dataChar  string
	unlock    []byte
	unlockCh  string
	chunkSize int
	logger    Logger

	// sendMu keeps the chunks of one frame together.
	sendMu sync.Mutex

	mu       sync.Mutex
	notify   transport.NotifyFunc
	decoder  *packet.Decoder
	unlocked bool
	handlers map[cmdKey]Handler
	silent   map[cmdKey]bool
	received []packet.Packet
}

var _ transport.Peripheral = (*Toy)(nil)

// New creates a simulated toy of kind.
func New(kind command.Kind, name, address string, opts ...Option) (*Toy, error) {
	table := command.For(kind)
	if table == nil {
		return nil, fmt.Errorf("%w: %s", command.ErrUnknownKind, kind)
	}
	t := &Toy{
		name:      name,
		address:   address,
		table:     table,
		chunkSize: DefaultChunkSize,
		logger:    noopLogger{},
		handlers:  make(map[cmdKey]Handler),
		silent:    make(map[cmdKey]bool),
	}
	if kind.Framing() == packet.FramingV1 {
		t.codec = packet.V1Device{}
		t.cmdChar, t.dataChar = transport.CharV1Command, transport.CharV1Response
		t.unlockCh, t.unlock = transport.CharV1AntiDoS, transport.AntiDoSV1
	} else {
		t.codec = packet.V2{}
		t.cmdChar, t.dataChar = transport.CharAPIV2, transport.CharAPIV2
		t.unlockCh, t.unlock = transport.CharAntiDoS, transport.AntiDoSV2
	}
	for _, opt := range opts {
		opt(t)
	}
	t.installDefaults()
	return t, nil
}

// Name implements transport.Peripheral.
func (t *Toy) Name() string { return t.name }

// Address implements transport.Peripheral.
func (t *Toy) Address() string { return t.address }

// Kind returns the simulated kind.
func (t *Toy) Kind() command.Kind { return t.table.Kind() }

// Attach implements transport.Peripheral.
func (t *Toy) Attach(notify transport.NotifyFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.notify != nil {
		return ErrBusy
	}
	t.notify = notify
	t.decoder = packet.NewDecoder(t.codec)
	t.unlocked = false
	return nil
}

// Detach implements transport.Peripheral.
func (t *Toy) Detach() {
	t.mu.Lock()
	t.notify = nil
	t.decoder = nil
	t.mu.Unlock()
}

// Attached reports whether a host is connected.
func (t *Toy) Attached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notify != nil
}

// HandleWrite implements transport.Peripheral.
func (t *Toy) HandleWrite(characteristic string, data []byte) error {
	t.mu.Lock()
	if t.notify == nil {
		t.mu.Unlock()
		return ErrNotAttached
	}
	switch characteristic {
	case t.unlockCh:
		t.unlocked = bytes.Equal(data, t.unlock)
		t.mu.Unlock()
		return nil
	case t.cmdChar:
	default:
		// Other characteristics (TX power, wake) are accepted and ignored.
		t.mu.Unlock()
		return nil
	}

	packets, errs := t.decoder.Feed(data)
	for _, err := range errs {
		t.logger.Debug("sim: discarded malformed command", "toy", t.name, "error", err)
	}
	var out [][]byte
	for _, p := range packets {
		t.received = append(t.received, p)
		if !t.unlocked {
			continue
		}
		if frame := t.answer(p); frame != nil {
			out = append(out, frame)
		}
	}
	notify := t.notify
	t.mu.Unlock()

	for _, frame := range out {
		t.send(notify, frame)
	}
	return nil
}

// answer builds the response frame for p, or nil when none is due.
// Caller must hold t.mu.
func (t *Toy) answer(p packet.Packet) []byte {
	k := cmdKey{p.DeviceID, p.CommandID}
	if t.silent[k] || !p.Flags.Has(packet.FlagRequestsResponse) {
		return nil
	}

	var payload []byte
	code := packet.CodeSuccess
	if h, ok := t.handlers[k]; ok {
		payload, code = h(p)
	} else if _, known := t.table.CommandByID(p.DeviceID, p.CommandID); !known {
		code = t.unknownCommandCode()
	}

	resp := packet.Packet{
		Flags:     packet.FlagIsResponse,
		DeviceID:  p.DeviceID,
		CommandID: p.CommandID,
		Sequence:  p.Sequence,
		ErrorCode: code,
		Payload:   payload,
	}
	if p.Flags.Has(packet.FlagHasTargetID) {
		resp.Flags |= packet.FlagHasSourceID
		resp.SourceID = p.TargetID
	}
	frame, err := t.codec.Encode(resp)
	if err != nil {
		t.logger.Warn("sim: cannot encode response", "toy", t.name, "error", err)
		return nil
	}
	return frame
}

func (t *Toy) unknownCommandCode() packet.ErrorCode {
	if t.codec.Framing() == packet.FramingV1 {
		return 0x04 //nolint:mnd // V1 unknown_command
	}
	return packet.CodeBadCommandID
}

func (t *Toy) send(notify transport.NotifyFunc, frame []byte) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	for len(frame) > 0 {
		n := min(t.chunkSize, len(frame))
		notify(t.dataChar, frame[:n])
		frame = frame[n:]
	}
}

// Handle installs h for the named command.
func (t *Toy) Handle(name string, h Handler) error {
	d, ok := t.table.Command(name)
	if !ok {
		return fmt.Errorf("%w: %s", command.ErrUnknownCommand, name)
	}
	t.HandleID(d.DeviceID(), d.CommandID, h)
	return nil
}

// HandleID installs h for a command by id, known to the table or not.
func (t *Toy) HandleID(deviceID, commandID byte, h Handler) {
	t.mu.Lock()
	t.handlers[cmdKey{deviceID, commandID}] = h
	delete(t.silent, cmdKey{deviceID, commandID})
	t.mu.Unlock()
}

// Ignore makes the toy never answer the named command.
func (t *Toy) Ignore(name string) error {
	d, ok := t.table.Command(name)
	if !ok {
		return fmt.Errorf("%w: %s", command.ErrUnknownCommand, name)
	}
	t.mu.Lock()
	t.silent[cmdKey{d.DeviceID(), d.CommandID}] = true
	t.mu.Unlock()
	return nil
}

// Push sends the named notification with payload.
func (t *Toy) Push(name string, payload []byte) error {
	n, ok := t.table.Notification(name)
	if !ok {
		return fmt.Errorf("%w: %s", command.ErrUnknownNotification, name)
	}
	return t.PushID(n.DeviceID(), n.CommandID, payload)
}

// PushID sends a notification by id, known to the table or not.
func (t *Toy) PushID(deviceID, commandID byte, payload []byte) error {
	frame, err := t.codec.Encode(packet.Packet{
		DeviceID:  deviceID,
		CommandID: commandID,
		Payload:   payload,
	})
	if err != nil {
		return err
	}
	return t.PushRaw(frame)
}

// PushRaw sends arbitrary bytes on the data characteristic.
func (t *Toy) PushRaw(data []byte) error {
	t.mu.Lock()
	notify := t.notify
	t.mu.Unlock()
	if notify == nil {
		return ErrNotAttached
	}
	t.send(notify, data)
	return nil
}

// Received returns every command decoded since creation.
func (t *Toy) Received() []packet.Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]packet.Packet(nil), t.received...)
}

// Unlocked reports whether the host performed the handshake.
func (t *Toy) Unlocked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unlocked
}

// installDefaults gives query commands plausible answers.
func (t *Toy) installDefaults() {
	fixed := func(payload ...byte) Handler {
		return func(packet.Packet) ([]byte, packet.ErrorCode) { return payload, packet.CodeSuccess }
	}
	echo := func(req packet.Packet) ([]byte, packet.ErrorCode) { return req.Payload, packet.CodeSuccess }

	defaults := map[string]Handler{
		"get_versions":             fixed(0x02, 0x03, 0x01, 0x03, 0x1A, 0x33, 0x44, 0x00),
		"get_power_state":          fixed(0x01, 0x02, 0x01, 0xA4, 0x00, 0x0C, 0x01, 0x2C),
		"get_temperature":          fixed(24, 5),
		"get_api_protocol_version": fixed(2, 0),
		"get_battery_voltage":      fixed(0x01, 0xA4),
		"get_battery_state":        fixed(byte(command.BatteryOK)),
		"get_battery_percentage":   fixed(87),
		"get_head_position":        fixed(binary.BigEndian.AppendUint32(nil, 0)...),
		"ping":                     echo,
	}
	for name, h := range defaults {
		if d, ok := t.table.Command(name); ok {
			t.handlers[cmdKey{d.DeviceID(), d.CommandID}] = h
		}
	}
}
