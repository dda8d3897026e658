package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/spherolink/internal/protocol/packet"
)

// DefaultTimeout is used when neither the caller nor the descriptor sets one.
const DefaultTimeout = 10 * time.Second

// Subsystem groups commands that share a device id.
type Subsystem struct {
	Name     string
	DeviceID byte
}

// Protocol subsystems.
var (
	Core        = Subsystem{"core", 0x00}
	Sphero      = Subsystem{"sphero", 0x02}
	APIAndShell = Subsystem{"api_and_shell", 0x10}
	Power       = Subsystem{"power", 0x13}
	Drive       = Subsystem{"drive", 0x16}
	Animatronic = Subsystem{"animatronic", 0x17}
	Sensor      = Subsystem{"sensor", 0x18}
	Firmware    = Subsystem{"firmware", 0x1D}
	Async       = Subsystem{"async", packet.V1AsyncDeviceID}
)

// DecodeFunc turns a reply payload into a typed value.
type DecodeFunc func(payload []byte) (any, error)

// Descriptor is the static description of one command.
//
// Descriptors are shared read-only by every session; never modify one
// obtained from a Table.
type Descriptor struct {
	Name      string
	Subsystem Subsystem
	CommandID byte
	Params    []Param

	// Decode is nil for commands whose reply carries no value.
	Decode DecodeFunc

	// Timeout overrides DefaultTimeout when non-zero.
	Timeout time.Duration
}

// DeviceID returns the subsystem device id.
func (d *Descriptor) DeviceID() byte {
	return d.Subsystem.DeviceID
}

// Encode validates args positionally against Params and returns the payload.
func (d *Descriptor) Encode(args ...any) ([]byte, error) {
	if len(args) != len(d.Params) {
		return nil, fmt.Errorf("%w: %s takes %d arguments (%s), got %d",
			packet.ErrEncoding, d.Name, len(d.Params), d.Signature(), len(args))
	}
	var out []byte
	for i, p := range d.Params {
		var err error
		if out, err = p.appendValue(out, args[i]); err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name, err)
		}
	}
	return out, nil
}

// EncodeNamed is Encode with arguments keyed by parameter name.
func (d *Descriptor) EncodeNamed(args map[string]any) ([]byte, error) {
	positional := make([]any, len(d.Params))
	for i, p := range d.Params {
		v, ok := args[p.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s: missing argument %q", packet.ErrEncoding, d.Name, p.Name)
		}
		positional[i] = v
	}
	if len(args) > len(d.Params) {
		for name := range args {
			if !d.hasParam(name) {
				return nil, fmt.Errorf("%w: %s: unknown argument %q", packet.ErrEncoding, d.Name, name)
			}
		}
	}
	return d.Encode(positional...)
}

func (d *Descriptor) hasParam(name string) bool {
	for _, p := range d.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// DecodeResult applies Decode, returning nil when the command has no result.
func (d *Descriptor) DecodeResult(payload []byte) (any, error) {
	if d.Decode == nil {
		return nil, nil
	}
	v, err := d.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name, err)
	}
	return v, nil
}

// TimeoutOr returns the descriptor timeout, or fallback when the descriptor
// sets none. A non-positive fallback means DefaultTimeout.
func (d *Descriptor) TimeoutOr(fallback time.Duration) time.Duration {
	switch {
	case d.Timeout > 0:
		return d.Timeout
	case fallback > 0:
		return fallback
	}
	return DefaultTimeout
}

// Signature renders the parameter list, e.g. "speed:u8, heading:u16".
func (d *Descriptor) Signature() string {
	parts := make([]string, len(d.Params))
	for i, p := range d.Params {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}

// AnyTarget matches notifications from any processor. Notifications of
// multi-processor toys carry the processor that owns their subsystem.
const AnyTarget byte = 0xFF

// NotificationDecodeFunc turns a notification payload into listener
// arguments. The result length always equals the descriptor Arity.
type NotificationDecodeFunc func(payload []byte) ([]any, error)

// Notification is the static description of one unsolicited message.
type Notification struct {
	Name      string
	Subsystem Subsystem
	CommandID byte
	Target    byte

	// Arity is the number of arguments each listener receives.
	Arity  int
	Decode NotificationDecodeFunc
}

// DeviceID returns the subsystem device id.
func (n *Notification) DeviceID() byte {
	return n.Subsystem.DeviceID
}

// DecodeArgs decodes payload and checks the result against Arity.
func (n *Notification) DecodeArgs(payload []byte) ([]any, error) {
	if n.Decode == nil {
		return nil, nil
	}
	args, err := n.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.Name, err)
	}
	if len(args) != n.Arity {
		return nil, fmt.Errorf("%w: %s produced %d values, want %d", packet.ErrDecoding, n.Name, len(args), n.Arity)
	}
	return args, nil
}

func cmd(s Subsystem, cid byte, name string, params ...Param) *Descriptor {
	return &Descriptor{Name: name, Subsystem: s, CommandID: cid, Params: params}
}

func (d *Descriptor) returns(fn DecodeFunc) *Descriptor {
	d.Decode = fn
	return d
}

func (d *Descriptor) within(timeout time.Duration) *Descriptor {
	d.Timeout = timeout
	return d
}

func arg(name string, t Type) Param {
	return Param{Name: name, Type: t}
}

// signal builds a notification with no arguments.
func signal(s Subsystem, cid byte, name string) *Notification {
	return &Notification{Name: name, Subsystem: s, CommandID: cid, Target: AnyTarget}
}

// event builds a notification that passes one decoded value.
func event(s Subsystem, cid byte, name string, fn DecodeFunc) *Notification {
	return &Notification{
		Name: name, Subsystem: s, CommandID: cid, Target: AnyTarget, Arity: 1,
		Decode: func(payload []byte) ([]any, error) {
			v, err := fn(payload)
			if err != nil {
				return nil, err
			}
			return []any{v}, nil
		},
	}
}
