package packet

import (
	"errors"
	"fmt"
)

// Protocol error taxonomy shared by the codec, the correlator and the
// command tables.
var (
	// ErrIncompleteFrame is returned by Decode when the buffer holds the start
	// of a frame but not all of it. The caller should wait for more bytes.
	ErrIncompleteFrame = errors.New("packet: incomplete frame")

	// ErrMalformedFrame is returned by Decode when the bytes at the front of
	// the buffer cannot be a valid frame (bad checksum, bad escape, bad
	// length). The reported consumed count tells the caller how much to skip.
	ErrMalformedFrame = errors.New("packet: malformed frame")

	// ErrEncoding is returned when caller-supplied arguments fall outside the
	// range the protocol can carry. Nothing is written when it occurs.
	ErrEncoding = errors.New("packet: encoding failed")

	// ErrDecoding is returned when a payload does not match the layout its
	// decode rule expects.
	ErrDecoding = errors.New("packet: decoding failed")

	// ErrDevice is matched by every DeviceError.
	ErrDevice = errors.New("packet: device reported failure")

	// ErrTimeout is returned when no response arrives in the allotted window.
	ErrTimeout = errors.New("packet: response timed out")

	// ErrConnectionClosed is returned for requests that were outstanding when
	// the connection went away, or issued after it did.
	ErrConnectionClosed = errors.New("packet: connection closed")
)

// DeviceError is the resolution of a request whose response carried a
// non-zero status code.
type DeviceError struct {
	Code      ErrorCode
	Framing   Framing
	DeviceID  byte
	CommandID byte
}

// Error implements error.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("packet: device reported %s for command %02x:%02x",
		e.Framing.CodeName(e.Code), e.DeviceID, e.CommandID)
}

// Is reports whether target is ErrDevice.
func (e *DeviceError) Is(target error) bool {
	return target == ErrDevice
}
