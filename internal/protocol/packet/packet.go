package packet

import (
	"fmt"
	"strings"
)

// Flags is the V2 header flag bitset.
type Flags byte

// Flag bits.
const (
	FlagIsResponse                Flags = 0x01
	FlagRequestsResponse          Flags = 0x02
	FlagRequestsOnlyErrorResponse Flags = 0x04
	FlagResetsInactivityTimeout   Flags = 0x08 // the "activity" bit
	FlagHasTargetID               Flags = 0x10
	FlagHasSourceID               Flags = 0x20
	FlagExtended                  Flags = 0x80
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagIsResponse, "response"},
	{FlagRequestsResponse, "requests-response"},
	{FlagRequestsOnlyErrorResponse, "requests-error-response"},
	{FlagResetsInactivityTimeout, "activity"},
	{FlagHasTargetID, "target"},
	{FlagHasSourceID, "source"},
	{FlagExtended, "extended"},
}

// Has reports whether every bit in f2 is set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// String returns the set flag names joined by '|'.
func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, n := range flagNames {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if rest := f &^ 0xBF; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%02x", byte(rest)))
	}
	return strings.Join(parts, "|")
}

// ErrorCode is the status byte carried by a response. Zero means success.
type ErrorCode byte

// CodeSuccess is the only non-error status.
const CodeSuccess ErrorCode = 0

// V2 response status codes.
const (
	CodeBadDeviceID ErrorCode = iota + 1
	CodeBadCommandID
	CodeNotYetImplemented
	CodeCommandIsRestricted
	CodeBadDataLength
	CodeCommandFailed
	CodeBadParameterValue
	CodeBusy
	CodeBadTargetID
	CodeTargetUnavailable
)

var v2CodeNames = map[ErrorCode]string{
	CodeSuccess:             "success",
	CodeBadDeviceID:         "bad_device_id",
	CodeBadCommandID:        "bad_command_id",
	CodeNotYetImplemented:   "not_yet_implemented",
	CodeCommandIsRestricted: "command_is_restricted",
	CodeBadDataLength:       "bad_data_length",
	CodeCommandFailed:       "command_failed",
	CodeBadParameterValue:   "bad_parameter_value",
	CodeBusy:                "busy",
	CodeBadTargetID:         "bad_target_id",
	CodeTargetUnavailable:   "target_unavailable",
}

// V1 message response codes (MRSP).
var v1CodeNames = map[ErrorCode]string{
	0x00: "ok",
	0x01: "general_error",
	0x02: "bad_checksum",
	0x03: "fragmented_command",
	0x04: "unknown_command",
	0x05: "unsupported_command",
	0x06: "bad_message_format",
	0x07: "invalid_parameter",
	0x08: "execution_failed",
	0x09: "unknown_device",
	0x0A: "memory_busy",
	0x0B: "bad_password",
	0x31: "voltage_too_low",
	0x32: "illegal_page",
	0x33: "flash_failed",
	0x34: "main_app_corrupt",
	0x35: "message_timeout",
}

// Framing identifies a wire format.
type Framing int

// Supported framings.
const (
	FramingV2 Framing = iota
	FramingV1
)

// String returns "v1" or "v2".
func (f Framing) String() string {
	switch f {
	case FramingV1:
		return "v1"
	case FramingV2:
		return "v2"
	default:
		return fmt.Sprintf("framing(%d)", int(f))
	}
}

// CodeName returns the symbolic name of a response status code.
func (f Framing) CodeName(c ErrorCode) string {
	names := v2CodeNames
	if f == FramingV1 {
		names = v1CodeNames
	}
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("code_0x%02x", byte(c))
}

// HostCodec returns the codec a client uses to talk to a toy speaking f.
func (f Framing) HostCodec() Codec {
	if f == FramingV1 {
		return V1{}
	}
	return V2{}
}

// Packet is one framed unit, independent of the framing it travels in.
type Packet struct {
	Flags     Flags
	TargetID  byte // valid when Flags has FlagHasTargetID
	SourceID  byte // valid when Flags has FlagHasSourceID
	DeviceID  byte
	CommandID byte
	Sequence  byte
	ErrorCode ErrorCode // responses only
	Payload   []byte
}

// IsResponse reports whether the packet answers a request.
func (p Packet) IsResponse() bool {
	return p.Flags.Has(FlagIsResponse)
}

// String renders the packet for logs.
func (p Packet) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "did=%02x cid=%02x seq=%d flags=%s", p.DeviceID, p.CommandID, p.Sequence, p.Flags)
	if p.Flags.Has(FlagHasTargetID) {
		fmt.Fprintf(&b, " tid=%02x", p.TargetID)
	}
	if p.Flags.Has(FlagHasSourceID) {
		fmt.Fprintf(&b, " sid=%02x", p.SourceID)
	}
	if p.IsResponse() {
		fmt.Fprintf(&b, " err=%d", p.ErrorCode)
	}
	fmt.Fprintf(&b, " payload=% x", p.Payload)
	return b.String()
}

// Codec converts packets to and from one wire framing.
type Codec interface {
	// Encode returns the exact wire bytes for p.
	Encode(p Packet) ([]byte, error)

	// Decode parses the frame at the front of buf.
	//
	// On success it returns the packet and the number of bytes the frame
	// occupied. It returns ErrIncompleteFrame with consumed == 0 when more
	// bytes are needed, and ErrMalformedFrame with consumed > 0 when the
	// leading consumed bytes must be discarded to resynchronise.
	Decode(buf []byte) (p Packet, consumed int, err error)

	// Framing identifies the wire format.
	Framing() Framing
}
