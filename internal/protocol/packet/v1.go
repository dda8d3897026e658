package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// V1 framing constants.
const (
	V1StartOfPacket byte = 0xFF
	V1AsyncMarker   byte = 0xFE

	// V1AsyncDeviceID is the device id given to decoded async packets so
	// they can be looked up alongside V2 notifications.
	V1AsyncDeviceID byte = 0xFE

	v1SOP2Base        byte = 0xFC
	v1SOP2Answer      byte = 0x01
	v1SOP2ResetTimout byte = 0x02

	v1MaxPayload      = 0xFE
	v1MaxAsyncPayload = 2048
)

// V1 is the host side of the classic Sphero framing: it encodes commands and
// decodes responses and async messages.
type V1 struct{}

// Framing implements Codec.
func (V1) Framing() Framing { return FramingV1 }

// Encode frames p as a V1 command.
func (V1) Encode(p Packet) ([]byte, error) {
	if p.IsResponse() {
		return nil, fmt.Errorf("%w: host cannot send v1 responses", ErrEncoding)
	}
	if len(p.Payload) > v1MaxPayload-1 {
		return nil, fmt.Errorf("%w: v1 payload of %d bytes exceeds %d", ErrEncoding, len(p.Payload), v1MaxPayload-1)
	}

	sop2 := v1SOP2Base
	if p.Flags.Has(FlagRequestsResponse) {
		sop2 |= v1SOP2Answer
	}
	if p.Flags.Has(FlagResetsInactivityTimeout) {
		sop2 |= v1SOP2ResetTimout
	}

	out := make([]byte, 0, 7+len(p.Payload)) //nolint:mnd // 6 header bytes + checksum
	out = append(out, V1StartOfPacket, sop2, p.DeviceID, p.CommandID, p.Sequence, byte(len(p.Payload)+1))
	out = append(out, p.Payload...)
	return append(out, ^sum(out[2:])), nil
}

// Decode parses the V1 response or async message at the front of buf.
func (V1) Decode(buf []byte) (Packet, int, error) {
	if skip, err := v1Sync(buf); err != nil {
		return Packet{}, skip, err
	}

	switch buf[1] {
	case V1StartOfPacket:
		// FF FF mrsp seq dlen data chk
		if len(buf) < 5 { //nolint:mnd // response header
			return Packet{}, 0, ErrIncompleteFrame
		}
		dlen := int(buf[4])
		frame, err := v1Frame(buf, 5, dlen) //nolint:mnd // response header
		if err != nil {
			return Packet{}, frameSkip(err), err
		}
		return Packet{
			Flags:     FlagIsResponse,
			Sequence:  buf[3],
			ErrorCode: ErrorCode(buf[2]),
			Payload:   payloadOf(frame, 5), //nolint:mnd // response header
		}, len(frame), nil

	case V1AsyncMarker:
		// FF FE id dlen_hi dlen_lo data chk
		if len(buf) < 5 { //nolint:mnd // async header
			return Packet{}, 0, ErrIncompleteFrame
		}
		dlen := int(binary.BigEndian.Uint16(buf[3:5]))
		if dlen > v1MaxAsyncPayload {
			return Packet{}, 1, fmt.Errorf("%w: async length %d", ErrMalformedFrame, dlen)
		}
		frame, err := v1Frame(buf, 5, dlen) //nolint:mnd // async header
		if err != nil {
			return Packet{}, frameSkip(err), err
		}
		return Packet{
			DeviceID:  V1AsyncDeviceID,
			CommandID: buf[2],
			Payload:   payloadOf(frame, 5), //nolint:mnd // async header
		}, len(frame), nil

	default:
		return Packet{}, 1, fmt.Errorf("%w: unexpected second start byte 0x%02x", ErrMalformedFrame, buf[1])
	}
}

// V1Device is the toy side of the classic framing: it decodes commands and
// encodes responses and async messages. The simulator uses it.
type V1Device struct{}

// Framing implements Codec.
func (V1Device) Framing() Framing { return FramingV1 }

// Encode frames p as a response when FlagIsResponse is set, otherwise as an
// async message identified by p.CommandID.
func (V1Device) Encode(p Packet) ([]byte, error) {
	if p.IsResponse() {
		if len(p.Payload) > v1MaxPayload-1 {
			return nil, fmt.Errorf("%w: v1 payload of %d bytes exceeds %d", ErrEncoding, len(p.Payload), v1MaxPayload-1)
		}
		out := make([]byte, 0, 6+len(p.Payload)) //nolint:mnd // 5 header bytes + checksum
		out = append(out, V1StartOfPacket, V1StartOfPacket, byte(p.ErrorCode), p.Sequence, byte(len(p.Payload)+1))
		out = append(out, p.Payload...)
		return append(out, ^sum(out[2:])), nil
	}

	if len(p.Payload) > v1MaxAsyncPayload-1 {
		return nil, fmt.Errorf("%w: v1 async payload of %d bytes exceeds %d", ErrEncoding, len(p.Payload), v1MaxAsyncPayload-1)
	}
	out := make([]byte, 0, 6+len(p.Payload)) //nolint:mnd // 5 header bytes + checksum
	out = append(out, V1StartOfPacket, V1AsyncMarker, p.CommandID)
	out = binary.BigEndian.AppendUint16(out, uint16(len(p.Payload)+1))
	out = append(out, p.Payload...)
	return append(out, ^sum(out[2:])), nil
}

// Decode parses the V1 command at the front of buf.
func (V1Device) Decode(buf []byte) (Packet, int, error) {
	if skip, err := v1Sync(buf); err != nil {
		return Packet{}, skip, err
	}
	if buf[1]&v1SOP2Base != v1SOP2Base {
		return Packet{}, 1, fmt.Errorf("%w: unexpected second start byte 0x%02x", ErrMalformedFrame, buf[1])
	}
	// FF sop2 did cid seq dlen data chk
	if len(buf) < 6 { //nolint:mnd // command header
		return Packet{}, 0, ErrIncompleteFrame
	}
	frame, err := v1Frame(buf, 6, int(buf[5])) //nolint:mnd // command header
	if err != nil {
		return Packet{}, frameSkip(err), err
	}

	var flags Flags
	if buf[1]&v1SOP2Answer != 0 {
		flags |= FlagRequestsResponse
	}
	if buf[1]&v1SOP2ResetTimout != 0 {
		flags |= FlagResetsInactivityTimeout
	}
	return Packet{
		Flags:     flags,
		DeviceID:  buf[2],
		CommandID: buf[3],
		Sequence:  buf[4],
		Payload:   payloadOf(frame, 6), //nolint:mnd // command header
	}, len(frame), nil
}

// v1Sync checks that buf starts with SOP1 and has room for SOP2.
func v1Sync(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, ErrIncompleteFrame
	}
	if buf[0] != V1StartOfPacket {
		skip := bytes.IndexByte(buf, V1StartOfPacket)
		if skip < 0 {
			skip = len(buf)
		}
		return skip, fmt.Errorf("%w: %d bytes before start of packet", ErrMalformedFrame, skip)
	}
	if len(buf) < 2 { //nolint:mnd // SOP1 SOP2
		return 0, ErrIncompleteFrame
	}
	return 0, nil
}

// v1Frame returns the complete frame of header bytes plus dlen bytes
// (payload and checksum), verifying the checksum.
func v1Frame(buf []byte, header, dlen int) ([]byte, error) {
	if dlen < 1 {
		return nil, fmt.Errorf("%w: zero data length", ErrMalformedFrame)
	}
	total := header + dlen
	if len(buf) < total {
		return nil, ErrIncompleteFrame
	}
	frame := buf[:total]
	if want := ^sum(frame[2 : total-1]); frame[total-1] != want {
		return nil, fmt.Errorf("%w: checksum 0x%02x, want 0x%02x", ErrMalformedFrame, frame[total-1], want)
	}
	return frame, nil
}

// frameSkip maps a v1Frame error to the consumed count Decode reports. V1 has
// no terminator, so a bad frame only proves its first byte is not a start.
func frameSkip(err error) int {
	if err == ErrIncompleteFrame {
		return 0
	}
	return 1
}

func payloadOf(frame []byte, header int) []byte {
	if len(frame)-1 <= header {
		return nil
	}
	return append([]byte(nil), frame[header:len(frame)-1]...)
}

func sum(b []byte) byte {
	var s byte
	for _, v := range b {
		s += v
	}
	return s
}
