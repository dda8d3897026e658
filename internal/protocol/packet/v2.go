package packet

import (
	"bytes"
	"fmt"
)

// V2 framing delimiters.
const (
	V2StartOfPacket byte = 0x8D
	V2EndOfPacket   byte = 0xD8
	V2Escape        byte = 0xAB

	escapeMask byte = 0x88
)

// v2MinBody is flags, did, cid, seq and checksum.
const v2MinBody = 5

// V2 is the framing spoken by every current toy.
type V2 struct{}

// Framing implements Codec.
func (V2) Framing() Framing { return FramingV2 }

// Encode frames p, escaping any delimiter bytes.
//
// The target and source bytes are written only when the matching flag is set,
// and the error-code byte only when FlagIsResponse is set.
func (V2) Encode(p Packet) ([]byte, error) {
	if p.Flags.Has(FlagExtended) {
		return nil, fmt.Errorf("%w: extended flags are not supported", ErrEncoding)
	}

	body := make([]byte, 0, v2MinBody+3+len(p.Payload)) //nolint:mnd // optional tid, sid, err
	body = append(body, byte(p.Flags))
	if p.Flags.Has(FlagHasTargetID) {
		body = append(body, p.TargetID)
	}
	if p.Flags.Has(FlagHasSourceID) {
		body = append(body, p.SourceID)
	}
	body = append(body, p.DeviceID, p.CommandID, p.Sequence)
	if p.IsResponse() {
		body = append(body, byte(p.ErrorCode))
	}
	body = append(body, p.Payload...)
	body = append(body, Checksum(body))

	out := make([]byte, 0, len(body)+len(body)/4+2) //nolint:mnd // room for a few escapes
	out = append(out, V2StartOfPacket)
	for _, b := range body {
		switch b {
		case V2StartOfPacket, V2EndOfPacket, V2Escape:
			out = append(out, V2Escape, b&^escapeMask)
		default:
			out = append(out, b)
		}
	}
	return append(out, V2EndOfPacket), nil
}

// Decode parses the V2 frame at the front of buf.
//
// Leading bytes that are not a start-of-packet are reported as malformed so
// the caller skips them. A start-of-packet seen before the end-of-packet means
// the earlier frame was truncated; it is discarded up to the new start.
func (V2) Decode(buf []byte) (Packet, int, error) {
	if len(buf) == 0 {
		return Packet{}, 0, ErrIncompleteFrame
	}
	if buf[0] != V2StartOfPacket {
		skip := bytes.IndexByte(buf, V2StartOfPacket)
		if skip < 0 {
			skip = len(buf)
		}
		return Packet{}, skip, fmt.Errorf("%w: %d bytes before start of packet", ErrMalformedFrame, skip)
	}

	end := -1
	for i := 1; i < len(buf); i++ {
		if buf[i] == V2StartOfPacket {
			return Packet{}, i, fmt.Errorf("%w: start of packet inside frame", ErrMalformedFrame)
		}
		if buf[i] == V2EndOfPacket {
			end = i
			break
		}
	}
	if end < 0 {
		return Packet{}, 0, ErrIncompleteFrame
	}
	consumed := end + 1

	body, err := unescape(buf[1:end])
	if err != nil {
		return Packet{}, consumed, err
	}
	p, err := parseV2Body(body)
	if err != nil {
		return Packet{}, consumed, err
	}
	return p, consumed, nil
}

func unescape(raw []byte) ([]byte, error) {
	body := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if b != V2Escape {
			body = append(body, b)
			continue
		}
		i++
		if i == len(raw) {
			return nil, fmt.Errorf("%w: dangling escape", ErrMalformedFrame)
		}
		switch orig := raw[i] | escapeMask; orig {
		case V2StartOfPacket, V2EndOfPacket, V2Escape:
			body = append(body, orig)
		default:
			return nil, fmt.Errorf("%w: invalid escape 0x%02x", ErrMalformedFrame, raw[i])
		}
	}
	return body, nil
}

func parseV2Body(body []byte) (Packet, error) {
	if len(body) < v2MinBody {
		return Packet{}, fmt.Errorf("%w: %d byte body is too short", ErrMalformedFrame, len(body))
	}
	last := len(body) - 1
	if want := Checksum(body[:last]); body[last] != want {
		return Packet{}, fmt.Errorf("%w: checksum 0x%02x, want 0x%02x", ErrMalformedFrame, body[last], want)
	}
	body = body[:last]

	p := Packet{Flags: Flags(body[0])}
	if p.Flags.Has(FlagExtended) {
		return Packet{}, fmt.Errorf("%w: extended flags are not supported", ErrMalformedFrame)
	}

	need := 4 //nolint:mnd // flags, did, cid, seq
	if p.Flags.Has(FlagHasTargetID) {
		need++
	}
	if p.Flags.Has(FlagHasSourceID) {
		need++
	}
	if p.IsResponse() {
		need++
	}
	if len(body) < need {
		return Packet{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrMalformedFrame, need, len(body))
	}

	i := 1
	if p.Flags.Has(FlagHasTargetID) {
		p.TargetID = body[i]
		i++
	}
	if p.Flags.Has(FlagHasSourceID) {
		p.SourceID = body[i]
		i++
	}
	p.DeviceID, p.CommandID, p.Sequence = body[i], body[i+1], body[i+2]
	i += 3
	if p.IsResponse() {
		p.ErrorCode = ErrorCode(body[i])
		i++
	}
	if i < len(body) {
		p.Payload = append([]byte(nil), body[i:]...)
	}
	return p, nil
}

// Checksum returns 0xFF minus the low byte of the sum of b.
// For V2 frames b starts at the flags byte, not the device id; V2 firmware
// checks the sum that way.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return 0xFF - sum
}
