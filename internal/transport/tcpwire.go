package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// TCP adapter request op codes.
const (
	OpScan        byte = 0x00
	OpInit        byte = 0x01
	OpSetCallback byte = 0x02
	OpWrite       byte = 0x03
	OpFind        byte = 0x04
	OpEnd         byte = 0xFF
)

// TCP adapter reply op codes.
const (
	ReplyOK    byte = 0x00
	ReplyData  byte = 0x01
	ReplyError byte = 0xFF
)

// MaxTCPBody is the largest body a TCP adapter message can carry.
const MaxTCPBody = 0xFFFF

var errMissingTerminator = errors.New("transport: string missing terminator")

// TCPMessage is one message on a TCP adapter connection. Both directions use
// the layout op(1) seq(1) len(2, big-endian) body(len).
//
// Request bodies:
//
//	SCAN          timeout_ms(4)
//	INIT          address\0
//	SET_CALLBACK  characteristic\0
//	WRITE         characteristic\0 data
//	FIND          name\0 timeout_ms(4)
//	END           (empty)
//
// OK replies to SCAN carry count(1) then name\0 address\0 per toy; OK replies
// to FIND carry one name\0 address\0 pair. ERROR replies carry a message.
// DATA messages are unsolicited, use seq 0 and carry characteristic\0 data.
type TCPMessage struct {
	Op   byte
	Seq  byte
	Body []byte
}

// ReadTCPMessage reads one message from r.
func ReadTCPMessage(r io.Reader) (TCPMessage, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return TCPMessage{}, err
	}
	n := binary.BigEndian.Uint16(hdr[2:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return TCPMessage{}, fmt.Errorf("read body: %w", err)
	}
	return TCPMessage{Op: hdr[0], Seq: hdr[1], Body: body}, nil
}

// WriteTCPMessage writes m to w in a single Write call.
func WriteTCPMessage(w io.Writer, m TCPMessage) error {
	if len(m.Body) > MaxTCPBody {
		return fmt.Errorf("transport: body of %d bytes exceeds %d", len(m.Body), MaxTCPBody)
	}
	out := make([]byte, 0, 4+len(m.Body)) //nolint:mnd // header size
	out = append(out, m.Op, m.Seq)
	out = binary.BigEndian.AppendUint16(out, uint16(len(m.Body)))
	out = append(out, m.Body...)
	_, err := w.Write(out)
	return err
}

// AppendCString appends s and a NUL terminator.
func AppendCString(b []byte, s string) []byte {
	return append(append(b, s...), 0)
}

// CutCString splits a NUL-terminated string from the front of b.
func CutCString(b []byte) (string, []byte, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", nil, errMissingTerminator
	}
	return string(b[:i]), b[i+1:], nil
}

// EncodeAdvertisements builds a SCAN reply body.
func EncodeAdvertisements(ads []Advertisement) []byte {
	if len(ads) > 0xFF {
		ads = ads[:0xFF]
	}
	out := []byte{byte(len(ads))}
	for _, ad := range ads {
		out = AppendCString(out, ad.Name)
		out = AppendCString(out, ad.Address)
	}
	return out
}

// DecodeAdvertisements parses a SCAN reply body.
func DecodeAdvertisements(body []byte) ([]Advertisement, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("transport: empty scan reply")
	}
	n := int(body[0])
	rest := body[1:]
	ads := make([]Advertisement, 0, n)
	for range n {
		var ad Advertisement
		var err error
		if ad.Name, rest, err = CutCString(rest); err != nil {
			return nil, err
		}
		if ad.Address, rest, err = CutCString(rest); err != nil {
			return nil, err
		}
		ads = append(ads, ad)
	}
	return ads, nil
}
