package packet

import (
	"errors"
	"testing"
)

func mustEncode(t *testing.T, c Codec, p Packet) []byte {
	t.Helper()
	b, err := c.Encode(p)
	if err != nil {
		t.Fatalf("Encode(%v) error = %v", p, err)
	}
	return b
}

func TestDecoderByteAtATime(t *testing.T) {
	want := Packet{Flags: FlagIsResponse, DeviceID: 0x16, CommandID: 0x07, Sequence: 0xAB, Payload: []byte{0x8D, 0x01}}
	wire := mustEncode(t, V2{}, want)

	d := NewDecoder(V2{})
	var got []Packet
	for i, b := range wire {
		pkts, errs := d.Feed([]byte{b})
		if len(errs) != 0 {
			t.Fatalf("Feed byte %d: errs = %v", i, errs)
		}
		got = append(got, pkts...)
		if i < len(wire)-1 && len(pkts) != 0 {
			t.Fatalf("Feed byte %d: frame emitted early", i)
		}
	}
	if len(got) != 1 || !samePacket(got[0], want) {
		t.Fatalf("decoded %v, want [%v]", got, want)
	}
	if d.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", d.Buffered())
	}
}

func TestDecoderKeepsOrderAcrossChunks(t *testing.T) {
	var stream []byte
	var want []Packet
	for seq := byte(0); seq < 5; seq++ {
		p := Packet{Flags: FlagResetsInactivityTimeout, DeviceID: 0x18, CommandID: 0x02, Sequence: seq, Payload: []byte{seq, 0xD8}}
		want = append(want, p)
		stream = append(stream, mustEncode(t, V2{}, p)...)
	}

	d := NewDecoder(V2{})
	var got []Packet
	for off := 0; off < len(stream); off += 7 {
		end := min(off+7, len(stream))
		pkts, errs := d.Feed(stream[off:end])
		if len(errs) != 0 {
			t.Fatalf("Feed errs = %v", errs)
		}
		got = append(got, pkts...)
	}

	if len(got) != len(want) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if !samePacket(got[i], want[i]) {
			t.Errorf("frame %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDecoderResynchronises(t *testing.T) {
	good := Packet{DeviceID: 0x13, CommandID: 0x19, Sequence: 4}
	bad := mustEncode(t, V2{}, Packet{DeviceID: 0x02, CommandID: 0x01, Sequence: 5, Payload: []byte{0x01, 0x2C}})
	bad[3] ^= 0x01

	stream := []byte{0x00, 0x42}
	stream = append(stream, bad...)
	stream = append(stream, mustEncode(t, V2{}, good)...)

	d := NewDecoder(V2{})
	pkts, errs := d.Feed(stream)
	if len(pkts) != 1 || !samePacket(pkts[0], good) {
		t.Errorf("packets = %v, want [%v]", pkts, good)
	}
	if len(errs) != 2 {
		t.Errorf("errs = %v, want garbage + checksum", errs)
	}
	for _, err := range errs {
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("err = %v, want ErrMalformedFrame", err)
		}
	}
	if d.Malformed() != 2 {
		t.Errorf("Malformed() = %d, want 2", d.Malformed())
	}
}

func TestDecoderV1Resync(t *testing.T) {
	resp := mustEncode(t, V1Device{}, Packet{Flags: FlagIsResponse, Sequence: 9, Payload: []byte{0x01}})
	async := mustEncode(t, V1Device{}, Packet{CommandID: 0x05})

	stream := append([]byte{0xFF, 0x00}, resp...)
	stream = append(stream, async...)

	d := NewDecoder(V1{})
	pkts, errs := d.Feed(stream)
	if len(pkts) != 2 {
		t.Fatalf("packets = %v, want 2", pkts)
	}
	if pkts[0].Sequence != 9 || !pkts[0].IsResponse() {
		t.Errorf("first = %v, want response seq 9", pkts[0])
	}
	if pkts[1].DeviceID != V1AsyncDeviceID || pkts[1].CommandID != 0x05 {
		t.Errorf("second = %v, want async 0x05", pkts[1])
	}
	if len(errs) == 0 {
		t.Errorf("expected the stray start byte to be reported")
	}
}

func TestDecoderOverflow(t *testing.T) {
	d := NewDecoder(V2{})
	chunk := make([]byte, DefaultMaxBuffered+1)
	chunk[0] = V2StartOfPacket

	pkts, errs := d.Feed(chunk)
	if len(pkts) != 0 {
		t.Errorf("packets = %v, want none", pkts)
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrMalformedFrame) {
		t.Errorf("errs = %v, want one ErrMalformedFrame", errs)
	}
	if d.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0 after overflow", d.Buffered())
	}
}
