package packet

import (
	"errors"
	"fmt"
)

// DefaultMaxBuffered bounds the bytes a Decoder holds while waiting for the
// rest of a frame.
const DefaultMaxBuffered = 4096

// Decoder reassembles frames from arbitrarily split chunks.
//
// Frames are returned strictly in arrival order. Malformed frames are
// discarded and reported so the caller can log them; the stream then
// resynchronises on the next start-of-packet.
type Decoder struct {
	codec       Codec
	buf         []byte
	maxBuffered int
	malformed   uint64
}

// NewDecoder creates a Decoder for codec.
func NewDecoder(codec Codec) *Decoder {
	return &Decoder{codec: codec, maxBuffered: DefaultMaxBuffered}
}

// Feed appends chunk to the internal buffer and returns every complete frame
// now available, together with one error per discarded run of bytes.
func (d *Decoder) Feed(chunk []byte) ([]Packet, []error) {
	d.buf = append(d.buf, chunk...)

	var (
		packets []Packet
		errs    []error
		off     int
	)
	for off < len(d.buf) {
		p, n, err := d.codec.Decode(d.buf[off:])
		if errors.Is(err, ErrIncompleteFrame) {
			break
		}
		if n <= 0 {
			// Codec contract violation; never spin.
			n = 1
		}
		off += n
		if err != nil {
			d.malformed++
			errs = append(errs, err)
			continue
		}
		packets = append(packets, p)
	}

	rest := copy(d.buf, d.buf[off:])
	d.buf = d.buf[:rest]

	if len(d.buf) > d.maxBuffered {
		d.malformed++
		errs = append(errs, fmt.Errorf("%w: %d buffered bytes without a complete frame", ErrMalformedFrame, len(d.buf)))
		d.buf = d.buf[:0]
	}
	return packets, errs
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Malformed returns the number of discarded byte runs since creation.
func (d *Decoder) Malformed() uint64 {
	return d.malformed
}

// Reset drops any partial frame, e.g. after a reconnect.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}
