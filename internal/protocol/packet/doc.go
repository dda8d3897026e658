// Package packet implements the wire framing used by Sphero-class toys.
//
// Two framings exist in the field:
//
//   - V2, spoken by every current toy (Mini, BOLT, BOLT+, R2-D2, R2-Q5, BB-9E, RVR)
//   - V1, spoken by the original Sphero and SPRK
//
// Both are exposed through the Codec interface. A Codec turns a Packet into
// wire bytes and parses at most one frame off the front of a buffer. The
// Decoder type wraps a Codec and handles the incremental reassembly needed
// when a transport delivers frames split across arbitrary chunks.
//
// # V2 frame layout
//
//	SOP(0x8D) flags [target] [source] did cid seq [err] payload... chk EOP(0xD8)
//
// The target byte is present when FlagHasTargetID is set, the source byte when
// FlagHasSourceID is set and the error byte only in responses. Every byte
// between SOP and EOP is escaped if it collides with SOP, EOP or ESC(0xAB):
// the collision is written as ESC followed by the byte with bits 0x88 cleared.
//
// The checksum is 0xFF minus the low byte of the sum of every unescaped byte
// from flags through the last payload byte.
//
// # V1 frame layout
//
//	command:  FF FF|FE did cid seq dlen payload... chk
//	response: FF FF mrsp seq dlen payload... chk
//	async:    FF FE id dlen_hi dlen_lo payload... chk
//
// dlen counts the payload plus the checksum. The checksum is the bitwise
// complement of the low byte of the sum from the byte after SOP2 through the
// last payload byte.
//
// # Thread Safety
//
// Codec values are stateless and safe for concurrent use. A Decoder is not;
// it belongs to the single reader path of one connection.
package packet
