package radio

import "encoding/binary"

// HeaderLen is the fixed size of the on-air Header, in bytes.
const HeaderLen = 8

// Flag bits, packed into Header.Flags / Packet.Flags.
const (
	FlagACK Flags = 1 << iota
	FlagNAK
	FlagBroadcast
)

// Flags is the packed ACK/NAK/BROADCAST bit field carried in both the
// on-air Header and the in-memory Packet.
type Flags uint8

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Header is the fixed-size, separately FEC-protected on-air record:
//
//	byte 0    destination id
//	byte 1    source id
//	bytes 2-3 packet id (big-endian)
//	byte 4    flags (bit 0 ACK, bit 1 NAK, bit 2 BROADCAST)
//	bytes 5-7 reserved, zero
//
// The per-flow ARQ sequence and echoed ack sequence are not carried
// here; they live in the ExtendedHeader prepended to the payload (see
// Packet), which is covered by the payload's own FEC rather than the
// header's.
type Header struct {
	Dest     NodeId
	Src      NodeId
	PacketID uint16
	Flags    Flags
}

// Marshal encodes h into the fixed 8-byte on-air layout.
func (h Header) Marshal() [HeaderLen]byte {
	var b [HeaderLen]byte
	b[0] = byte(h.Dest)
	b[1] = byte(h.Src)
	binary.BigEndian.PutUint16(b[2:4], h.PacketID)
	b[4] = byte(h.Flags)
	return b
}

// UnmarshalHeader decodes a fixed 8-byte on-air header. It never
// returns an error: malformed headers are the demodulator's concern
// (framesync header-valid flag), not this decoder's.
func UnmarshalHeader(b [HeaderLen]byte) Header {
	return Header{
		Dest:     NodeId(b[0]),
		Src:      NodeId(b[1]),
		PacketID: binary.BigEndian.Uint16(b[2:4]),
		Flags:    Flags(b[4]),
	}
}
