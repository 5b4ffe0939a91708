package radio

import "encoding/binary"

// ExtendedHeaderLen is the size, in bytes, of the ExtendedHeader as
// prepended to a Packet's payload on the wire.
const ExtendedHeaderLen = 6

// ExtendedHeader carries the flow's own forward sequence number, the
// echoed ACK sequence, and the flow's source/destination addresses. It
// is prepended to the payload rather than living in the fixed on-air
// Header, since only the link-layer endpoints (not digipeating
// intermediaries) need to parse it.
type ExtendedHeader struct {
	Seq Seq
	Ack Seq
	Src NodeId
	Dst NodeId
}

// Marshal encodes h into its 6-byte wire form: 2 bytes big-endian
// forward sequence (low 16 bits), 2 bytes big-endian ack sequence (low
// 16 bits), then source id, then destination id.
func (h ExtendedHeader) Marshal() [ExtendedHeaderLen]byte {
	var b [ExtendedHeaderLen]byte
	binary.BigEndian.PutUint16(b[0:2], uint16(h.Seq))
	binary.BigEndian.PutUint16(b[2:4], uint16(h.Ack))
	b[4] = byte(h.Src)
	b[5] = byte(h.Dst)
	return b
}

// UnmarshalExtendedHeader decodes the 6-byte extended header form.
func UnmarshalExtendedHeader(b [ExtendedHeaderLen]byte) ExtendedHeader {
	return ExtendedHeader{
		Seq: Seq(binary.BigEndian.Uint16(b[0:2])),
		Ack: Seq(binary.BigEndian.Uint16(b[2:4])),
		Src: NodeId(b[4]),
		Dst: NodeId(b[5]),
	}
}

// MCSIndex selects an entry from a peer's modulation/coding-scheme
// table; see the mcs package for the table itself.
type MCSIndex int

// Packet is the mutable, single-owner wire record that flows between
// the network-ingress queue, a SendWindow slot, the PHY, and the
// network-egress sink. Ownership transfers are moves: once a Packet
// crosses one of those boundaries, the sender must not retain it.
type Packet struct {
	Nexthop  NodeId
	Curhop   NodeId
	PacketID uint16
	Seq      Seq
	Flags    Flags
	MCSIdx   MCSIndex

	// Gain is the per-packet soft TX gain multiplier (linear, not dB),
	// copied from the destination Node's Node.SoftGain at enqueue time.
	Gain float32

	Ehdr ExtendedHeader

	Payload []byte
}

// IsControl reports whether p carries no payload — a pure control
// packet (e.g. a synthesized ACK), which pull() returns immediately
// without consulting the send window.
func (p *Packet) IsControl() bool {
	return len(p.Payload) == 0
}

// Clone returns a deep copy of p, safe to retain independently.
func (p *Packet) Clone() *Packet {
	c := *p
	if p.Payload != nil {
		c.Payload = append([]byte(nil), p.Payload...)
	}
	return &c
}
