// Package radio defines the wire-level and in-memory packet records
// shared by the ARQ controller, the TDMA engine, and the PHY/transport
// boundary: node identifiers, sequence numbers, the mutable Packet
// record, and the fixed 8-byte on-air Header.
package radio

// NodeId identifies a node participating in the TDMA frame.
type NodeId uint8

// Broadcast is the reserved destination NodeId meaning "every peer in
// the frame".
const Broadcast NodeId = 255

// Seq is a sequence number ordering packets within a single
// (source -> destination) flow. Comparisons against a window are plain
// integer comparisons against base/max/ack, as in the original
// SmartController: the sequence space is large relative to any window
// size in use, so modular wraparound of Seq itself is not a concern in
// practice, only the `seq mod maxwin` slot indexing is modular.
type Seq uint32

// SlotIndex returns the window-slot array index for seq in a window of
// the given capacity.
func (s Seq) SlotIndex(capacity int) int {
	return int(uint32(s) % uint32(capacity))
}
