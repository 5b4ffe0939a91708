package radio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// SlotIndex must always land inside [0, capacity) regardless of how far
// Seq has wrapped, since SendWindow/RecvWindow index their slots arrays
// with it directly.
func TestSlotIndexStaysInBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seq := Seq(rapid.Uint32().Draw(t, "seq"))
		capacity := rapid.IntRange(1, 4096).Draw(t, "capacity")

		idx := seq.SlotIndex(capacity)

		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, capacity)
	})
}

// Two sequences exactly one capacity apart must land on the same slot,
// the property a ring-buffered window relies on to reuse a slot once its
// previous occupant has been acked.
func TestSlotIndexIsPeriodicInCapacity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 4096).Draw(t, "capacity")
		seq := Seq(rapid.Uint32Range(0, uint32(1<<20)).Draw(t, "seq"))

		a := seq.SlotIndex(capacity)
		b := Seq(uint32(seq) + uint32(capacity)).SlotIndex(capacity)

		assert.Equal(t, a, b)
	})
}

func TestHeaderMarshalRoundTrips(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := Header{
			Dest:     NodeId(rapid.IntRange(0, 255).Draw(t, "dest")),
			Src:      NodeId(rapid.IntRange(0, 255).Draw(t, "src")),
			PacketID: uint16(rapid.IntRange(0, 65535).Draw(t, "packet_id")),
			Flags:    Flags(rapid.IntRange(0, 7).Draw(t, "flags")),
		}

		got := UnmarshalHeader(h.Marshal())

		assert.Equal(t, h, got)
	})
}
