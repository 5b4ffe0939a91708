package arq

import (
	"sync"

	"github.com/drexelwireless/smartlink/internal/estimator"
	"github.com/drexelwireless/smartlink/internal/radio"
)

// RecvWindow holds one peer's inbound reassembly state: the next
// expected sequence (ack), the highest sequence seen (max), the
// out-of-order reorder buffer, and that peer's EVM/RSSI estimators as
// observed on frames received from it.
type RecvWindow struct {
	mu sync.Mutex

	peer radio.NodeId

	ack Seq
	max Seq
	win int

	slots []*radio.Packet

	link *estimator.Link

	// demodPER tracks our own demodulation failure rate on frames from
	// this peer. It exists only as a diagnostic counterpart to
	// SendWindow's PER (which drives MCS selection); nothing consumes
	// it for rate control, since MCS adaptation is keyed purely off ACK
	// bookkeeping on the send side.
	demodPER *estimator.PacketErrorRate

	// initialized marks that at least one data frame has arrived from
	// this peer; gates pendingAck so we never piggyback or synthesize
	// an ACK before there is anything real to acknowledge. ack/max
	// themselves start at the canonical 0, the same as a fresh
	// SendWindow's base/max — a flow's first assigned sequence is
	// always 0, regardless of which sequence actually arrives first.
	initialized bool

	lastSentAck    Seq
	lastSentAckSet bool
}

func newRecvWindow(peer radio.NodeId, win int, horizons estimator.Horizons) *RecvWindow {
	return &RecvWindow{
		peer:     peer,
		win:      win,
		slots:    make([]*radio.Packet, win),
		link:     estimator.NewLink(horizons),
		demodPER: estimator.NewPacketErrorRate(horizons.ShortPER),
	}
}

// pendingAck reports whether recvw.ack has advanced since the last
// value stamped onto an outgoing packet, i.e. whether there is new
// information worth piggybacking.
func (w *RecvWindow) pendingAck() bool {
	return w.initialized && (!w.lastSentAckSet || w.ack != w.lastSentAck)
}
