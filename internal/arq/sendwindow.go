// Package arq implements the selective-repeat ARQ controller
// (SmartController): per-peer send/receive windows, sequence numbers,
// retransmission and delayed-ACK scheduling, and link-quality-driven
// MCS selection.
package arq

import (
	"container/list"
	"sync"

	"github.com/drexelwireless/smartlink/internal/estimator"
	"github.com/drexelwireless/smartlink/internal/mcs"
	"github.com/drexelwireless/smartlink/internal/radio"
)

// SendWindow holds one peer's outstanding-transmission state: the
// slot array of packets awaiting ACK, the FIFO of packets that arrived
// from the network before there was room for them, and that peer's
// link-quality estimators and MCS chooser.
//
// Invariant: for all s in [base, max], slot s mod maxwin is either
// empty or holds a packet with sequence s; slots outside that range
// are empty.
type SendWindow struct {
	mu sync.Mutex

	peer radio.NodeId

	base Seq // oldest unacked sequence
	max  Seq // highest sequenced; base == max+1 means the window is empty
	win  int // current cwnd, <= maxwin
	maxw int // capacity of slots/retries

	slots []*radio.Packet
	// retries counts retransmissions per sequence number, keyed by Seq
	// rather than slot index so a requeued packet's count survives it
	// leaving and re-entering the same physical slot. Entries are
	// deleted once their sequence is acked or dropped.
	retries map[Seq]int
	pending *list.List // FIFO of *radio.Packet deferred until a slot opens

	link *estimator.Link
	mcs  *mcs.Chooser

	sentSinceEpoch int
	perOneSince    float64 // clock time short PER was first observed == 1.0; 0 means not currently streaking

	nextSeq Seq // next forward sequence number to assign to a newly enqueued packet
}

// Seq is an alias so this package reads naturally against spec.md's
// prose without a qualifier on every use.
type Seq = radio.Seq

// newSendWindow creates an empty window: base 0, max base-1 (which
// wraps to the top of Seq's range), so that base == max+1 holds for
// "no packets outstanding" without a separate empty flag.
func newSendWindow(peer radio.NodeId, maxwin int, horizons estimator.Horizons, mcsCfg MCSConfig, seed int64) *SendWindow {
	return &SendWindow{
		peer:    peer,
		base:    0,
		max:     Seq(0) - 1,
		win:     maxwin,
		maxw:    maxwin,
		slots:   make([]*radio.Packet, maxwin),
		retries: make(map[Seq]int),
		pending: list.New(),
		link:    estimator.NewLink(horizons),
		mcs:     mcs.NewChooser(mcsCfg.MinIdx, mcsCfg.MaxIdx, mcsCfg.Alpha, mcsCfg.ProbFloor, seed),
	}
}

// empty reports whether the window currently holds no outstanding
// packets.
func (w *SendWindow) empty() bool { return w.base == w.max+1 }
