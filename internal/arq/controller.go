package arq

import (
	"container/list"
	"sync"

	"github.com/drexelwireless/smartlink/internal/clock"
	"github.com/drexelwireless/smartlink/internal/neighborhood"
	"github.com/drexelwireless/smartlink/internal/phy"
	"github.com/drexelwireless/smartlink/internal/radio"
	"github.com/drexelwireless/smartlink/internal/timer"
)

// EgressSink receives datagrams the controller has reassembled
// in-order from a peer, for delivery to the network (spec.md §6's TUN
// write side).
type EgressSink interface {
	Deliver(src radio.NodeId, datagram []byte)
}

// Logger is the minimal printf-style interface the controller logs
// through; *log.Logger from charmbracelet/log satisfies it directly.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}

// Controller is the SmartController: it owns every peer's send and
// receive window, the network-ingress FIFO that Pull drains, and the
// retransmission/delayed-ACK timer queues that drive retries and
// piggybacked acknowledgements.
type Controller struct {
	self radio.NodeId
	cfg  Config
	clk  *clock.Clock
	nh   *neighborhood.Neighborhood
	out  EgressSink
	log  Logger

	retxTimers *timer.Queue[radio.NodeId]
	ackTimers  *timer.Queue[radio.NodeId]

	sendMu sync.Mutex
	send   map[radio.NodeId]*SendWindow

	recvMu sync.Mutex
	recv   map[radio.NodeId]*RecvWindow

	ingressMu sync.Mutex
	ingress   *list.List

	idMu         sync.Mutex
	nextPacketID uint16
}

// New constructs a Controller for self, driven by clk, recording peers
// in nh, and delivering reassembled datagrams to out. log may be nil.
func New(self radio.NodeId, cfg Config, clk *clock.Clock, nh *neighborhood.Neighborhood, out EgressSink, log Logger) *Controller {
	if log == nil {
		log = nopLogger{}
	}
	c := &Controller{
		self:    self,
		cfg:     cfg,
		clk:     clk,
		nh:      nh,
		out:     out,
		log:     log,
		send:    make(map[radio.NodeId]*SendWindow),
		recv:    make(map[radio.NodeId]*RecvWindow),
		ingress: list.New(),
	}
	c.retxTimers = timer.New[radio.NodeId](clk, c.onRetransmitTimer)
	c.ackTimers = timer.New[radio.NodeId](clk, c.onAckTimer)
	return c
}

// Stop tears down the controller's timer goroutines.
func (c *Controller) Stop() {
	c.retxTimers.Stop()
	c.ackTimers.Stop()
}

// Send admits a network datagram bound for dst onto the ingress FIFO,
// assigning it the destination flow's next forward sequence number
// (spec.md §3's send window "created on the first packet to a new
// peer, with base = max = 0"). A dst of radio.Broadcast is flagged
// broadcast and carries no ARQ sequence at all.
func (c *Controller) Send(dst radio.NodeId, datagram []byte, gain float32) {
	pkt := &radio.Packet{
		Nexthop: dst,
		Curhop:  c.self,
		Payload: radio.EncodePayload(datagram, 0),
		Gain:    gain,
	}

	c.idMu.Lock()
	pkt.PacketID = c.nextPacketID
	c.nextPacketID++
	c.idMu.Unlock()

	if dst == radio.Broadcast {
		pkt.Flags |= radio.FlagBroadcast
	} else {
		sendw := c.getSendWindow(dst)
		sendw.mu.Lock()
		pkt.Seq = sendw.nextSeq
		sendw.nextSeq++
		sendw.mu.Unlock()
	}
	pkt.Ehdr = radio.ExtendedHeader{Seq: pkt.Seq, Src: c.self, Dst: dst}

	c.pushBackIngress(pkt)
}

func (c *Controller) pushBackIngress(pkt *radio.Packet) {
	c.ingressMu.Lock()
	c.ingress.PushBack(pkt)
	c.ingressMu.Unlock()
}

func (c *Controller) pushFrontIngress(pkt *radio.Packet) {
	c.ingressMu.Lock()
	c.ingress.PushFront(pkt)
	c.ingressMu.Unlock()
}

func (c *Controller) popIngress() *radio.Packet {
	c.ingressMu.Lock()
	defer c.ingressMu.Unlock()
	front := c.ingress.Front()
	if front == nil {
		return nil
	}
	c.ingress.Remove(front)
	return front.Value.(*radio.Packet)
}

func (c *Controller) getSendWindow(peer radio.NodeId) *SendWindow {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	w, ok := c.send[peer]
	if !ok {
		w = newSendWindow(peer, c.cfg.SendMaxWin, c.cfg.Horizons, c.cfg.MCS, c.cfg.MCS.Seed+int64(peer))
		c.send[peer] = w
	}
	return w
}

func (c *Controller) maybeGetSendWindow(peer radio.NodeId) (*SendWindow, bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	w, ok := c.send[peer]
	return w, ok
}

func (c *Controller) getRecvWindow(peer radio.NodeId) *RecvWindow {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	w, ok := c.recv[peer]
	if !ok {
		w = newRecvWindow(peer, c.cfg.RecvWin, c.cfg.Horizons)
		c.recv[peer] = w
	}
	return w
}

func (c *Controller) maybeGetRecvWindow(peer radio.NodeId) (*RecvWindow, bool) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	w, ok := c.recv[peer]
	return w, ok
}

// Pull returns the next packet the TDMA engine should hand to the
// modulator for this slot, or nil if there is nothing to send.
//
// This is SmartController::pull (spec.md §4.3): it resolves the next
// ingress packet against the destination's send window (discarding
// stale sequences, slot-assigning in-window ones, buffering the rest
// in pending), then unconditionally piggybacks a pending ACK for that
// destination onto whatever it is about to return.
func (c *Controller) Pull() *radio.Packet {
	pkt := c.getPacket()
	if pkt == nil {
		return nil
	}

	dst := pkt.Nexthop
	if recvw, ok := c.maybeGetRecvWindow(dst); ok {
		recvw.mu.Lock()
		if recvw.pendingAck() {
			pkt.Flags |= radio.FlagACK
			pkt.Ehdr.Ack = recvw.ack
			recvw.lastSentAck = recvw.ack
			recvw.lastSentAckSet = true
			recvw.mu.Unlock()
			c.ackTimers.Cancel(dst)
		} else {
			recvw.mu.Unlock()
		}
	}

	c.stampMCS(pkt)
	return pkt
}

func (c *Controller) stampMCS(pkt *radio.Packet) {
	switch {
	case pkt.Flags.Has(radio.FlagBroadcast):
		pkt.MCSIdx = c.cfg.MCS.BroadcastIdx
	case pkt.IsControl():
		pkt.MCSIdx = c.cfg.MCS.AckIdx
	default:
		pkt.MCSIdx = c.getSendWindow(pkt.Nexthop).mcs.Current()
	}
}

// getPacket implements steps 1-4 of pull(): drain ingress until a
// packet is actually ready to go out, discarding sequences the peer
// has already acked and buffering sequences beyond the open window.
func (c *Controller) getPacket() *radio.Packet {
	for {
		pkt := c.popIngress()
		if pkt == nil {
			return nil
		}
		if pkt.IsControl() || pkt.Flags.Has(radio.FlagBroadcast) {
			return pkt
		}

		dst := pkt.Nexthop
		sendw := c.getSendWindow(dst)
		sendw.mu.Lock()

		switch {
		case seqBefore(pkt.Seq, sendw.base):
			// Stale: the peer has already acked this sequence.
			sendw.mu.Unlock()
			continue

		case seqBefore(pkt.Seq, sendw.base+Seq(sendw.win)):
			idx := pkt.Seq.SlotIndex(sendw.maxw)
			sendw.slots[idx] = pkt
			if sendw.empty() || seqBefore(sendw.max, pkt.Seq) {
				sendw.max = pkt.Seq
			}
			if !c.retxTimers.Running(dst) {
				c.retxTimers.RunIn(dst, c.cfg.RetxDelay)
			}

			sendw.sentSinceEpoch++
			epochLen := c.cfg.MCS.DecisionEpochPackets
			if sendw.mcs.InFastPeriod(c.clk.Now()) && c.cfg.MCS.FastDecisionEpoch > 0 {
				epochLen = c.cfg.MCS.FastDecisionEpoch
			}
			fire := epochLen > 0 && sendw.sentSinceEpoch >= epochLen
			if fire {
				sendw.sentSinceEpoch = 0
			}
			sendw.mu.Unlock()

			if fire {
				c.runDecisionEpoch(dst, sendw)
			}
			return pkt

		default:
			sendw.pending.PushBack(pkt)
			sendw.mu.Unlock()
			continue
		}
	}
}

// seqBefore reports whether a precedes b, i.e. a < b, as a signed
// comparison so callers needn't special-case the empty-window
// sentinel; the sequence space is never large enough relative to any
// window's span for this to matter in practice (see radio.Seq).
func seqBefore(a, b Seq) bool {
	return int64(a) < int64(b)
}

func (c *Controller) runDecisionEpoch(peer radio.NodeId, sendw *SendWindow) {
	now := c.clk.Now()
	shortPER := sendw.link.ShortPER.Value(now)
	longPER := sendw.link.LongPER.Value(now)
	sendw.mcs.Decide(shortPER, longPER, c.cfg.MCS.UpThreshold, c.cfg.MCS.DownThreshold)

	sendw.mu.Lock()
	var unreachable bool
	if shortPER >= 1.0 {
		if sendw.perOneSince == 0 {
			sendw.perOneSince = now
		} else if c.cfg.MCS.UnreachableTimeout > 0 && now-sendw.perOneSince >= c.cfg.MCS.UnreachableTimeout.Seconds() {
			unreachable = true
		}
	} else {
		sendw.perOneSince = 0
	}
	sendw.mu.Unlock()

	if unreachable {
		c.markUnreachable(peer)
	}
}

func (c *Controller) markUnreachable(peer radio.NodeId) {
	if node := c.nh.Get(peer); node != nil {
		node.SetUnreachable(true)
	}
	sendw := c.getSendWindow(peer)
	sendw.mu.Lock()
	dropped := sendw.pending.Len()
	sendw.pending.Init()
	sendw.mu.Unlock()
	if dropped > 0 {
		c.log.Warnf("arq: peer %d marked unreachable, flushed %d pending packets", peer, dropped)
	}
}

// onRetransmitTimer fires when a send window's oldest outstanding
// packet's retransmission deadline elapses. It re-queues that packet
// at the front of ingress so the next Pull chooses it first; the timer
// is not auto-rearmed for a re-queued packet, since getPacket rearms it
// once that packet is accepted back into the window. When the packet
// is instead dropped after MaxRetransmissions, the timer is rearmed
// here if other packets are still outstanding.
func (c *Controller) onRetransmitTimer(peer radio.NodeId) {
	sendw, ok := c.maybeGetSendWindow(peer)
	if !ok {
		return
	}
	sendw.mu.Lock()
	if sendw.empty() {
		sendw.mu.Unlock()
		return
	}
	idx := sendw.base.SlotIndex(sendw.maxw)
	pkt := sendw.slots[idx]
	if pkt == nil {
		sendw.mu.Unlock()
		return
	}
	seq := sendw.base
	sendw.retries[seq]++
	drop := c.cfg.MaxRetransmissions > 0 && sendw.retries[seq] >= c.cfg.MaxRetransmissions
	if drop {
		delete(sendw.retries, seq)
		sendw.slots[idx] = nil
		sendw.base++
		if !sendw.empty() {
			c.retxTimers.RunIn(peer, c.cfg.RetxDelay)
		}
	}
	sendw.mu.Unlock()

	sendw.link.RecordOutcome(c.clk.Now(), true)

	if drop {
		c.markUnreachable(peer)
		return
	}
	c.pushFrontIngress(pkt.Clone())
}

// onAckTimer fires when a receive window's delayed-ACK deadline
// elapses without a data packet of our own going out to piggyback it
// on; it synthesizes a zero-payload control packet carrying the ACK.
func (c *Controller) onAckTimer(peer radio.NodeId) {
	recvw, ok := c.maybeGetRecvWindow(peer)
	if !ok {
		return
	}
	recvw.mu.Lock()
	if !recvw.pendingAck() {
		recvw.mu.Unlock()
		return
	}
	ack := recvw.ack
	recvw.lastSentAck = ack
	recvw.lastSentAckSet = true
	recvw.mu.Unlock()

	c.pushFrontIngress(&radio.Packet{
		Nexthop: peer,
		Curhop:  c.self,
		Flags:   radio.FlagACK,
		Ehdr:    radio.ExtendedHeader{Ack: ack, Src: c.self, Dst: peer},
	})
}

// SignalDiscontinuity responds to an externally detected environment
// change (spec.md §4.5) by resetting peer's MCS distribution to
// uniform and entering a fast-adjustment period.
func (c *Controller) SignalDiscontinuity(peer radio.NodeId) {
	sendw := c.getSendWindow(peer)
	sendw.mcs.ResetUniform(c.clk.Now(), c.cfg.MCS.FastAdjustmentPeriod)
}

// OnFrame is SmartController::received (spec.md §4.4): it validates
// and routes a demodulated frame, updating link estimators, ARQ
// bookkeeping, and delivering any reassembled datagram to the egress
// sink.
func (c *Controller) OnFrame(headerValid, payloadValid bool, header radio.Header, ehdr radio.ExtendedHeader, payload []byte, paddedBytes int, stats phy.FramesyncStats) {
	if !headerValid {
		return
	}
	if header.Dest != c.self && !header.Flags.Has(radio.FlagBroadcast) {
		return
	}

	now := c.clk.Now()
	src := header.Src

	if sendw, ok := c.maybeGetSendWindow(src); ok {
		sendw.link.RecordQuality(now, stats.EVM, stats.RSSI)
	}
	recvw := c.getRecvWindow(src)
	recvw.link.RecordQuality(now, stats.EVM, stats.RSSI)

	switch {
	case header.Flags.Has(radio.FlagACK):
		c.handleAck(src, ehdr.Ack, now)
	case header.Flags.Has(radio.FlagNAK):
		c.handleNak(src, ehdr.Ack)
	}

	if len(payload) == 0 {
		return
	}
	if !payloadValid {
		recvw.demodPER.Record(now, true)
		return
	}
	recvw.demodPER.Record(now, false)

	datagram, ok := radio.DecodePayload(payload, paddedBytes)
	if !ok {
		return
	}

	c.deliverInOrder(recvw, src, ehdr.Seq, datagram)
}

func (c *Controller) handleAck(src radio.NodeId, ack Seq, now float64) {
	sendw, ok := c.maybeGetSendWindow(src)
	if !ok {
		return
	}

	sendw.mu.Lock()
	if sendw.empty() || !seqBefore(sendw.base, ack) {
		sendw.mu.Unlock()
		return
	}

	acked := 0
	for s := sendw.base; seqBefore(s, ack); s++ {
		idx := s.SlotIndex(sendw.maxw)
		if sendw.slots[idx] != nil {
			acked++
			sendw.slots[idx] = nil
		}
		delete(sendw.retries, s)
	}
	sendw.base = ack
	sendw.perOneSince = 0
	if sendw.empty() {
		c.retxTimers.Cancel(src)
	}

	// Packets in pending already carry the sequence Send assigned them
	// when they first entered the network-ingress queue; replaying them
	// just gives getPacket another chance to slot-assign now that base
	// has advanced.
	var toReplay []*radio.Packet
	for sendw.pending.Len() > 0 {
		e := sendw.pending.Front()
		sendw.pending.Remove(e)
		toReplay = append(toReplay, e.Value.(*radio.Packet))
	}
	sendw.mu.Unlock()

	for i := 0; i < acked; i++ {
		sendw.link.RecordOutcome(now, false)
	}
	for _, pkt := range toReplay {
		c.pushFrontIngress(pkt)
	}
}

func (c *Controller) handleNak(src radio.NodeId, seq Seq) {
	sendw, ok := c.maybeGetSendWindow(src)
	if !ok {
		return
	}
	sendw.mu.Lock()
	if sendw.empty() || seqBefore(seq, sendw.base) || seqBefore(sendw.max, seq) {
		sendw.mu.Unlock()
		return
	}
	idx := seq.SlotIndex(sendw.maxw)
	pkt := sendw.slots[idx]
	sendw.mu.Unlock()
	if pkt != nil {
		c.pushFrontIngress(pkt.Clone())
	}
}

// deliverInOrder implements steps 9-13 of onFrame: duplicate/old and
// out-of-window sequences are dropped, in-order data is delivered
// immediately along with any now-contiguous buffered successors, and
// everything else goes into the reorder slots until its turn comes.
func (c *Controller) deliverInOrder(recvw *RecvWindow, src radio.NodeId, seq Seq, datagram []byte) {
	recvw.mu.Lock()

	recvw.initialized = true

	var toDeliver [][]byte
	rearmAck := false

	switch {
	case seqBefore(seq, recvw.ack):
		// Duplicate: the peer evidently missed our prior ACK.
		rearmAck = true

	case seqBefore(recvw.ack+Seq(recvw.win)-1, seq):
		// Out of window: drop silently.

	default:
		if seqBefore(recvw.max, seq) {
			recvw.max = seq
		}
		if seq == recvw.ack {
			toDeliver = append(toDeliver, datagram)
			recvw.ack++
			for {
				idx := recvw.ack.SlotIndex(recvw.win)
				buffered := recvw.slots[idx]
				if buffered == nil || buffered.Seq != recvw.ack {
					break
				}
				toDeliver = append(toDeliver, buffered.Payload)
				recvw.slots[idx] = nil
				recvw.ack++
			}
		} else {
			idx := seq.SlotIndex(recvw.win)
			recvw.slots[idx] = &radio.Packet{Seq: seq, Payload: datagram}
		}
		rearmAck = true
	}

	recvw.mu.Unlock()

	for _, dg := range toDeliver {
		c.out.Deliver(src, dg)
	}
	if rearmAck && !c.ackTimers.Running(src) {
		c.ackTimers.RunIn(src, c.cfg.AckDelay)
	}
}
