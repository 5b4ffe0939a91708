// Package tdma implements the slot-aligned transmit/receive engine
// (spec.md §4.2): it drives the controller's Pull/OnFrame contract
// against a PHYChannel and an IQTransport on the cadence a frame's slot
// boundaries dictate.
//
// Purpose:     Give every node a precise, hardware-clock-aligned moment
//              to burst its slot's packets and a precise moment to
//              capture the samples of every slot, including its own,
//              demodulating each capture on a fixed-size worker pool.
//
// Description: Mirrors dragonradio's MAC loop: one goroutine computes
//              the wait to the next transmit slot boundary and issues a
//              single timed burst; a second goroutine computes the
//              next slot boundary for receive, arms a timed capture,
//              and round-robins the completed buffer to one of
//              RxThreadPoolSize demodulator workers, blocking on that
//              worker's previous buffer if it is still busy.
package tdma

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/drexelwireless/smartlink/internal/arq"
	"github.com/drexelwireless/smartlink/internal/mcs"
	"github.com/drexelwireless/smartlink/internal/phy"
	"github.com/drexelwireless/smartlink/internal/radio"
	"github.com/drexelwireless/smartlink/internal/transport"
)

// Clock is the minimal time source the engine needs; *clock.Clock
// satisfies it directly.
type Clock interface {
	Now() float64
}

// Logger is the minimal printf-style interface the engine logs
// through; *log.Logger from charmbracelet/log satisfies it directly.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}

// Config holds the TDMA frame parameters from spec.md §3: frame size,
// derived slot size, inter-slot guard, the per-slot packet cap, and the
// receive-side demodulator pool size.
type Config struct {
	// Self is this node's rank within the frame (1-based, per spec.md
	// §4.2's "(node_id - 1) * slot_size") and also its radio address.
	Self radio.NodeId

	// NumPeers is the size of the ordered peer set sharing the frame
	// (|peers|), used to derive SlotSize when it is zero.
	NumPeers int

	FrameSize time.Duration
	SlotSize  time.Duration // zero means FrameSize / NumPeers
	PadSize   time.Duration

	PacketsPerSlot   int
	RxThreadPoolSize int

	// PaddedBytes is the reserved-space length DecodePayload must skip,
	// matching the sender's EncodePayload paddedBytes.
	PaddedBytes int

	// HeaderMCS is the fixed, maximally robust scheme every on-air
	// header is modulated with, independent of the per-packet payload
	// scheme selected by the MCS chooser.
	HeaderMCS mcs.Scheme
	// PayloadMCS maps a packet's MCSIdx to the modem scheme the
	// modulator should use for its payload.
	PayloadMCS mcs.Table
}

func (c Config) slotSize() time.Duration {
	if c.SlotSize > 0 {
		return c.SlotSize
	}
	return c.FrameSize / time.Duration(c.NumPeers)
}

func (c Config) schemeFor(idx radio.MCSIndex) mcs.Scheme {
	if int(idx) < 0 || int(idx) >= len(c.PayloadMCS) {
		return c.HeaderMCS
	}
	return c.PayloadMCS[idx]
}

// Keyer asserts and releases an external transmitter's push-to-talk
// line around a burst; internal/ptt's GPIOKeyer and NopKeyer both
// satisfy this.
type Keyer interface {
	Key() error
	Unkey() error
}

// BurstRecorder persists the raw samples of every burst sent and slot
// captured; internal/chanlog's BurstRecorder satisfies this.
type BurstRecorder interface {
	RecordTX(samples []complex64) error
	RecordRX(samples []complex64) error
}

// ChannelLogger persists one line per successfully demodulated packet;
// internal/chanlog's ChannelLog satisfies this. Unlike BurstRecorder,
// which dumps a whole slot's raw capture, this logs only the payload
// bytes of frames that actually passed CRC, reinterpreted as samples,
// giving an operator a compact per-packet channel record to replay
// offline.
type ChannelLogger interface {
	Record(at time.Time, samples []complex64) error
}

// Engine is the TDMA transmit/receive driver. It owns the TX and RX
// driver goroutines described in spec.md §5 and the fixed pool of
// demodulator workers; the controller, PHY channel, and transport are
// supplied externally and outlive the Engine.
type Engine struct {
	cfg     Config
	clk     Clock
	tr      transport.IQTransport
	ch      phy.Channel
	ctrl    *arq.Controller
	keyer   Keyer
	bursts  BurstRecorder
	chanLog ChannelLogger
	log     Logger

	missCount int
	missMu    sync.Mutex

	stop chan struct{}
	wg   sync.WaitGroup

	workers []phy.Demodulator
	busy    []chan struct{} // buffered cap 1: RX driver waits on this before redispatching
}

// New constructs an Engine. log, keyer, bursts, and chanLog may all be
// nil; a nil keyer keys nothing (loopback and simulated-channel runs),
// and nil recorders simply skip persisting their respective logs.
func New(cfg Config, clk Clock, tr transport.IQTransport, ch phy.Channel, ctrl *arq.Controller, keyer Keyer, bursts BurstRecorder, chanLog ChannelLogger, log Logger) *Engine {
	if log == nil {
		log = nopLogger{}
	}
	e := &Engine{
		cfg:     cfg,
		clk:     clk,
		tr:      tr,
		ch:      ch,
		ctrl:    ctrl,
		keyer:   keyer,
		bursts:  bursts,
		chanLog: chanLog,
		log:     log,
		stop:    make(chan struct{}),
	}
	e.workers = make([]phy.Demodulator, cfg.RxThreadPoolSize)
	e.busy = make([]chan struct{}, cfg.RxThreadPoolSize)
	for i := range e.workers {
		i := i
		e.workers[i] = ch.NewDemodulator(e.onFrame)
		e.busy[i] = make(chan struct{}, 1)
	}
	return e
}

// Start launches the TX driver, RX driver, and demod dispatch per
// spec.md §5's thread model. Cancelling ctx or calling Stop makes both
// driver loops return; only Stop waits for them and for the demod
// workers to finish, matching the two-phase drain spec.md §5 describes
// (callers should cancel ctx and then call Stop).
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(2)
	go e.transmitLoop(ctx)
	go e.receiveLoop(ctx)
}

// Stop performs the two-phase shutdown drain: it signals both driver
// loops to exit and waits for the RX driver to join every outstanding
// demod worker before returning. It does not touch the transport or
// PHY; tearing those down is the caller's responsibility once Stop
// returns (spec.md §5: "tear down the PHY and device" is the last
// step, after the timer thread and drivers have already stopped).
func (e *Engine) Stop() {
	close(e.stop)
	e.wg.Wait()
}

// MissCount returns how many slot boundaries this engine has missed
// (testable property row 5).
func (e *Engine) MissCount() int {
	e.missMu.Lock()
	defer e.missMu.Unlock()
	return e.missCount
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d < 0 {
		d = 0
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-e.stop:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// nextWait computes the TX driver's wait, in seconds, until this
// node's next slot boundary, and whether the boundary already passed
// (a MISS per spec.md §4.2). It is a pure function of the frame
// parameters so the MISS behavior is directly testable without a real
// clock or transport.
func nextWait(selfRank radio.NodeId, slotSize, frameSize, now float64) (wait float64, missed bool) {
	wait = float64(selfRank-1)*slotSize - math.Mod(now, frameSize)
	if wait < 0 {
		return wait + frameSize, true
	}
	return wait, false
}

func (e *Engine) transmitLoop(ctx context.Context) {
	defer e.wg.Done()

	frameSize := e.cfg.FrameSize.Seconds()
	slotSize := e.cfg.slotSize().Seconds()
	padSize := e.cfg.PadSize.Seconds()

	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		now := e.clk.Now()
		wait, missed := nextWait(e.cfg.Self, slotSize, frameSize, now)
		if missed {
			e.missMu.Lock()
			e.missCount++
			e.missMu.Unlock()
			e.log.Warnf("tdma: MISS slot boundary at t=%.6f, advancing one frame", now)
		}

		buf := e.assembleBurst()
		startTime := now + wait

		if len(buf) > 0 && e.keyer != nil {
			if err := e.keyer.Key(); err != nil {
				e.log.Warnf("tdma: ptt key failed: %v", err)
			}
		}

		if err := e.tr.StartBurst(); err != nil {
			e.log.Warnf("tdma: start burst failed: %v", err)
		} else {
			if len(buf) > 0 {
				if err := e.tr.Send(startTime, buf); err != nil {
					e.log.Warnf("tdma: timed send failed: %v", err)
				}
				if e.bursts != nil {
					if err := e.bursts.RecordTX(buf); err != nil {
						e.log.Warnf("tdma: recording tx burst: %v", err)
					}
				}
			}
			if err := e.tr.EndBurst(); err != nil {
				e.log.Warnf("tdma: end burst failed: %v", err)
			}
		}

		if len(buf) > 0 && e.keyer != nil {
			if err := e.keyer.Unkey(); err != nil {
				e.log.Warnf("tdma: ptt unkey failed: %v", err)
			}
		}

		sleepFor := wait + slotSize - padSize
		if !e.sleep(ctx, time.Duration(sleepFor*float64(time.Second))) {
			return
		}
	}
}

// assembleBurst pulls up to PacketsPerSlot packets through the
// controller, modulates each into IQ, and concatenates them into a
// single buffer, to be issued as one timed Send call (spec.md §4.2).
// The buffer carries no end-of-burst segment; the transmit loop's
// EndBurst call marks the end of the burst.
func (e *Engine) assembleBurst() []complex64 {
	var buf []complex64
	for i := 0; i < e.cfg.PacketsPerSlot; i++ {
		pkt := e.ctrl.Pull()
		if pkt == nil {
			break
		}
		buf = append(buf, e.modulate(pkt)...)
	}
	return buf
}

func (e *Engine) modulate(pkt *radio.Packet) []complex64 {
	mod := e.ch.NewModulator()
	mod.SetHeaderMCS(e.cfg.HeaderMCS)
	mod.SetPayloadMCS(e.cfg.schemeFor(pkt.MCSIdx))

	header := radio.Header{
		Dest:     pkt.Nexthop,
		Src:      e.cfg.Self,
		PacketID: pkt.PacketID,
		Flags:    pkt.Flags,
	}.Marshal()

	ehdr := pkt.Ehdr.Marshal()
	wirePayload := make([]byte, 0, len(ehdr)+len(pkt.Payload))
	wirePayload = append(wirePayload, ehdr[:]...)
	wirePayload = append(wirePayload, pkt.Payload...)

	mod.Assemble(header[:], wirePayload)

	out := make([]complex64, 0, mod.MaxModulatedSamples())
	scratch := make([]complex64, 4096)
	for {
		n, done := mod.ModulateSamples(scratch)
		out = append(out, scratch[:n]...)
		if done {
			break
		}
	}
	return out
}

// receiveLoop issues a timed capture for every slot boundary —
// including this node's own, since other nodes' bursts must be heard
// too — and round-robins each completed buffer to a fixed worker,
// blocking on that worker's previous dispatch if it has not finished.
func (e *Engine) receiveLoop(ctx context.Context) {
	defer e.wg.Done()

	frameSize := e.cfg.FrameSize.Seconds()
	slotSize := e.cfg.slotSize().Seconds()
	padSize := e.cfg.PadSize.Seconds()
	rxRate := e.tr.RxRate()
	samplesPerSlot := int(rxRate * (slotSize + 2*padSize))

	slotCounter := 0

	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		now := e.clk.Now()
		elapsed := math.Mod(now, frameSize)
		boundary := now - elapsed + slotSize*math.Ceil(elapsed/slotSize)

		if err := e.tr.RecvAt(boundary - padSize); err != nil {
			e.log.Warnf("tdma: recv_at failed: %v", err)
			if !e.sleep(ctx, time.Duration(slotSize*float64(time.Second))) {
				return
			}
			continue
		}

		buf := make([]complex64, 0, samplesPerSlot)
		chunk := make([]complex64, e.tr.MaxRecvSampsPerPacket())
		for len(buf) < samplesPerSlot {
			n, err := e.tr.Recv(chunk)
			if err != nil {
				e.log.Warnf("tdma: recv failed: %v", err)
				break
			}
			if n == 0 {
				break
			}
			buf = append(buf, chunk[:n]...)
		}

		if e.bursts != nil && len(buf) > 0 {
			if err := e.bursts.RecordRX(buf); err != nil {
				e.log.Warnf("tdma: recording rx slot: %v", err)
			}
		}

		worker := slotCounter % e.cfg.RxThreadPoolSize
		e.busy[worker] <- struct{}{}

		e.wg.Add(1)
		go func(w int, samples []complex64) {
			defer e.wg.Done()
			defer func() { <-e.busy[w] }()
			e.workers[w].DemodulateSamples(samples)
		}(worker, buf)

		slotCounter++
	}
}

// onFrame is the single per-demodulator trampoline: every worker's
// Demodulator is constructed bound to this exact closure, so recovered
// frames reach the controller without any process-wide callback state
// (spec.md §9's "avoid process-wide static state").
func (e *Engine) onFrame(headerValid, payloadValid bool, header, payload []byte, payloadLen int, stats phy.FramesyncStats) {
	if !headerValid || len(header) < radio.HeaderLen {
		return
	}
	var hb [radio.HeaderLen]byte
	copy(hb[:], header)
	hdr := radio.UnmarshalHeader(hb)

	var ehdr radio.ExtendedHeader
	var rest []byte
	if payloadValid && len(payload) >= radio.ExtendedHeaderLen {
		var eb [radio.ExtendedHeaderLen]byte
		copy(eb[:], payload)
		ehdr = radio.UnmarshalExtendedHeader(eb)
		if payloadLen > len(payload) {
			payloadLen = len(payload)
		}
		if payloadLen >= radio.ExtendedHeaderLen {
			rest = payload[radio.ExtendedHeaderLen:payloadLen]
		}
	} else if payloadValid {
		payloadValid = false
	}

	if payloadValid && e.chanLog != nil {
		if err := e.chanLog.Record(time.Now(), bytesToComplex(payload[:payloadLen])); err != nil {
			e.log.Warnf("tdma: channel log: %v", err)
		}
	}

	e.ctrl.OnFrame(headerValid, payloadValid, hdr, ehdr, rest, e.cfg.PaddedBytes, stats)
}

// bytesToComplex reinterprets a demodulated payload's bytes as one
// sample per byte (real = byte value, imaginary 0), the same convention
// internal/simchannel's honest serializer uses, so a channel log entry
// can be cross-referenced against a simulated run's own byte stream.
func bytesToComplex(b []byte) []complex64 {
	out := make([]complex64, len(b))
	for i, v := range b {
		out[i] = complex(float32(v), 0)
	}
	return out
}
