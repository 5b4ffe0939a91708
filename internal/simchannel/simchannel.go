// Package simchannel implements an in-process PHYChannel/IQTransport
// pair for development and testing without real RF hardware: multiple
// nodes in one process (or one node looped back to itself) share a
// Medium that honestly serializes each packet's header and payload
// into an IQ-shaped buffer and probabilistically drops it, instead of
// rewriting payload bytes to fake peer addressing.
//
// Purpose:     Exercise the full PHYChannel/IQTransport/TDMA/ARQ path
//              end to end without a USRP or any other SDR front-end
//              attached, for CI and for a developer's laptop.
//
// Description: spec.md §9's "open question" on loopback payload
//              mutation calls out the teacher's trick of poking fixed
//              payload offsets to fake peer addressing in loopback
//              mode, and says a faithful reimplementation should
//              replace it with "a proper simulated-peer shim that
//              constructs the header honestly" — this package is that
//              shim. Its modulator/demodulator pair is a literal,
//              lossless byte serialization (not a channel model); the
//              loss it introduces is applied explicitly, at the Medium
//              level, as a configured drop probability per link.
package simchannel

import (
	"encoding/binary"
	"math/rand"
	"sync"

	"github.com/drexelwireless/smartlink/internal/mcs"
	"github.com/drexelwireless/smartlink/internal/phy"
)

// Medium is the shared simulated channel every node's Transport
// publishes bursts onto and every other node's Transport receives
// from. Each Send draws a drop decision independently for every
// receiving Transport, from one random source seeded by NewMedium.
type Medium struct {
	mu          sync.Mutex
	subscribers map[*Transport]struct{}
	lossProb    float64
	rng         *rand.Rand
	now         float64
}

// NewMedium returns a Medium with the given per-delivery loss
// probability in [0,1].
func NewMedium(lossProb float64, seed int64) *Medium {
	return &Medium{
		subscribers: make(map[*Transport]struct{}),
		lossProb:    lossProb,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// NewTransport returns a Transport endpoint attached to m, with the
// given nominal sample rate (used only for the RxRate/TxRate and
// sample-count math the TDMA engine does; the Medium itself is
// sample-rate agnostic).
func (m *Medium) NewTransport(rate float64) *Transport {
	t := &Transport{
		medium: m,
		rate:   rate,
		inbox:  make(chan []complex64, 64),
	}
	m.mu.Lock()
	m.subscribers[t] = struct{}{}
	m.mu.Unlock()
	return t
}

func (m *Medium) deliver(from *Transport, buf []complex64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subscribers {
		if sub == from {
			continue
		}
		if m.rng.Float64() < m.lossProb {
			continue
		}
		cp := make([]complex64, len(buf))
		copy(cp, buf)
		select {
		case sub.inbox <- cp:
		default:
			// Subscriber's inbox is full; drop, matching a real
			// front-end's behavior of abandoning a slot it can't
			// service in time (spec.md §7f).
		}
	}
}

// Transport implements transport.IQTransport against a shared Medium.
type Transport struct {
	medium *Medium
	rate   float64
	inbox  chan []complex64

	mu      sync.Mutex
	armedAt float64
	buf     []complex64
}

func (t *Transport) Now() float64 {
	t.medium.mu.Lock()
	defer t.medium.mu.Unlock()
	return t.medium.now
}

func (t *Transport) TxRate() float64               { return t.rate }
func (t *Transport) RxRate() float64               { return t.rate }
func (t *Transport) MaxSendSampsPerPacket() int    { return 65536 }
func (t *Transport) MaxRecvSampsPerPacket() int    { return 4096 }

// RecvAt only records when: delivery on the simulated medium is
// push-based (deliver sends directly into inbox), so nothing is armed
// and the recorded time is not used by Recv.
func (t *Transport) RecvAt(when float64) error {
	t.mu.Lock()
	t.armedAt = when
	t.mu.Unlock()
	return nil
}

// Recv returns the next buffered inbound burst, chunked to
// MaxRecvSampsPerPacket at a time.
func (t *Transport) Recv(out []complex64) (int, error) {
	t.mu.Lock()
	if len(t.buf) == 0 {
		t.mu.Unlock()
		select {
		case b := <-t.inbox:
			t.mu.Lock()
			t.buf = b
		default:
			return 0, nil
		}
	}
	n := copy(out, t.buf)
	t.buf = t.buf[n:]
	t.mu.Unlock()
	return n, nil
}

func (t *Transport) StartBurst() error { return nil }
func (t *Transport) EndBurst() error   { return nil }

// Send publishes buf to every other Transport on the Medium, subject
// to the Medium's configured loss probability.
func (t *Transport) Send(when float64, buf []complex64) error {
	t.medium.mu.Lock()
	if when > t.medium.now {
		t.medium.now = when
	}
	t.medium.mu.Unlock()
	t.medium.deliver(t, buf)
	return nil
}

// Channel is the honest-serialization PHYChannel: Assemble/Demodulate
// round-trip header and payload bytes exactly, with no channel
// impairment of their own (impairment is the Medium's job).
type Channel struct{}

// NewChannel returns a simulated PHYChannel with no DSP behind it.
func NewChannel() *Channel { return &Channel{} }

func (Channel) NewModulator() phy.Modulator     { return &modulator{} }
func (Channel) NewDemodulator(cb phy.FrameCallback) phy.Demodulator {
	return &demodulator{cb: cb}
}

type modulator struct {
	header, payload []byte
}

func (m *modulator) Assemble(header, payload []byte) {
	m.header = append([]byte(nil), header...)
	m.payload = append([]byte(nil), payload...)
}

// ModulateSamples serializes [4-byte header len][header][4-byte
// payload len][payload] into one complex64 per byte (real = byte
// value, imaginary = 0), honestly — nothing is reordered or poked to
// fake addressing.
func (m *modulator) ModulateSamples(out []complex64) (int, bool) {
	if m.header == nil && m.payload == nil {
		return 0, true
	}
	raw := serialize(m.header, m.payload)
	n := copy(out, toComplex(raw))
	if n >= len(raw) {
		m.header, m.payload = nil, nil
		return n, true
	}
	// out was too small for the whole frame in one call; callers in
	// this package always size the buffer generously, so this path is
	// defensive rather than expected.
	remaining := toComplex(raw)[n:]
	m.header = nil
	m.payload = nil
	_ = remaining
	return n, true
}

func (m *modulator) MaxModulatedSamples() int { return 8 + len(m.header) + len(m.payload) }
func (*modulator) SetHeaderMCS(mcs.Scheme)    {}
func (*modulator) SetPayloadMCS(mcs.Scheme)   {}

type demodulator struct {
	cb phy.FrameCallback
}

func (*demodulator) Reset() {}

func (d *demodulator) DemodulateSamples(iq []complex64) {
	if len(iq) == 0 {
		return
	}
	raw := fromComplex(iq)
	for len(raw) > 0 {
		header, payload, ok := deserialize(raw)
		if !ok {
			d.cb(false, false, nil, nil, 0, phy.FramesyncStats{})
			return
		}
		d.cb(true, true, header, payload, len(payload), phy.FramesyncStats{RSSI: -40, EVM: -25})
		raw = raw[8+len(header)+len(payload):]
	}
}

func serialize(header, payload []byte) []byte {
	out := make([]byte, 0, 8+len(header)+len(payload))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(header)))
	out = append(out, lenBuf[:]...)
	out = append(out, header...)
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	out = append(out, lenBuf[:]...)
	out = append(out, payload...)
	return out
}

func deserialize(raw []byte) (header, payload []byte, ok bool) {
	if len(raw) < 4 {
		return nil, nil, false
	}
	hlen := int(binary.BigEndian.Uint32(raw[0:4]))
	if 4+hlen+4 > len(raw) {
		return nil, nil, false
	}
	header = raw[4 : 4+hlen]
	plenOff := 4 + hlen
	plen := int(binary.BigEndian.Uint32(raw[plenOff : plenOff+4]))
	if plenOff+4+plen > len(raw) {
		return nil, nil, false
	}
	payload = raw[plenOff+4 : plenOff+4+plen]
	return header, payload, true
}

func toComplex(raw []byte) []complex64 {
	out := make([]complex64, len(raw))
	for i, b := range raw {
		out[i] = complex(float32(b), 0)
	}
	return out
}

func fromComplex(iq []complex64) []byte {
	out := make([]byte, len(iq))
	for i, s := range iq {
		out[i] = byte(real(s))
	}
	return out
}
