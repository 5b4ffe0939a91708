// Package phy declares the external contract to the OFDM modem: a
// modulator that assembles and modulates a packet, and a demodulator
// that recovers frames from a sample buffer and invokes a per-instance
// callback. The modem's DSP internals are out of scope for this
// module (spec.md §1); only this boundary is.
package phy

import "github.com/drexelwireless/smartlink/internal/mcs"

// FramesyncStats carries the signal-quality measurements the
// demodulator's frame synchronizer reports alongside each recovered
// frame.
type FramesyncStats struct {
	RSSI float64 // dB
	EVM  float64 // dB
}

// FrameCallback is invoked once per frame the demodulator recovers.
// headerValid/payloadValid report whether each FEC-protected portion
// passed its check; header/payload are only meaningful when their
// corresponding valid flag is true. payloadLen is the PHY-reported
// recovered length, which may differ from len(payload) due to padding.
type FrameCallback func(headerValid, payloadValid bool, header, payload []byte, payloadLen int, stats FramesyncStats)

// Modulator assembles a packet's header and payload bytes and produces
// modulated IQ samples from them.
type Modulator interface {
	// Assemble prepares header and payload bytes for modulation.
	Assemble(header, payload []byte)
	// ModulateSamples writes up to len(out) samples into out, returning
	// how many were written and whether the modulator has no more
	// samples to emit for the assembled frame.
	ModulateSamples(out []complex64) (n int, done bool)
	// MaxModulatedSamples bounds how many samples Assemble's frame will
	// produce in total, for buffer sizing.
	MaxModulatedSamples() int
	SetHeaderMCS(s mcs.Scheme)
	SetPayloadMCS(s mcs.Scheme)
}

// Demodulator recovers frames from a stream of IQ samples, invoking its
// bound FrameCallback once per recovered frame. There is exactly one
// Demodulator per TDMA receive worker (spec.md §4.2); it is never
// shared, so it carries no process-wide state and needs no external
// synchronization of its own.
type Demodulator interface {
	Reset()
	DemodulateSamples(iq []complex64)
}

// Channel is the PHYChannel contract: a factory for modulators and
// demodulators bound to a particular radio channel's modem
// configuration. Each NewDemodulator call returns an independent
// instance wired to its own callback — the "per-demodulator
// trampoline" that keeps frame delivery free of shared static state.
type Channel interface {
	NewModulator() Modulator
	NewDemodulator(cb FrameCallback) Demodulator
}
