// Package transport declares the external contract to the radio
// front-end / device API (spec.md §6's IQTransport): timed send/recv of
// IQ sample buffers, rate queries, and packet-size ceilings. The
// front-end's RF and driver internals are out of scope for this module
// (spec.md §1); only this boundary is.
package transport

// IQTransport is the boundary between the TDMA engine and a radio
// front-end (real or simulated). Times passed to RecvAt/Send are in
// the same units as Now, i.e. whatever clock.Source this transport
// exposes (see internal/clock) — typically the front-end's own
// hardware counter.
type IQTransport interface {
	// Now returns the front-end's current time, in seconds.
	Now() float64

	TxRate() float64
	RxRate() float64
	MaxSendSampsPerPacket() int
	MaxRecvSampsPerPacket() int

	// RecvAt arms a timed receive starting at the given front-end time.
	RecvAt(when float64) error
	// Recv copies the next available samples, at most len(buf), into
	// buf and returns how many were copied. The transports in
	// internal/simchannel do not wait for samples: they return 0 at
	// once when none have arrived, which the TDMA engine treats as the
	// end of the slot's capture.
	Recv(buf []complex64) (n int, err error)

	StartBurst() error
	EndBurst() error
	// Send issues one timed transmission of buf starting at the given
	// front-end time. Must be called between StartBurst and EndBurst.
	Send(when float64, buf []complex64) error
}
