// Package estimator implements the time-windowed estimators each
// SendWindow and RecvWindow keeps for its peer: exponential moving
// averages for EVM/RSSI, and a windowed packet-error-rate counter.
package estimator

import (
	"math"
	"sync"
	"time"
)

// Exponential is a time-windowed exponential moving average, used for
// the EVM and RSSI estimators. Its decay accounts for the elapsed time
// between samples rather than assuming a fixed sample rate, since
// frames from a given peer do not arrive at a fixed cadence.
type Exponential struct {
	mu           sync.Mutex
	timeConstant float64 // seconds
	value        float64
	have         bool
	lastUpdate   float64
}

// NewExponential returns an Exponential estimator with the given decay
// time constant.
func NewExponential(timeConstant time.Duration) *Exponential {
	return &Exponential{timeConstant: timeConstant.Seconds()}
}

// Update folds sample, observed at time now, into the estimate.
func (e *Exponential) Update(now, sample float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.have {
		e.value = sample
		e.have = true
		e.lastUpdate = now
		return
	}

	dt := now - e.lastUpdate
	if dt < 0 {
		dt = 0
	}
	alpha := 1 - math.Exp(-dt/e.timeConstant)
	e.value += alpha * (sample - e.value)
	e.lastUpdate = now
}

// Value returns the current estimate, or 0 if no sample has ever been
// recorded.
func (e *Exponential) Value() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Valid reports whether at least one sample has been recorded.
func (e *Exponential) Valid() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.have
}

type perEvent struct {
	t    float64
	lost bool
}

// PacketErrorRate is a sliding time-window estimator of the fraction of
// transmissions that were lost, i.e. (losses) / (acks + losses) over
// the window's horizon. Short and long horizons are two independently
// configured instances.
type PacketErrorRate struct {
	mu     sync.Mutex
	window float64 // seconds
	events []perEvent
}

// NewPacketErrorRate returns a PacketErrorRate over the given time
// horizon.
func NewPacketErrorRate(window time.Duration) *PacketErrorRate {
	return &PacketErrorRate{window: window.Seconds()}
}

// Record logs a single ack (lost=false) or loss (lost=true) outcome at
// time now.
func (p *PacketErrorRate) Record(now float64, lost bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, perEvent{t: now, lost: lost})
	p.evictLocked(now)
}

func (p *PacketErrorRate) evictLocked(now float64) {
	cutoff := now - p.window
	i := 0
	for i < len(p.events) && p.events[i].t < cutoff {
		i++
	}
	if i > 0 {
		p.events = append([]perEvent(nil), p.events[i:]...)
	}
}

// Value returns the current PER: losses divided by total outcomes
// recorded within the window, or 0 if the window is empty.
func (p *PacketErrorRate) Value(now float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictLocked(now)
	if len(p.events) == 0 {
		return 0
	}
	losses := 0
	for _, e := range p.events {
		if e.lost {
			losses++
		}
	}
	return float64(losses) / float64(len(p.events))
}

// Link bundles the short- and long-horizon PER, EVM, and RSSI
// estimators a SendWindow or RecvWindow keeps for its peer.
type Link struct {
	ShortPER  *PacketErrorRate
	LongPER   *PacketErrorRate
	ShortEVM  *Exponential
	LongEVM   *Exponential
	ShortRSSI *Exponential
	LongRSSI  *Exponential
}

// Horizons configures the short/long time windows used to build a new
// Link.
type Horizons struct {
	ShortPER  time.Duration
	LongPER   time.Duration
	ShortEVM  time.Duration
	LongEVM   time.Duration
	ShortRSSI time.Duration
	LongRSSI  time.Duration
}

// NewLink constructs a Link with estimators sized per h.
func NewLink(h Horizons) *Link {
	return &Link{
		ShortPER:  NewPacketErrorRate(h.ShortPER),
		LongPER:   NewPacketErrorRate(h.LongPER),
		ShortEVM:  NewExponential(h.ShortEVM),
		LongEVM:   NewExponential(h.LongEVM),
		ShortRSSI: NewExponential(h.ShortRSSI),
		LongRSSI:  NewExponential(h.LongRSSI),
	}
}

// RecordQuality folds one frame's framesync stats into the EVM/RSSI
// estimators.
func (l *Link) RecordQuality(now float64, evmDB, rssiDB float64) {
	l.ShortEVM.Update(now, evmDB)
	l.LongEVM.Update(now, evmDB)
	l.ShortRSSI.Update(now, rssiDB)
	l.LongRSSI.Update(now, rssiDB)
}

// RecordOutcome folds one transmission's ack/loss outcome into the PER
// estimators.
func (l *Link) RecordOutcome(now float64, lost bool) {
	l.ShortPER.Record(now, lost)
	l.LongPER.Record(now, lost)
}
