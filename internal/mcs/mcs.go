// Package mcs implements the per-peer modulation/coding-scheme chooser:
// a categorical distribution over a peer's allowed MCS index range that
// shifts toward more robust (lower) or more efficient (higher) schemes
// as the peer's short- and long-horizon packet-error-rate estimates
// move past configured thresholds.
package mcs

import (
	"math/rand"
	"sync"
	"time"

	"github.com/drexelwireless/smartlink/internal/radio"
)

// Scheme is the four-tuple selecting checksum, inner FEC, outer FEC,
// and modulation that a PHYChannel uses to assemble a header or
// payload.
type Scheme struct {
	CRCScheme  string
	InnerFEC   string
	OuterFEC   string
	Modulation string
}

// Table is an ordered set of Schemes; a peer's MCSIndex selects one.
type Table []Scheme

// Chooser holds one peer's categorical distribution over
// [Min, Max] MCS indices and samples the next index to use after each
// decision epoch.
type Chooser struct {
	mu        sync.Mutex
	min, max  radio.MCSIndex
	alpha     float64
	probFloor float64
	probs     []float64
	current   radio.MCSIndex
	rng       *rand.Rand
	fastUntil float64
}

// NewChooser returns a Chooser over [min, max], uniformly distributed,
// starting at min.
func NewChooser(min, max radio.MCSIndex, alpha, probFloor float64, seed int64) *Chooser {
	n := int(max-min) + 1
	probs := make([]float64, n)
	for i := range probs {
		probs[i] = 1.0 / float64(n)
	}
	return &Chooser{
		min:       min,
		max:       max,
		alpha:     alpha,
		probFloor: probFloor,
		probs:     probs,
		current:   min,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Current returns the most recently sampled MCS index.
func (c *Chooser) Current() radio.MCSIndex {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Decide runs one decision epoch: it observes shortPER against
// [upThresh, downThresh], shifts the distribution accordingly, samples
// a new index, and returns it.
//
//   - shortPER > downThresh: shift mass toward indices <= current.
//   - shortPER < upThresh && longPER < upThresh: shift mass toward
//     indices >= current.
//   - otherwise: distribution unchanged, but still resampled.
func (c *Chooser) Decide(shortPER, longPER, upThresh, downThresh float64) radio.MCSIndex {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case shortPER > downThresh:
		c.shiftLocked(true)
	case shortPER < upThresh && longPER < upThresh:
		c.shiftLocked(false)
	}

	c.current = c.sampleLocked()
	return c.current
}

// shiftLocked shrinks, by a factor of alpha, the probability of every
// index on the far side of current from the target direction, floors
// each at probFloor, and renormalizes. Shrinking the complement of a
// region is equivalent to growing that region's share: after n
// consecutive shifts in the same direction the favored region's share
// grows by a factor of roughly alpha^-n relative to the shrunk region,
// matching "shifts ... by factor alpha" applied repeatedly.
func (c *Chooser) shiftLocked(towardLow bool) {
	for i := range c.probs {
		idx := c.min + radio.MCSIndex(i)
		affected := idx > c.current
		if !towardLow {
			affected = idx < c.current
		}
		if affected {
			c.probs[i] *= c.alpha
			if c.probs[i] < c.probFloor {
				c.probs[i] = c.probFloor
			}
		}
	}
	c.normalizeLocked()
}

func (c *Chooser) normalizeLocked() {
	sum := 0.0
	for _, p := range c.probs {
		sum += p
	}
	if sum <= 0 {
		for i := range c.probs {
			c.probs[i] = 1.0 / float64(len(c.probs))
		}
		return
	}
	for i := range c.probs {
		c.probs[i] /= sum
	}
}

func (c *Chooser) sampleLocked() radio.MCSIndex {
	r := c.rng.Float64()
	acc := 0.0
	for i, p := range c.probs {
		acc += p
		if r <= acc {
			return c.min + radio.MCSIndex(i)
		}
	}
	return c.max
}

// ResetUniform resets the distribution to uniform over [min, max] and
// begins a fast-adjustment period lasting fastPeriod from now, in
// response to an externally signaled environment discontinuity.
func (c *Chooser) ResetUniform(now float64, fastPeriod time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.probs {
		c.probs[i] = 1.0 / float64(len(c.probs))
	}
	c.fastUntil = now + fastPeriod.Seconds()
}

// InFastPeriod reports whether now falls within a fast-adjustment
// period begun by ResetUniform.
func (c *Chooser) InFastPeriod(now float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now < c.fastUntil
}

// ProbabilityOf returns the chooser's current probability mass on idx,
// for tests and diagnostics.
func (c *Chooser) ProbabilityOf(idx radio.MCSIndex) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < c.min || idx > c.max {
		return 0
	}
	return c.probs[idx-c.min]
}
